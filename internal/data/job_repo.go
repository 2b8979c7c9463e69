// Package data provides the PostgreSQL and Redis implementations of the
// repository ports defined in internal/core.
package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/data/pgxutil"
	"github.com/steward-labs/steward/internal/domain/model"
)

// jobNotifyChannel is the single queue-wide pg_notify channel. Claiming is
// work-type agnostic, so one channel wakes every worker.
const jobNotifyChannel = "steward_job_added"

// JobRepoConfig holds configuration options for the job repository.
type JobRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// JobRepo provides database operations for job management.
type JobRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// NewJobRepo creates a new JobRepo instance with the given database connection and configuration.
func NewJobRepo(db *sql.DB, cfg JobRepoConfig) *JobRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "job_repo"),
	}
}

const jobColumns = `
  id,
  work_type,
  status,
  priority,
  payload,
  result,
  user_id,
  session_id,
  scheduled_at,
  claimed_by,
  claimed_at,
  started_at,
  completed_at,
  retry_count,
  max_retries,
  last_error,
  lease_expires_at,
  created_at,
  updated_at
`

// SQL used by ClaimNext to atomically claim the next eligible job. The CTE
// picks the single best row under FOR UPDATE SKIP LOCKED so concurrent
// claimants never block on, or double-claim, the same row.
const claimNextSQL = `
  WITH cte AS (
    SELECT id FROM jobs
    WHERE status = 'pending' AND scheduled_at <= $1
    ORDER BY priority DESC, scheduled_at ASC, created_at ASC
    LIMIT 1
    FOR UPDATE SKIP LOCKED
  )
  UPDATE jobs j
  SET
    status = 'claimed',
    claimed_by = $2,
    claimed_at = $3,
    lease_expires_at = $4,
    updated_at = $5
  FROM cte
  WHERE j.id = cte.id
  RETURNING j.id, j.work_type, j.status, j.priority, j.payload, j.result, j.user_id, j.session_id, j.scheduled_at, j.claimed_by, j.claimed_at, j.started_at, j.completed_at, j.retry_count, j.max_retries, j.last_error, j.lease_expires_at, j.created_at, j.updated_at`

// Create creates a new job in the database with the given parameters.
func (r *JobRepo) Create(ctx context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	if req == nil {
		return nil, errors.New("create job request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var job *model.Job
	txErr := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Fn: func(tx pgx.Tx) error {
			var insertErr error
			job, insertErr = r.insertJobInTx(ctx, tx, req)
			return insertErr
		},
	})
	if txErr != nil {
		return nil, txErr
	}
	return job, nil
}

// insertJobInTx inserts a job within a pgx.Tx, notifies listeners and returns
// the created job.
func (r *JobRepo) insertJobInTx(ctx context.Context, tx pgx.Tx, req *model.CreateJobRequest) (*model.Job, error) {
	scheduledAt := r.timeProvider.Now().UTC()
	if req.ScheduledAt != nil {
		scheduledAt = req.ScheduledAt.UTC()
	}

	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}

	rows, err := tx.Query(ctx, `
      INSERT INTO jobs(work_type, status, priority, payload, user_id, session_id, scheduled_at, max_retries)
      VALUES ($1, 'pending', $2, $3, $4, $5, $6, $7)
      RETURNING `+jobColumns,
		req.WorkType,
		req.Priority,
		[]byte(payload),
		req.UserID,
		req.SessionID,
		scheduledAt,
		req.MaxRetries,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job, collectErr := collectJobFromRows(rows)
	rows.Close()
	if collectErr != nil {
		return nil, fmt.Errorf("collect job: %w", collectErr)
	}

	if _, execErr := tx.Exec(ctx, `SELECT pg_notify($1::text, $2::text)`, jobNotifyChannel, job.ID); execErr != nil {
		return nil, fmt.Errorf("send job notification: %w", execErr)
	}
	return job, nil
}

// collectJobFromRows collects a single job from pgx rows.
func collectJobFromRows(rows pgx.Rows) (*model.Job, error) {
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, pgx.ErrNoRows
	}

	job, err := scanJobFromRow(rows)
	if err != nil {
		return nil, err
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, rowsErr
	}
	return job, nil
}

type jobRowScanner interface {
	Scan(dest ...any) error
}

type jobRowData struct {
	payload, result                []byte
	sessionID, claimedBy, lastErr  sql.NullString
	claimedAt, startedAt           sql.NullTime
	completedAt, leaseExpiresAt    sql.NullTime
}

func (d *jobRowData) scanInto(scanner jobRowScanner, job *model.Job) error {
	return scanner.Scan(
		&job.ID,
		&job.WorkType,
		&job.Status,
		&job.Priority,
		&d.payload,
		&d.result,
		&job.UserID,
		&d.sessionID,
		&job.ScheduledAt,
		&d.claimedBy,
		&d.claimedAt,
		&d.startedAt,
		&d.completedAt,
		&job.RetryCount,
		&job.MaxRetries,
		&d.lastErr,
		&d.leaseExpiresAt,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
}

func (d *jobRowData) apply(job *model.Job) {
	job.Payload = cloneJSON(d.payload)
	if len(d.result) > 0 {
		job.Result = append(json.RawMessage(nil), d.result...)
	}
	job.SessionID = cloneNullableString(d.sessionID)
	job.ClaimedBy = cloneNullableString(d.claimedBy)
	job.LastError = cloneNullableString(d.lastErr)
	job.ClaimedAt = cloneNullableTime(d.claimedAt)
	job.StartedAt = cloneNullableTime(d.startedAt)
	job.CompletedAt = cloneNullableTime(d.completedAt)
	job.LeaseExpiresAt = cloneNullableTime(d.leaseExpiresAt)
}

func scanJobFromRow(scanner jobRowScanner) (*model.Job, error) {
	job := &model.Job{}
	var data jobRowData
	if err := data.scanInto(scanner, job); err != nil {
		return nil, err
	}
	data.apply(job)
	return job, nil
}

func cloneJSON(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`{}`)
	}
	return append(json.RawMessage(nil), raw...)
}

func cloneNullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func cloneNullableTime(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// ClaimNext atomically claims the next eligible pending job for the worker.
func (r *JobRepo) ClaimNext(ctx context.Context, workerID string, leaseSeconds int) (*model.Job, error) {
	if workerID == "" {
		return nil, errors.New("worker id is required")
	}
	if leaseSeconds <= 0 {
		return nil, errors.New("leaseSeconds must be positive")
	}

	var job *model.Job
	err := pgxutil.WithPgxTx(ctx, r.DB, pgxutil.TxConfig{
		Opts: &sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
			ReadOnly:  false,
		},
		Fn: func(tx pgx.Tx) error {
			currentTime := r.timeProvider.Now()
			leaseExpiresAt := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

			rows, qerr := tx.Query(
				ctx,
				claimNextSQL,
				currentTime.UTC(),
				workerID,
				currentTime.UTC(),
				leaseExpiresAt.UTC(),
				currentTime.UTC(),
			)
			if qerr != nil {
				return fmt.Errorf("claim job: %w", qerr)
			}
			defer rows.Close()

			j, cerr := collectJobFromRows(rows)
			if errors.Is(cerr, pgx.ErrNoRows) {
				return model.ErrNoJobsAvailable
			}
			if cerr != nil {
				return fmt.Errorf("claim job: %w", cerr)
			}
			job = j
			return nil
		},
	})
	if err != nil {
		if errors.Is(err, model.ErrNoJobsAvailable) {
			return nil, model.ErrNoJobsAvailable
		}
		return nil, err
	}
	return job, nil
}

// MarkRunning moves a claimed job to running, guarded by the claiming worker.
func (r *JobRepo) MarkRunning(ctx context.Context, jobID, workerID string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'running',
		    started_at = COALESCE(started_at, $3),
		    updated_at = $3
		WHERE id = $1 AND status = 'claimed' AND claimed_by = $2
	`, jobID, workerID, currentTime)
	if err != nil {
		return false, fmt.Errorf("mark job running: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark running rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Heartbeat refreshes the lease on a claimed or running job.
func (r *JobRepo) Heartbeat(ctx context.Context, jobID string, leaseSeconds int) (bool, error) {
	if leaseSeconds <= 0 {
		return false, errors.New("leaseSeconds must be positive")
	}

	currentTime := r.timeProvider.Now().UTC()
	leaseExpiration := currentTime.Add(time.Duration(leaseSeconds) * time.Second)

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET lease_expires_at = $2,
		    updated_at = $3
		WHERE id = $1 AND status IN ('claimed', 'running')
	`, jobID, leaseExpiration, currentTime)
	if err != nil {
		return false, fmt.Errorf("heartbeat job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("heartbeat rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Complete marks a running job as completed with its output payload.
func (r *JobRepo) Complete(ctx context.Context, id string, result json.RawMessage) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	var resultArg any
	if len(result) > 0 {
		resultArg = []byte(result)
	}

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'completed',
		    result = $2,
		    completed_at = $3,
		    updated_at = $3,
		    lease_expires_at = NULL,
		    last_error = NULL
		WHERE id = $1 AND status = 'running'
	`, id, resultArg, currentTime)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Fail records a handler failure. A transient failure with retries left
// resets the job to pending at the caller-supplied next attempt time with
// retry_count bumped; a permanent failure or exhausted retries moves it to
// failed without consuming further retries.
func (r *JobRepo) Fail(ctx context.Context, params core.FailJobParams) (*model.Job, error) {
	if err := params.Kind.Validate(); err != nil {
		return nil, err
	}

	currentTime := r.timeProvider.Now()
	transient := params.Kind == model.FailureTransient

	nextAttempt := params.NextAttemptAt
	if nextAttempt.IsZero() {
		nextAttempt = currentTime
	}

	query := `
      UPDATE jobs
      SET
        last_error = $2,
        retry_count = CASE WHEN $3 THEN retry_count + 1 ELSE retry_count END,
        status = CASE WHEN $3 AND retry_count + 1 < max_retries THEN 'pending' ELSE 'failed' END,
        completed_at = CASE WHEN $3 AND retry_count + 1 < max_retries THEN NULL ELSE $4::timestamptz END,
        claimed_by = NULL,
        claimed_at = NULL,
        lease_expires_at = NULL,
        scheduled_at = CASE WHEN $3 AND retry_count + 1 < max_retries THEN $5::timestamptz
                            ELSE scheduled_at END,
        updated_at = $4
      WHERE id = $1 AND status = 'running'
      RETURNING ` + jobColumns

	row := r.DB.QueryRowContext(ctx, query,
		params.JobID,
		params.ErrMsg,
		transient,
		currentTime.UTC(),
		nextAttempt.UTC(),
	)
	job, err := scanJobFromRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fail job: %w", err)
	}

	if job.Status == model.JobStatusPending {
		// Retried jobs must wake a worker once their backoff elapses; the
		// notify is a hint, the scheduled_at check is the gate.
		if _, execErr := r.DB.ExecContext(ctx, `SELECT pg_notify($1::text, $2::text)`, jobNotifyChannel, job.ID); execErr != nil {
			r.logger.WarnContext(ctx, "notify after retry reschedule failed",
				"job_id", job.ID,
				"error", execErr,
			)
		}
	}
	return job, nil
}

// Cancel moves a job to cancelled only while it is still pending.
func (r *JobRepo) Cancel(ctx context.Context, id string) (bool, error) {
	currentTime := r.timeProvider.Now().UTC()

	res, err := r.DB.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled',
		    completed_at = $2,
		    updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, currentTime)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cancel rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// Stats returns statistics about jobs of the given work type in each state.
func (r *JobRepo) Stats(ctx context.Context, workType string) (*model.JobStats, error) {
	var s model.JobStats
	err := r.DB.QueryRowContext(ctx, `
  SELECT
    count(*) FILTER (WHERE status = 'pending')   AS pending,
    count(*) FILTER (WHERE status = 'claimed')   AS claimed,
    count(*) FILTER (WHERE status = 'running')   AS running,
    count(*) FILTER (WHERE status = 'completed') AS completed,
    count(*) FILTER (WHERE status = 'failed')    AS failed,
    count(*) FILTER (WHERE status = 'cancelled') AS cancelled
  FROM jobs
  WHERE work_type = $1
  `, workType).Scan(
		&s.Pending,
		&s.Claimed,
		&s.Running,
		&s.Completed,
		&s.Failed,
		&s.Cancelled,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}
	return &s, nil
}

// Advisory lock keys for RequeueExpiredLeases so overlapping sweeps from
// multiple processes do not double-scan the same rows.
const (
	advisoryLockRequeueMajor int64 = 2001
	advisoryLockRequeueMinor int64 = 1
)

// RequeueExpiredLeases resets claimed/running jobs whose lease lapsed back to
// pending so another worker can retry them. Returns the number of jobs requeued.
func (r *JobRepo) RequeueExpiredLeases(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}

	var rowsAffected int64
	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			var locked bool
			if err := tx.QueryRowContext(ctx,
				"SELECT pg_try_advisory_xact_lock($1::integer, $2::integer)",
				advisoryLockRequeueMajor, advisoryLockRequeueMinor,
			).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock: %w", err)
			}
			if !locked {
				rowsAffected = 0
				return nil
			}

			currentTime := r.timeProvider.Now()
			res, err := tx.ExecContext(ctx, `
          WITH expired AS (
            SELECT id FROM jobs
            WHERE status IN ('claimed', 'running')
              AND lease_expires_at IS NOT NULL
              AND lease_expires_at < $1
            LIMIT $2
            FOR UPDATE SKIP LOCKED
          )
          UPDATE jobs j
          SET status = 'pending',
              claimed_by = NULL,
              claimed_at = NULL,
              lease_expires_at = NULL,
              updated_at = $1
          FROM expired
          WHERE j.id = expired.id
        `, currentTime.UTC(), batchSize)
			if err != nil {
				return fmt.Errorf("requeue expired: %w", err)
			}
			ra, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected: %w", err)
			}
			rowsAffected = ra
			return nil
		},
	})
	if err != nil {
		return 0, err
	}
	return rowsAffected, nil
}

// PurgeTerminal deletes terminal jobs whose last update is older than the
// retention window. The SKIP LOCKED batch keeps the purge from blocking the
// claim path.
func (r *JobRepo) PurgeTerminal(ctx context.Context, retention time.Duration, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	cutoff := r.timeProvider.Now().UTC().Add(-retention)

	res, err := r.DB.ExecContext(ctx, `
      WITH old AS (
        SELECT id FROM jobs
        WHERE status IN ('completed', 'failed', 'cancelled')
          AND updated_at < $1
        LIMIT $2
        FOR UPDATE SKIP LOCKED
      )
      DELETE FROM jobs j
      USING old
      WHERE j.id = old.id
    `, cutoff, batchSize)
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return rowsAffected, nil
}

// WaitForNotification waits for a PostgreSQL notification indicating new jobs are available.
func (r *JobRepo) WaitForNotification(ctx context.Context) error {
	conn, err := r.DB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("get conn from pool: %w", err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			r.logger.Warn("close listen connection failed", "error", cerr)
		}
	}()

	quoted := pgx.Identifier{jobNotifyChannel}.Sanitize()

	if _, execErr := conn.ExecContext(ctx, "LISTEN "+quoted); execErr != nil {
		return fmt.Errorf("listen %s: %w", jobNotifyChannel, execErr)
	}
	defer func() {
		if _, execErr := conn.ExecContext(context.Background(), "UNLISTEN "+quoted); execErr != nil {
			r.logger.Warn("unlisten failed", "channel", jobNotifyChannel, "error", execErr)
		}
	}()

	return conn.Raw(func(dc any) error {
		sc, ok := dc.(*stdlib.Conn)
		if !ok {
			return errors.New("unexpected driver connection type; expected *stdlib.Conn")
		}
		_, notifyErr := sc.Conn().WaitForNotification(ctx)
		return notifyErr
	})
}

// GetByID retrieves a job by its ID.
func (r *JobRepo) GetByID(ctx context.Context, id string) (*model.Job, error) {
	var job *model.Job
	err := pgxutil.WithPgxConn(ctx, r.DB, func(pgxConn *pgx.Conn) error {
		rows, err := pgxConn.Query(ctx, `
			SELECT `+jobColumns+`
			FROM jobs
			WHERE id = $1
		`, id)
		if err != nil {
			return err
		}
		defer rows.Close()
		job, err = collectJobFromRows(rows)
		return err
	})

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

var _ core.JobRepository = (*JobRepo)(nil)
