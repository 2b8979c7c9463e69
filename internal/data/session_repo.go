package data

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// SessionRepo provides database operations for channel-scoped sessions.
type SessionRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
	logger       *slog.Logger
}

// SessionRepoConfig holds configuration options for the session repository.
type SessionRepoConfig struct {
	Logger       *slog.Logger
	TimeProvider TimeProvider
}

// NewSessionRepo creates a new SessionRepo.
func NewSessionRepo(db *sql.DB, cfg SessionRepoConfig) *SessionRepo {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &SessionRepo{
		DB:           db,
		timeProvider: tp,
		logger:       logger.With("component", "session_repo"),
	}
}

const sessionColumns = `
  id,
  session_key,
  channel,
  purpose_key,
  user_id,
  parent_session_id,
  parent_summary,
  is_active,
  last_used_at,
  deactivated_at,
  created_at
`

// Resolve returns the active session for the request's session key, creating
// it on first use and touching last_used_at on reuse. The partial unique
// index on active session keys makes the upsert race-safe: two concurrent
// first triggers for the same key converge on one row.
func (r *SessionRepo) Resolve(ctx context.Context, req *model.ResolveSessionRequest) (*model.Session, error) {
	if req == nil {
		return nil, errors.New("resolve session request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	sessionKey := model.SessionKey(req.Channel, req.UserID, req.PurposeKey)
	currentTime := r.timeProvider.Now().UTC()

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO sessions(session_key, channel, purpose_key, user_id, parent_session_id, parent_summary, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_key) WHERE is_active
		DO UPDATE SET last_used_at = EXCLUDED.last_used_at
		RETURNING `+sessionColumns,
		sessionKey,
		req.Channel,
		req.PurposeKey,
		req.UserID,
		req.ParentSessionID,
		req.ParentSummary,
		currentTime,
	)

	session, err := scanSession(row)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	return session, nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepo) GetByID(ctx context.Context, id string) (*model.Session, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = $1
	`, id)

	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// DeactivateIdle deactivates active sessions unused for longer than idleFor.
// A deactivated key frees the partial unique index slot, so the next trigger
// for the same channel/purpose pair starts a fresh session.
func (r *SessionRepo) DeactivateIdle(ctx context.Context, idleFor time.Duration, batchSize int) (int64, error) {
	if idleFor <= 0 {
		return 0, errors.New("idle window must be positive")
	}
	if batchSize <= 0 {
		batchSize = 100
	}

	currentTime := r.timeProvider.Now().UTC()
	cutoff := currentTime.Add(-idleFor)

	res, err := r.DB.ExecContext(ctx, `
		WITH idle AS (
			SELECT id FROM sessions
			WHERE is_active AND last_used_at < $1
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sessions s
		SET is_active = FALSE,
		    deactivated_at = $3
		FROM idle
		WHERE s.id = idle.id
	`, cutoff, batchSize, currentTime)
	if err != nil {
		return 0, fmt.Errorf("deactivate idle sessions: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("deactivate rows affected: %w", err)
	}
	return rowsAffected, nil
}

type sessionScanner interface {
	Scan(dest ...any) error
}

func scanSession(scanner sessionScanner) (*model.Session, error) {
	session := &model.Session{}
	var (
		parentID, parentSummary sql.NullString
		deactivatedAt           sql.NullTime
	)

	if err := scanner.Scan(
		&session.ID,
		&session.SessionKey,
		&session.Channel,
		&session.PurposeKey,
		&session.UserID,
		&parentID,
		&parentSummary,
		&session.IsActive,
		&session.LastUsedAt,
		&deactivatedAt,
		&session.CreatedAt,
	); err != nil {
		return nil, err
	}

	session.ParentSessionID = cloneNullableString(parentID)
	session.ParentSummary = cloneNullableString(parentSummary)
	session.DeactivatedAt = cloneNullableTime(deactivatedAt)
	return session, nil
}

var _ core.SessionRepository = (*SessionRepo)(nil)
