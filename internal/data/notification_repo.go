package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// NotificationRepo provides database operations for notification records.
type NotificationRepo struct {
	DB           *sql.DB
	timeProvider TimeProvider
}

// NewNotificationRepo creates a new NotificationRepo.
func NewNotificationRepo(db *sql.DB, tp TimeProvider) *NotificationRepo {
	if tp == nil {
		tp = &RealTimeProvider{}
	}
	return &NotificationRepo{DB: db, timeProvider: tp}
}

const notificationColumns = `
  id,
  user_id,
  category,
  title,
  body,
  metadata,
  read,
  created_at
`

// Create persists a notification record.
func (r *NotificationRepo) Create(ctx context.Context, req *model.CreateNotificationRequest) (*model.Notification, error) {
	if req == nil {
		return nil, errors.New("create notification request is required")
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var metadataArg any
	if len(req.Metadata) > 0 {
		metadataArg = []byte(req.Metadata)
	}

	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO notifications(user_id, category, title, body, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+notificationColumns,
		req.UserID,
		req.Category,
		req.Title,
		req.Body,
		metadataArg,
	)

	notification, err := scanNotification(row)
	if err != nil {
		return nil, fmt.Errorf("insert notification: %w", err)
	}
	return notification, nil
}

// GetByID retrieves a notification by its ID.
func (r *NotificationRepo) GetByID(ctx context.Context, id string) (*model.Notification, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE id = $1
	`, id)

	notification, err := scanNotification(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return notification, nil
}

// ListByUser returns a user's notifications, newest first.
func (r *NotificationRepo) ListByUser(ctx context.Context, opts core.NotificationListOptions) ([]*model.Notification, error) {
	if opts.UserID == "" {
		return nil, errors.New("user id is required")
	}

	limit := opts.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	query := `
		SELECT ` + notificationColumns + `
		FROM notifications
		WHERE user_id = $1`
	if opts.UnreadOnly {
		query += ` AND NOT read`
	}
	query += `
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.DB.QueryContext(ctx, query, opts.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		notification, scanErr := scanNotification(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scan notification: %w", scanErr)
		}
		notifications = append(notifications, notification)
	}
	if rowsErr := rows.Err(); rowsErr != nil {
		return nil, fmt.Errorf("list notifications: %w", rowsErr)
	}
	return notifications, nil
}

// MarkRead flags a notification as read.
func (r *NotificationRepo) MarkRead(ctx context.Context, id string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		UPDATE notifications
		SET read = TRUE
		WHERE id = $1 AND NOT read
	`, id)
	if err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark read rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

type notificationScanner interface {
	Scan(dest ...any) error
}

func scanNotification(scanner notificationScanner) (*model.Notification, error) {
	notification := &model.Notification{}
	var metadata []byte

	if err := scanner.Scan(
		&notification.ID,
		&notification.UserID,
		&notification.Category,
		&notification.Title,
		&notification.Body,
		&metadata,
		&notification.Read,
		&notification.CreatedAt,
	); err != nil {
		return nil, err
	}

	if len(metadata) > 0 {
		notification.Metadata = append(json.RawMessage(nil), metadata...)
	}
	return notification, nil
}

var _ core.NotificationRepository = (*NotificationRepo)(nil)
