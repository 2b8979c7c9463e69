package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

// WorkTypeNotificationDelivery is the job work type used to redeliver
// notifications whose synchronous channel delivery failed.
const WorkTypeNotificationDelivery = "notification_delivery"

// NotificationDeliveryPayload is the payload of a notification_delivery job.
type NotificationDeliveryPayload struct {
	NotificationID string `json:"notification_id"`
	Adapter        string `json:"adapter,omitempty"`
}

// NotificationDispatcherOptions groups dependencies for NotificationDispatcher.
type NotificationDispatcherOptions struct {
	Notifications core.NotificationRepository // Required: persisted records
	Jobs          core.JobRepository          // Optional: redelivery queue
	Adapters      []core.ChannelAdapter       // Optional: delivery surfaces
	Logger        *slog.Logger                // Optional: structured logger
}

// NotificationDispatcher persists notification records and fans them out to
// the registered channel adapters. The persisted row is the source of truth:
// it is written before any delivery attempt, and a failed delivery never
// rolls it back. Failed deliveries are resubmitted through the job queue, so
// a user may see a notification more than once but never lose one.
type NotificationDispatcher struct {
	notifications core.NotificationRepository
	jobs          core.JobRepository
	adapters      map[string]core.ChannelAdapter
	logger        *slog.Logger
}

// NewNotificationDispatcher constructs a new NotificationDispatcher.
func NewNotificationDispatcher(opts NotificationDispatcherOptions) (*NotificationDispatcher, error) {
	if opts.Notifications == nil {
		return nil, errors.New("notification repository is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	adapters := make(map[string]core.ChannelAdapter, len(opts.Adapters))
	for _, adapter := range opts.Adapters {
		if adapter == nil {
			continue
		}
		if _, dup := adapters[adapter.Name()]; dup {
			return nil, fmt.Errorf("duplicate channel adapter %q", adapter.Name())
		}
		adapters[adapter.Name()] = adapter
	}

	return &NotificationDispatcher{
		notifications: opts.Notifications,
		jobs:          opts.Jobs,
		adapters:      adapters,
		logger:        logger.With("component", "notification_dispatcher"),
	}, nil
}

// Dispatch persists the notification and attempts delivery on every adapter.
// Delivery is best effort; failures are logged and re-enqueued as jobs.
func (d *NotificationDispatcher) Dispatch(
	ctx context.Context,
	req *model.CreateNotificationRequest,
) (*model.Notification, error) {
	notification, err := d.notifications.Create(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("persist notification: %w", err)
	}

	msg := messageFor(notification)
	for name, adapter := range d.adapters {
		if deliverErr := adapter.Deliver(ctx, notification.UserID, msg); deliverErr != nil {
			d.logger.WarnContext(ctx, "notification delivery failed",
				"notification_id", notification.ID,
				"adapter", name,
				"error", deliverErr,
			)
			d.enqueueRedelivery(ctx, notification, name)
		}
	}
	return notification, nil
}

// Redeliver retries delivery for a persisted notification. An empty adapter
// name fans out to every adapter. Used by the notification_delivery handler.
func (d *NotificationDispatcher) Redeliver(ctx context.Context, notificationID, adapterName string) error {
	notification, err := d.notifications.GetByID(ctx, notificationID)
	if err != nil {
		return fmt.Errorf("load notification %s: %w", notificationID, err)
	}

	msg := messageFor(notification)

	if adapterName != "" {
		adapter, ok := d.adapters[adapterName]
		if !ok {
			return fmt.Errorf("unknown channel adapter %q", adapterName)
		}
		return adapter.Deliver(ctx, notification.UserID, msg)
	}

	var firstErr error
	for _, adapter := range d.adapters {
		if deliverErr := adapter.Deliver(ctx, notification.UserID, msg); deliverErr != nil && firstErr == nil {
			firstErr = deliverErr
		}
	}
	return firstErr
}

// enqueueRedelivery submits a notification_delivery job. A queue failure is
// logged and dropped: the persisted record remains visible in listings.
func (d *NotificationDispatcher) enqueueRedelivery(
	ctx context.Context,
	notification *model.Notification,
	adapterName string,
) {
	if d.jobs == nil {
		return
	}

	payload, err := json.Marshal(NotificationDeliveryPayload{
		NotificationID: notification.ID,
		Adapter:        adapterName,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "marshal redelivery payload", "error", err)
		return
	}

	if _, err := d.jobs.Create(ctx, &model.CreateJobRequest{
		WorkType:   WorkTypeNotificationDelivery,
		Payload:    payload,
		UserID:     notification.UserID,
		MaxRetries: 5,
	}); err != nil {
		d.logger.ErrorContext(ctx, "enqueue notification redelivery",
			"notification_id", notification.ID,
			"error", err,
		)
	}
}

func messageFor(n *model.Notification) core.ChannelMessage {
	return core.ChannelMessage{
		NotificationID: n.ID,
		Category:       n.Category,
		Title:          n.Title,
		Body:           n.Body,
		Metadata:       n.Metadata,
	}
}
