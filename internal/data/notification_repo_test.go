package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/testutil"
)

func TestNotificationRepo_CreateAndList(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewNotificationRepo(db, nil)
		ctx := context.Background()

		created, err := repo.Create(ctx, &model.CreateNotificationRequest{
			UserID:   "u1",
			Category: model.CategoryJobCompleted,
			Title:    "Digest sent",
			Body:     "Your daily digest went out.",
			Metadata: json.RawMessage(`{"job_id":"j-1"}`),
		})
		require.NoError(t, err)
		assert.NotEmpty(t, created.ID)
		assert.False(t, created.Read)

		_, err = repo.Create(ctx, &model.CreateNotificationRequest{
			UserID:   "u1",
			Category: model.CategoryApprovalRequested,
			Title:    "Approval needed",
			Body:     "send_email is waiting on you.",
		})
		require.NoError(t, err)

		_, err = repo.Create(ctx, &model.CreateNotificationRequest{
			UserID:   "u2",
			Category: model.CategoryJobFailed,
			Title:    "Job failed",
			Body:     "sync_calendar gave up.",
		})
		require.NoError(t, err)

		list, err := repo.ListByUser(ctx, core.NotificationListOptions{UserID: "u1"})
		require.NoError(t, err)
		assert.Len(t, list, 2)
		// Newest first.
		assert.Equal(t, model.CategoryApprovalRequested, list[0].Category)

		t.Run("invalid category rejected", func(t *testing.T) {
			_, createErr := repo.Create(ctx, &model.CreateNotificationRequest{
				UserID:   "u1",
				Category: "spam",
				Title:    "t",
				Body:     "b",
			})
			require.Error(t, createErr)
			assert.Contains(t, createErr.Error(), "category")
		})
	})
}

func TestNotificationRepo_MarkRead(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewNotificationRepo(db, nil)
		ctx := context.Background()

		created, err := repo.Create(ctx, &model.CreateNotificationRequest{
			UserID:   "u1",
			Category: model.CategoryActionExecuted,
			Title:    "Email sent",
			Body:     "send_email ran after your approval.",
		})
		require.NoError(t, err)

		ok, err := repo.MarkRead(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, ok)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.True(t, got.Read)

		t.Run("second mark is a no-op", func(t *testing.T) {
			ok, markErr := repo.MarkRead(ctx, created.ID)
			require.NoError(t, markErr)
			assert.False(t, ok)
		})

		t.Run("unread filter excludes it", func(t *testing.T) {
			unread, listErr := repo.ListByUser(ctx, core.NotificationListOptions{
				UserID:     "u1",
				UnreadOnly: true,
			})
			require.NoError(t, listErr)
			assert.Empty(t, unread)
		})
	})
}
