package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
	"github.com/steward-labs/steward/internal/testutil"
)

func newProposal(user string) *model.ProposeActionRequest {
	return &model.ProposeActionRequest{
		ActionName: "send_email",
		Args:       json.RawMessage(`{"to":"ops@example.com"}`),
		UserID:     user,
		Context:    json.RawMessage(`{"reason":"weekly report"}`),
	}
}

func TestPendingActionRepo_CreateAndGet(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewPendingActionRepo(db, PendingActionRepoConfig{})
		ctx := context.Background()

		expires := time.Now().Add(24 * time.Hour)
		action, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, expires)
		require.NoError(t, err)
		assert.NotEmpty(t, action.ID)
		assert.Equal(t, model.ActionStatusPending, action.Status)
		assert.Equal(t, model.TierRequiresApproval, action.Tier)
		assert.JSONEq(t, `{"to":"ops@example.com"}`, string(action.Args))
		assert.WithinDuration(t, expires, action.ExpiresAt, time.Second)
		assert.Nil(t, action.DecidedAt)

		got, err := repo.GetByID(ctx, action.ID)
		require.NoError(t, err)
		assert.Equal(t, action.ID, got.ID)

		t.Run("missing args rejected", func(t *testing.T) {
			bad := newProposal("u1")
			bad.Args = nil
			_, createErr := repo.Create(ctx, bad, model.TierRequiresApproval, expires)
			require.Error(t, createErr)
			assert.Contains(t, createErr.Error(), "args")
		})

		t.Run("invalid tier rejected", func(t *testing.T) {
			_, createErr := repo.Create(ctx, newProposal("u1"), model.ApprovalTier("whatever"), expires)
			require.Error(t, createErr)
			assert.Contains(t, createErr.Error(), "tier")
		})

		t.Run("unknown id", func(t *testing.T) {
			_, getErr := repo.GetByID(ctx, "00000000-0000-0000-0000-000000000000")
			assert.ErrorIs(t, getErr, core.ErrNotFound)
		})
	})
}

func TestPendingActionRepo_Resolve(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	t.Run("approve wins once", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewPendingActionRepo(db, PendingActionRepoConfig{})
			ctx := context.Background()

			action, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, time.Now().Add(time.Hour))
			require.NoError(t, err)

			resolved, err := repo.Resolve(ctx, core.ResolveActionParams{
				ID:     action.ID,
				Status: model.ActionStatusApproved,
			})
			require.NoError(t, err)
			assert.Equal(t, model.ActionStatusApproved, resolved.Status)
			assert.NotNil(t, resolved.DecidedAt)

			_, err = repo.Resolve(ctx, core.ResolveActionParams{
				ID:     action.ID,
				Status: model.ActionStatusRejected,
				Reason: testutil.StringPtr("changed my mind"),
			})
			assert.ErrorIs(t, err, core.ErrActionAlreadyResolved)
		})
	})

	t.Run("racing resolvers get exactly one winner", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewPendingActionRepo(db, PendingActionRepoConfig{})
			ctx := context.Background()

			action, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, time.Now().Add(time.Hour))
			require.NoError(t, err)

			runner := testutil.NewConcurrentTestRunner(t, db)
			errs := runner.RunConcurrent(
				func() error {
					_, resolveErr := repo.Resolve(ctx, core.ResolveActionParams{
						ID:     action.ID,
						Status: model.ActionStatusApproved,
					})
					return resolveErr
				},
				func() error {
					_, resolveErr := repo.Resolve(ctx, core.ResolveActionParams{
						ID:     action.ID,
						Status: model.ActionStatusRejected,
						Reason: testutil.StringPtr("no"),
					})
					return resolveErr
				},
			)

			var wins, conflicts int
			for _, resolveErr := range errs {
				switch {
				case resolveErr == nil:
					wins++
				case errors.Is(resolveErr, core.ErrActionAlreadyResolved):
					conflicts++
				default:
					t.Fatalf("unexpected resolve error: %v", resolveErr)
				}
			}
			assert.Equal(t, 1, wins)
			assert.Equal(t, 1, conflicts)
		})
	})

	t.Run("lapsed but unswept row refuses approval", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			tp := NewFixedTimeProvider(testutil.TestTime())
			repo := NewPendingActionRepo(db, PendingActionRepoConfig{TimeProvider: tp})
			ctx := context.Background()

			action, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, testutil.TestTime().Add(time.Minute))
			require.NoError(t, err)

			// Past the decision window; the sweeper has not run yet.
			tp.AddTime(10 * time.Minute)

			_, err = repo.Resolve(ctx, core.ResolveActionParams{
				ID:     action.ID,
				Status: model.ActionStatusApproved,
			})
			assert.ErrorIs(t, err, core.ErrActionAlreadyResolved)

			// Rejection carries no side effect and stays allowed.
			rejected, err := repo.Resolve(ctx, core.ResolveActionParams{
				ID:     action.ID,
				Status: model.ActionStatusRejected,
				Reason: testutil.StringPtr("too late anyway"),
			})
			require.NoError(t, err)
			assert.Equal(t, model.ActionStatusRejected, rejected.Status)
		})
	})

	t.Run("non-terminal status rejected", func(t *testing.T) {
		testutil.WithTestDB(t, func(db *sql.DB) {
			repo := NewPendingActionRepo(db, PendingActionRepoConfig{})

			_, err := repo.Resolve(context.Background(), core.ResolveActionParams{
				ID:     "irrelevant",
				Status: model.ActionStatusPending,
			})
			require.Error(t, err)
			assert.Contains(t, err.Error(), "terminal")
		})
	})
}

func TestPendingActionRepo_RecordExecutionResult(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		repo := NewPendingActionRepo(db, PendingActionRepoConfig{})
		ctx := context.Background()

		action, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, time.Now().Add(time.Hour))
		require.NoError(t, err)

		record := model.ExecutionRecord{
			Success:    true,
			Result:     json.RawMessage(`{"message_id":"m-1"}`),
			ExecutedAt: time.Now().UTC(),
		}

		t.Run("requires approved status", func(t *testing.T) {
			recordErr := repo.RecordExecutionResult(ctx, action.ID, record)
			assert.ErrorIs(t, recordErr, core.ErrNotFound)
		})

		_, err = repo.Resolve(ctx, core.ResolveActionParams{
			ID:     action.ID,
			Status: model.ActionStatusApproved,
		})
		require.NoError(t, err)

		require.NoError(t, repo.RecordExecutionResult(ctx, action.ID, record))

		got, err := repo.GetByID(ctx, action.ID)
		require.NoError(t, err)
		require.NotEmpty(t, got.ExecutionResult)

		var stored model.ExecutionRecord
		require.NoError(t, json.Unmarshal(got.ExecutionResult, &stored))
		assert.True(t, stored.Success)
		assert.JSONEq(t, `{"message_id":"m-1"}`, string(stored.Result))
	})
}

func TestPendingActionRepo_ListPendingByUser(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewPendingActionRepo(db, PendingActionRepoConfig{TimeProvider: tp})
		ctx := context.Background()

		live, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, testutil.TestTime().Add(time.Hour))
		require.NoError(t, err)
		_, err = repo.Create(ctx, newProposal("u2"), model.TierRequiresApproval, testutil.TestTime().Add(time.Hour))
		require.NoError(t, err)

		// Lapsed but not yet swept: must not show up in the pending list.
		_, err = repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, testutil.TestTime().Add(-time.Minute))
		require.NoError(t, err)

		actions, err := repo.ListPendingByUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, actions, 1)
		assert.Equal(t, live.ID, actions[0].ID)
	})
}

func TestPendingActionRepo_ExpireLapsed(t *testing.T) {
	testutil.SkipIfNoTestDB(t)

	testutil.WithTestDB(t, func(db *sql.DB) {
		tp := NewFixedTimeProvider(testutil.TestTime())
		repo := NewPendingActionRepo(db, PendingActionRepoConfig{TimeProvider: tp})
		ctx := context.Background()

		lapsed, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, testutil.TestTime().Add(time.Minute))
		require.NoError(t, err)
		fresh, err := repo.Create(ctx, newProposal("u1"), model.TierRequiresApproval, testutil.TestTime().Add(time.Hour))
		require.NoError(t, err)

		tp.AddTime(10 * time.Minute)

		expired, err := repo.ExpireLapsed(ctx, 100)
		require.NoError(t, err)
		require.Len(t, expired, 1)
		assert.Equal(t, lapsed.ID, expired[0].ID)
		assert.Equal(t, model.ActionStatusExpired, expired[0].Status)
		assert.NotNil(t, expired[0].DecidedAt)

		t.Run("expired row refuses late approval", func(t *testing.T) {
			_, resolveErr := repo.Resolve(ctx, core.ResolveActionParams{
				ID:     lapsed.ID,
				Status: model.ActionStatusApproved,
			})
			assert.ErrorIs(t, resolveErr, core.ErrActionAlreadyResolved)
		})

		t.Run("fresh row untouched", func(t *testing.T) {
			got, getErr := repo.GetByID(ctx, fresh.ID)
			require.NoError(t, getErr)
			assert.Equal(t, model.ActionStatusPending, got.Status)
		})
	})
}
