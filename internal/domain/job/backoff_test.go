package job

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackoffPolicy(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		policy, err := NewBackoffPolicy(30*time.Second, time.Hour, 0.2)
		require.NoError(t, err)
		assert.NotNil(t, policy)
	})

	t.Run("zero base rejected", func(t *testing.T) {
		_, err := NewBackoffPolicy(0, time.Hour, 0)
		require.ErrorIs(t, err, ErrInvalidBackoff)
	})

	t.Run("max below base rejected", func(t *testing.T) {
		_, err := NewBackoffPolicy(time.Minute, time.Second, 0)
		require.ErrorIs(t, err, ErrInvalidBackoff)
	})
}

func TestBackoffPolicy_Delay(t *testing.T) {
	policy, err := NewBackoffPolicy(30*time.Second, time.Hour, 0)
	require.NoError(t, err)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{attempt: 1, want: 30 * time.Second},
		{attempt: 2, want: time.Minute},
		{attempt: 3, want: 2 * time.Minute},
		{attempt: 4, want: 4 * time.Minute},
		{attempt: 7, want: 32 * time.Minute},
		{attempt: 8, want: time.Hour},
		{attempt: 50, want: time.Hour},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, policy.Delay(tc.attempt), "attempt %d", tc.attempt)
	}

	t.Run("attempt below one treated as first", func(t *testing.T) {
		assert.Equal(t, 30*time.Second, policy.Delay(0))
		assert.Equal(t, 30*time.Second, policy.Delay(-3))
	})
}

func TestBackoffPolicy_DelayJitterBounds(t *testing.T) {
	policy, err := NewBackoffPolicy(30*time.Second, time.Hour, 0.2)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		d := policy.Delay(2)
		assert.GreaterOrEqual(t, d, time.Minute)
		assert.LessOrEqual(t, d, 72*time.Second)
	}
}

func TestBackoffPolicy_NextAttemptAt(t *testing.T) {
	policy, err := NewBackoffPolicy(30*time.Second, time.Hour, 0)
	require.NoError(t, err)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, now.Add(time.Minute), policy.NextAttemptAt(now, 2))
}
