package core

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/internal/domain/model"
)

func noopHandler(result string) Handler {
	return func(ctx context.Context, job *model.Job) (json.RawMessage, error) {
		return json.RawMessage(`"` + result + `"`), nil
	}
}

func TestHandlerRegistry_Register(t *testing.T) {
	registry := NewHandlerRegistry(slog.Default())

	require.NoError(t, registry.Register("send_digest", noopHandler("first")))
	assert.True(t, registry.Has("send_digest"))
	assert.False(t, registry.Has("unknown"))

	t.Run("empty work type rejected", func(t *testing.T) {
		assert.Error(t, registry.Register("", noopHandler("x")))
	})

	t.Run("nil handler rejected", func(t *testing.T) {
		assert.Error(t, registry.Register("send_digest", nil))
	})

	t.Run("last registration wins", func(t *testing.T) {
		require.NoError(t, registry.Register("send_digest", noopHandler("second")))

		h, err := registry.Resolve("send_digest")
		require.NoError(t, err)
		out, err := h(context.Background(), &model.Job{})
		require.NoError(t, err)
		assert.JSONEq(t, `"second"`, string(out))
	})
}

func TestHandlerRegistry_Resolve(t *testing.T) {
	registry := NewHandlerRegistry(slog.Default())
	require.NoError(t, registry.Register("agent_run", noopHandler("ok")))

	t.Run("known type", func(t *testing.T) {
		h, err := registry.Resolve("agent_run")
		require.NoError(t, err)
		assert.NotNil(t, h)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := registry.Resolve("missing")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no handler registered")
	})
}

func TestHandlerRegistry_WorkTypes(t *testing.T) {
	registry := NewHandlerRegistry(slog.Default())
	require.NoError(t, registry.Register("b_type", noopHandler("b")))
	require.NoError(t, registry.Register("a_type", noopHandler("a")))

	assert.Equal(t, []string{"a_type", "b_type"}, registry.WorkTypes())
}
