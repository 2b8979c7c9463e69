package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steward-labs/steward/internal/core"
	"github.com/steward-labs/steward/internal/domain/model"
)

func TestExecutor_Execute(t *testing.T) {
	var got executeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sent":true}`))
	}))
	defer server.Close()

	executor, err := NewExecutor(Config{URL: server.URL})
	require.NoError(t, err)

	result, err := executor.Execute(context.Background(), "send_email", json.RawMessage(`{"to":"a@b.c"}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"sent":true}`, string(result))
	assert.Equal(t, "send_email", got.ActionName)
	assert.JSONEq(t, `{"to":"a@b.c"}`, string(got.Args))
}

func TestExecutor_NonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "downstream unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	executor, err := NewExecutor(Config{URL: server.URL})
	require.NoError(t, err)

	_, err = executor.Execute(context.Background(), "send_email", json.RawMessage(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestExecutor_RequiresURL(t *testing.T) {
	_, err := NewExecutor(Config{})
	require.Error(t, err)
}

func TestProposer_Propose(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var pctx core.ProposalContext
		require.NoError(t, json.NewDecoder(r.Body).Decode(&pctx))
		assert.Equal(t, "u1", pctx.UserID)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"action_name":"send_email","args":{"to":"a@b.c"},"user_id":"u1"}`))
	}))
	defer server.Close()

	proposer, err := NewProposer(Config{URL: server.URL})
	require.NoError(t, err)

	proposal, err := proposer.Propose(context.Background(), core.ProposalContext{
		UserID:    "u1",
		SessionID: "s1",
		Channel:   model.ChannelScheduled,
	})
	require.NoError(t, err)
	require.NotNil(t, proposal)
	assert.Equal(t, "send_email", proposal.ActionName)
}

func TestProposer_NoActionThisTurn(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	proposer, err := NewProposer(Config{URL: server.URL})
	require.NoError(t, err)

	proposal, err := proposer.Propose(context.Background(), core.ProposalContext{UserID: "u1"})
	require.NoError(t, err)
	assert.Nil(t, proposal)
}
