package agents

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/circuitbreaker"
)

func newTestInvoker(t *testing.T) *HTTPInvoker {
	logger := zaptest.NewLogger(t)
	return NewHTTPInvoker(circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger), logger)
}

func workerStub(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Descriptor) {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	d := testDescriptor("w1", "Worker", "general_assistance")
	d.BackendEndpoint = srv.URL
	return srv, d
}

func TestInvokeSuccess(t *testing.T) {
	var gotReq executeRequest
	_, agent := workerStub(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/execute", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(executeResponse{
			Success:   true,
			Response:  "the answer",
			ToolsUsed: []string{"calculator"},
		})
	})

	inv := newTestInvoker(t)
	res, err := inv.Invoke(context.Background(), agent, "what is 2+2", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "the answer", res.Text)
	assert.Equal(t, []string{"calculator"}, res.ToolsUsed)
	assert.Equal(t, "w1", gotReq.AgentID)
	assert.Equal(t, "what is 2+2", gotReq.Prompt)
	assert.Equal(t, "sess-1", gotReq.SessionID)
}

func TestInvokeServerErrorIsRetryable(t *testing.T) {
	_, agent := workerStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend overloaded", http.StatusBadGateway)
	})

	inv := newTestInvoker(t)
	_, err := inv.Invoke(context.Background(), agent, "q", "s")
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.True(t, IsRetryable(err))
}

func TestInvokeClientErrorIsTerminal(t *testing.T) {
	_, agent := workerStub(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown agent", http.StatusNotFound)
	})

	inv := newTestInvoker(t)
	_, err := inv.Invoke(context.Background(), agent, "q", "s")
	require.Error(t, err)

	var ae *AgentError
	require.True(t, errors.As(err, &ae))
	assert.False(t, IsRetryable(err))
}

func TestInvokeWorkerReportedFailureIsTerminal(t *testing.T) {
	_, agent := workerStub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(executeResponse{Success: false, Error: "model refused"})
	})

	inv := newTestInvoker(t)
	_, err := inv.Invoke(context.Background(), agent, "q", "s")
	require.Error(t, err)

	var ae *AgentError
	require.True(t, errors.As(err, &ae))
	assert.Contains(t, ae.Message, "model refused")
	assert.False(t, IsRetryable(err))
}

func TestInvokeUnreachableBackend(t *testing.T) {
	agent := testDescriptor("w1", "Worker", "cap")
	agent.BackendEndpoint = "http://127.0.0.1:1" // nothing listens here

	inv := newTestInvoker(t)
	_, err := inv.Invoke(context.Background(), agent, "q", "s")
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
}

func TestInvokeBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	_, agent := workerStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	})

	logger := zaptest.NewLogger(t)
	cfg := circuitbreaker.DefaultConfig()
	cfg.FailureThreshold = 3
	inv := NewHTTPInvoker(circuitbreaker.NewRegistry(cfg, logger), logger)

	for i := 0; i < 3; i++ {
		_, err := inv.Invoke(context.Background(), agent, "q", "s")
		require.Error(t, err)
	}
	require.EqualValues(t, 3, calls.Load())

	// Breaker is now open: the backend must not be called again.
	_, err := inv.Invoke(context.Background(), agent, "q", "s")
	require.Error(t, err)
	assert.True(t, IsRetryable(err), "open breaker should surface as retryable transport error")
	assert.EqualValues(t, 3, calls.Load())
}

func TestInvokeMissingEndpoint(t *testing.T) {
	agent := testDescriptor("w1", "Worker", "cap")
	agent.BackendEndpoint = ""

	inv := newTestInvoker(t)
	_, err := inv.Invoke(context.Background(), agent, "q", "s")
	var ae *AgentError
	require.True(t, errors.As(err, &ae))
}
