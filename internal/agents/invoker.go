package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/circuitbreaker"
	"github.com/maestrolab/maestro/internal/tracing"
)

// InvokeResult is a successful worker response.
type InvokeResult struct {
	Text      string
	ToolsUsed []string
}

// Invoker dispatches a prepared prompt to one worker agent. The prompt
// arrives fully assembled; the invoker adds nothing to it.
type Invoker interface {
	Invoke(ctx context.Context, agent *Descriptor, input, sessionID string) (*InvokeResult, error)
}

// HTTPInvoker posts prompts to each agent's backend endpoint. One circuit
// breaker per endpoint keeps a dead backend from stalling whole waves.
type HTTPInvoker struct {
	client   *http.Client
	breakers *circuitbreaker.Registry
	logger   *zap.Logger
}

// NewHTTPInvoker builds an invoker. The client timeout is a transport
// ceiling only; per-invocation deadlines come from the scheduler's context.
func NewHTTPInvoker(breakers *circuitbreaker.Registry, logger *zap.Logger) *HTTPInvoker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPInvoker{
		client:   &http.Client{},
		breakers: breakers,
		logger:   logger,
	}
}

type executeRequest struct {
	AgentID   string `json:"agent_id"`
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
	Model     string `json:"model,omitempty"`
}

type executeResponse struct {
	Success   bool     `json:"success"`
	Response  string   `json:"response"`
	ToolsUsed []string `json:"tools_used,omitempty"`
	Error     string   `json:"error,omitempty"`
}

// Invoke calls the worker and classifies failures: transport errors and
// 5xx responses are retryable, everything the worker itself reported is
// terminal.
func (inv *HTTPInvoker) Invoke(ctx context.Context, agent *Descriptor, input, sessionID string) (*InvokeResult, error) {
	endpoint := strings.TrimRight(agent.BackendEndpoint, "/")
	if endpoint == "" {
		return nil, &AgentError{AgentID: agent.AgentID, Message: "descriptor has no backend endpoint"}
	}

	ctx, span := tracing.StartAgentSpan(ctx, sessionID, agent.AgentID)
	defer span.End()

	body, err := json.Marshal(executeRequest{
		AgentID:   agent.AgentID,
		Prompt:    input,
		SessionID: sessionID,
		Model:     agent.Model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal execute request: %w", err)
	}

	var result *InvokeResult
	var agentErr error
	cb := inv.breakers.Get(endpoint)
	cbErr := cb.Execute(ctx, func() error {
		var callErr error
		result, callErr = inv.call(ctx, agent, endpoint, body)
		// Worker-reported failures are the backend doing its job;
		// only transport-level trouble should trip the breaker.
		var ae *AgentError
		if errors.As(callErr, &ae) {
			agentErr = callErr
			return nil
		}
		return callErr
	})

	switch {
	case errors.Is(cbErr, circuitbreaker.ErrOpen), errors.Is(cbErr, circuitbreaker.ErrTooManyRequests):
		return nil, &TransportError{AgentID: agent.AgentID, Err: cbErr}
	case cbErr != nil:
		return nil, cbErr
	case agentErr != nil:
		return nil, agentErr
	}
	return result, nil
}

func (inv *HTTPInvoker) call(ctx context.Context, agent *Descriptor, endpoint string, body []byte) (*InvokeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build execute request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := inv.client.Do(req)
	if err != nil {
		return nil, &TransportError{AgentID: agent.AgentID, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &TransportError{
			AgentID:    agent.AgentID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("worker returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))),
		}
	}
	if resp.StatusCode >= 400 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &AgentError{
			AgentID:    agent.AgentID,
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(snippet)),
		}
	}

	var out executeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransportError{AgentID: agent.AgentID, Err: fmt.Errorf("decode worker response: %w", err)}
	}
	if !out.Success {
		return nil, &AgentError{AgentID: agent.AgentID, Message: out.Error}
	}

	inv.logger.Debug("Worker invocation complete",
		zap.String("agent_id", agent.AgentID),
		zap.String("agent_name", agent.Name),
		zap.Duration("latency", time.Since(start)),
		zap.Int("response_chars", len(out.Response)),
	)
	return &InvokeResult{Text: out.Response, ToolsUsed: out.ToolsUsed}, nil
}
