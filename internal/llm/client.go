// Package llm provides the reasoning-LLM client used for planning,
// context refinement and synthesis. Worker agents have their own
// invocation path and never go through this client.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/tracing"
)

// Client abstracts the reasoning LLM. Implementations must be safe for
// concurrent use.
type Client interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// Options tune a single completion call. Zero values fall back to the
// client defaults.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// HTTPClient talks to the LLM invocation service over JSON.
type HTTPClient struct {
	baseURL      string
	defaultModel string
	client       *http.Client
	logger       *zap.Logger
}

// NewHTTPClient builds a client for the given service base URL. The
// timeout is a transport-level ceiling; callers still pass deadline
// contexts per operation.
func NewHTTPClient(baseURL, defaultModel string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPClient{
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: timeout},
		logger:       logger,
	}
}

type completionRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

type completionResponse struct {
	Success bool   `json:"success"`
	Text    string `json:"text"`
	Error   string `json:"error,omitempty"`
}

// Complete sends the prompt and returns the raw completion text.
func (c *HTTPClient) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.defaultModel
	}
	body, err := json.Marshal(completionRequest{
		Model:       model,
		Prompt:      prompt,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	url := c.baseURL + "/v1/complete"
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		return "", fmt.Errorf("llm service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("llm service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if !out.Success {
		metrics.LLMRequests.WithLabelValues(model, "error").Inc()
		return "", fmt.Errorf("llm completion failed: %s", out.Error)
	}

	metrics.LLMRequests.WithLabelValues(model, "ok").Inc()
	metrics.LLMLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
	c.logger.Debug("LLM completion",
		zap.String("model", model),
		zap.Int("prompt_chars", len(prompt)),
		zap.Int("response_chars", len(out.Text)),
		zap.Duration("latency", time.Since(start)),
	)
	return out.Text, nil
}
