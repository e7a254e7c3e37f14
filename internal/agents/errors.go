package agents

import (
	"errors"
	"fmt"
)

// ErrAgentNotFound is returned for lookups and unregisters of unknown ids.
var ErrAgentNotFound = errors.New("agent not found")

// ErrNoAgentsRegistered is returned when an orchestration starts against
// an empty store.
var ErrNoAgentsRegistered = errors.New("no agents registered")

// TransportError marks a failure to reach the worker or a 5xx from it.
// The scheduler retries these.
type TransportError struct {
	AgentID    string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("agent %s: transport error (status %d): %v", e.AgentID, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("agent %s: transport error: %v", e.AgentID, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AgentError marks a failure the worker itself reported (4xx status or a
// well-formed response with success=false). These are terminal; retrying
// would replay the same failure.
type AgentError struct {
	AgentID    string
	StatusCode int
	Message    string
}

func (e *AgentError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent %s: execution failed (status %d)", e.AgentID, e.StatusCode)
	}
	return fmt.Sprintf("agent %s: %s", e.AgentID, e.Message)
}

// IsRetryable reports whether the scheduler's retry policy applies to err.
func IsRetryable(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
