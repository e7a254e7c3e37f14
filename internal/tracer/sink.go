package tracer

import "context"

// Sink persists completed traces. Implementations must tolerate being
// called from a single background goroutine with a bounded context.
type Sink interface {
	// Export writes one completed trace.
	Export(ctx context.Context, trace *ConversationTrace) error
	// Name identifies the sink in logs and metrics.
	Name() string
	// Close releases the sink's resources.
	Close() error
}
