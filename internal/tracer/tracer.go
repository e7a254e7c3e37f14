// Package tracer records everything that happens during an orchestration
// session: lifecycle events, agent handoffs, context evolution, and
// aggregate statistics. Every event is also pushed to the streaming
// manager, and completed traces are exported to a sink asynchronously.
package tracer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/streaming"
)

// maxCompletedTraces bounds in-memory retention; the oldest completed
// trace is evicted first. Long-term history belongs to the sink.
const maxCompletedTraces = 1024

const exportQueueSize = 64

// ErrSessionExists is returned when StartTrace sees a duplicate session id.
var ErrSessionExists = errors.New("session already being traced")

type handoffRef struct {
	sessionID string
	index     int
}

type Option func(*Tracer)

// WithSink attaches a completed-trace exporter.
func WithSink(s Sink) Option {
	return func(t *Tracer) { t.sink = s }
}

// WithStream attaches the pub/sub manager events are mirrored to.
func WithStream(m *streaming.Manager) Option {
	return func(t *Tracer) { t.stream = m }
}

// WithEvictHook registers a callback invoked with the session id of every
// evicted completed trace.
func WithEvictHook(fn func(sessionID string)) Option {
	return func(t *Tracer) { t.onEvict = fn }
}

// WithMaxCompleted overrides the retention bound, for tests.
func WithMaxCompleted(n int) Option {
	return func(t *Tracer) {
		if n > 0 {
			t.maxCompleted = n
		}
	}
}

// Tracer is safe for concurrent use. One mutex guards all state; every
// operation is a short critical section with no I/O inside.
type Tracer struct {
	mu             sync.Mutex
	active         map[string]*ConversationTrace
	completed      map[string]*ConversationTrace
	completedOrder []string
	handoffs       map[string]handoffRef
	involved       map[string]map[string]bool

	totalOrchestrations int
	successful          int
	failed              int
	totalEvents         int64
	totalHandoffs       int64
	totalTransfers      int64
	avgExecSeconds      float64
	avgHandoffs         float64
	agentUsage          map[string]int
	strategyUsage       map[string]int

	maxCompleted int
	sink         Sink
	stream       *streaming.Manager
	onEvict      func(string)
	logger       *zap.Logger

	exportCh  chan *ConversationTrace
	exportWG  sync.WaitGroup
	closeOnce sync.Once
}

func New(logger *zap.Logger, opts ...Option) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracer{
		active:        make(map[string]*ConversationTrace),
		completed:     make(map[string]*ConversationTrace),
		handoffs:      make(map[string]handoffRef),
		involved:      make(map[string]map[string]bool),
		agentUsage:    make(map[string]int),
		strategyUsage: make(map[string]int),
		maxCompleted:  maxCompletedTraces,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.sink != nil {
		t.exportCh = make(chan *ConversationTrace, exportQueueSize)
		t.exportWG.Add(1)
		go t.exportLoop()
	}
	return t
}

// StartTrace opens the trace for a new session.
func (t *Tracer) StartTrace(sessionID, query string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.active[sessionID]; dup {
		return fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	t.active[sessionID] = &ConversationTrace{
		SessionID: sessionID,
		Query:     query,
		Status:    TraceActive,
		StartTime: time.Now(),
	}
	t.involved[sessionID] = make(map[string]bool)
	metrics.SessionsActive.Inc()
	return nil
}

// SetStrategy records the scheduling strategy once planning resolves it.
func (t *Tracer) SetStrategy(sessionID, strategy string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trace, ok := t.active[sessionID]; ok {
		trace.Strategy = strategy
	}
}

// LogEvent stamps and stores the event, then mirrors it to the stream.
// Events for unknown sessions are dropped.
func (t *Tracer) LogEvent(e Event) Event {
	t.mu.Lock()
	e = t.logEventLocked(e)
	t.mu.Unlock()

	t.publish(e)
	return e
}

// logEventLocked is the mutex-held core of LogEvent so handoff and
// transfer operations can emit events inside their own critical section.
func (t *Tracer) logEventLocked(e Event) Event {
	e.EventID = uuid.NewString()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	trace, ok := t.active[e.SessionID]
	if !ok {
		t.logger.Debug("Event for unknown session dropped", zap.String("session_id", e.SessionID), zap.String("event_type", string(e.EventType)))
		return e
	}
	trace.Events = append(trace.Events, e)
	t.totalEvents++
	metrics.EventsLogged.WithLabelValues(string(e.EventType)).Inc()
	return e
}

// RecordAgent adds the agent to the session's involved set, preserving
// first-use order.
func (t *Tracer) RecordAgent(sessionID, agentName string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	trace, ok := t.active[sessionID]
	if !ok {
		return
	}
	set := t.involved[sessionID]
	if set == nil || set[agentName] {
		return
	}
	set[agentName] = true
	trace.AgentsInvolved = append(trace.AgentsInvolved, agentName)
}

// StartHandoff opens a handoff record and emits agent_handoff_start.
// The returned id completes the handoff later.
func (t *Tracer) StartHandoff(sessionID, fromAgent, toAgent, contextTransferred, inputPrepared string) string {
	t.mu.Lock()
	trace, ok := t.active[sessionID]
	if !ok {
		t.mu.Unlock()
		return ""
	}

	handoffID := uuid.NewString()
	record := HandoffRecord{
		HandoffID:          handoffID,
		SessionID:          sessionID,
		FromAgent:          fromAgent,
		ToAgent:            toAgent,
		HandoffNumber:      len(trace.Handoffs) + 1,
		Status:             HandoffInProgress,
		StartTime:          time.Now(),
		ContextTransferred: contextTransferred,
		InputPrepared:      inputPrepared,
	}
	trace.Handoffs = append(trace.Handoffs, record)
	t.handoffs[handoffID] = handoffRef{sessionID: sessionID, index: len(trace.Handoffs) - 1}
	t.totalHandoffs++
	metrics.HandoffsStarted.Inc()

	e := t.logEventLocked(Event{
		SessionID: sessionID,
		EventType: EventHandoffStart,
		AgentID:   toAgent,
		Content:   fmt.Sprintf("handoff %d: %s -> %s", record.HandoffNumber, fromAgent, toAgent),
		Metadata: map[string]interface{}{
			"handoff_id":     handoffID,
			"handoff_number": record.HandoffNumber,
			"from_agent":     fromAgent,
			"to_agent":       toAgent,
		},
	})
	t.mu.Unlock()

	t.publish(e)
	return handoffID
}

// CompleteHandoff closes a handoff record. A nil failure marks it
// completed; context.DeadlineExceeded marks it timed out.
func (t *Tracer) CompleteHandoff(handoffID, output string, toolsUsed []string, failure error) {
	t.mu.Lock()
	ref, ok := t.handoffs[handoffID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(t.handoffs, handoffID)
	trace, ok := t.active[ref.sessionID]
	if !ok || ref.index >= len(trace.Handoffs) {
		t.mu.Unlock()
		return
	}

	record := &trace.Handoffs[ref.index]
	now := time.Now()
	record.EndTime = &now
	record.OutputReceived = output
	record.ToolsUsed = toolsUsed
	switch {
	case failure == nil:
		record.Status = HandoffCompleted
	case errors.Is(failure, context.DeadlineExceeded):
		record.Status = HandoffTimeout
		record.Error = failure.Error()
	default:
		record.Status = HandoffFailed
		record.Error = failure.Error()
	}
	metrics.HandoffsCompleted.WithLabelValues(record.Status).Inc()

	e := t.logEventLocked(Event{
		SessionID:       ref.sessionID,
		EventType:       EventHandoffComplete,
		AgentID:         record.ToAgent,
		Status:          record.Status,
		Error:           record.Error,
		ExecutionTimeMS: now.Sub(record.StartTime).Milliseconds(),
		Metadata: map[string]interface{}{
			"handoff_id":     handoffID,
			"handoff_number": record.HandoffNumber,
		},
	})
	t.mu.Unlock()

	t.publish(e)
}

// LogContextTransfer appends one context-evolution snapshot and emits the
// matching context_transfer event.
func (t *Tracer) LogContextTransfer(sessionID string, snap ContextSnapshot) {
	t.mu.Lock()
	trace, ok := t.active[sessionID]
	if !ok {
		t.mu.Unlock()
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now()
	}
	trace.ContextEvolution = append(trace.ContextEvolution, snap)
	t.totalTransfers++
	metrics.ContextTransfers.Inc()

	e := t.logEventLocked(Event{
		SessionID: sessionID,
		EventType: EventContextTransfer,
		AgentID:   snap.ToAgent,
		Content:   snap.Context,
		Metadata: map[string]interface{}{
			"from_agent":      snap.FromAgent,
			"to_agent":        snap.ToAgent,
			"strategy":        snap.Strategy,
			"original_length": snap.OriginalLength,
			"refined_length":  snap.RefinedLength,
			"quality":         snap.Quality,
		},
	})
	t.mu.Unlock()

	t.publish(e)
}

// CompleteTrace finalizes the session, moves it to the completed store,
// updates aggregates, and queues the sink export. It returns a deep copy
// of the finished trace.
func (t *Tracer) CompleteTrace(sessionID, finalResponse string, success bool) *ConversationTrace {
	t.mu.Lock()
	trace, ok := t.active[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	delete(t.active, sessionID)
	delete(t.involved, sessionID)

	now := time.Now()
	trace.EndTime = &now
	trace.TotalExecutionMS = now.Sub(trace.StartTime).Milliseconds()
	trace.FinalResponse = finalResponse
	trace.Success = success
	trace.Status = TraceCompleted

	t.completed[sessionID] = trace
	t.completedOrder = append(t.completedOrder, sessionID)
	var evicted []string
	for len(t.completedOrder) > t.maxCompleted {
		oldest := t.completedOrder[0]
		t.completedOrder = t.completedOrder[1:]
		delete(t.completed, oldest)
		evicted = append(evicted, oldest)
	}

	t.totalOrchestrations++
	if success {
		t.successful++
	} else {
		t.failed++
	}
	n := float64(t.totalOrchestrations)
	t.avgExecSeconds += (now.Sub(trace.StartTime).Seconds() - t.avgExecSeconds) / n
	t.avgHandoffs += (float64(len(trace.Handoffs)) - t.avgHandoffs) / n
	for _, agent := range trace.AgentsInvolved {
		t.agentUsage[agent]++
	}
	if trace.Strategy != "" {
		t.strategyUsage[trace.Strategy]++
	}
	metrics.SessionsActive.Dec()

	copied := copyTrace(trace)
	t.mu.Unlock()

	for _, id := range evicted {
		if t.onEvict != nil {
			t.onEvict(id)
		}
	}
	t.enqueueExport(trace)
	return copied
}

// GetTrace returns a deep copy of an active or completed trace.
func (t *Tracer) GetTrace(sessionID string) (*ConversationTrace, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if trace, ok := t.active[sessionID]; ok {
		return copyTrace(trace), true
	}
	if trace, ok := t.completed[sessionID]; ok {
		return copyTrace(trace), true
	}
	return nil, false
}

// ListRecent returns summaries, newest first. status filters to "active"
// or "completed"; empty means both. limit <= 0 means no limit.
func (t *Tracer) ListRecent(limit int, status string) []TraceSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	var summaries []TraceSummary
	if status == "" || status == TraceCompleted {
		for i := len(t.completedOrder) - 1; i >= 0; i-- {
			if trace, ok := t.completed[t.completedOrder[i]]; ok {
				summaries = append(summaries, summarize(trace))
			}
		}
	}
	if status == "" || status == TraceActive {
		actives := make([]TraceSummary, 0, len(t.active))
		for _, trace := range t.active {
			actives = append(actives, summarize(trace))
		}
		sortSummaries(actives)
		summaries = append(actives, summaries...)
	}
	if limit > 0 && len(summaries) > limit {
		summaries = summaries[:limit]
	}
	return summaries
}

// Metrics snapshots the aggregate statistics.
func (t *Tracer) Metrics() MetricsSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := MetricsSnapshot{
		TotalOrchestrations:      t.totalOrchestrations,
		SuccessfulOrchestrations: t.successful,
		FailedOrchestrations:     t.failed,
		ActiveSessions:           len(t.active),
		CompletedSessions:        len(t.completed),
		TotalEvents:              t.totalEvents,
		TotalHandoffs:            t.totalHandoffs,
		TotalContextTransfers:    t.totalTransfers,
		AvgExecutionSeconds:      t.avgExecSeconds,
		AvgHandoffsPerSession:    t.avgHandoffs,
		AgentUsage:               make(map[string]int, len(t.agentUsage)),
		StrategyUsage:            make(map[string]int, len(t.strategyUsage)),
	}
	for k, v := range t.agentUsage {
		snap.AgentUsage[k] = v
	}
	for k, v := range t.strategyUsage {
		snap.StrategyUsage[k] = v
	}
	return snap
}

// Counts reports store sizes for health checks.
func (t *Tracer) Counts() (active, completed int, events, handoffs int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active), len(t.completed), t.totalEvents, t.totalHandoffs
}

// Close stops the export worker after draining queued traces.
func (t *Tracer) Close() {
	t.closeOnce.Do(func() {
		if t.exportCh != nil {
			close(t.exportCh)
			t.exportWG.Wait()
		}
	})
}

func (t *Tracer) publish(e Event) {
	if t.stream == nil {
		return
	}
	t.stream.Publish(streaming.Event{
		SessionID: e.SessionID,
		Type:      string(e.EventType),
		AgentID:   e.AgentID,
		Content:   e.Content,
		Data:      e.Metadata,
		Timestamp: e.Timestamp,
	})
}

func (t *Tracer) enqueueExport(trace *ConversationTrace) {
	if t.exportCh == nil {
		return
	}
	select {
	case t.exportCh <- trace:
	default:
		metrics.TraceExports.WithLabelValues(t.sink.Name(), "dropped").Inc()
		t.logger.Warn("Trace export queue full, dropping", zap.String("session_id", trace.SessionID))
	}
}

func (t *Tracer) exportLoop() {
	defer t.exportWG.Done()
	for trace := range t.exportCh {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := t.sink.Export(ctx, trace)
		cancel()
		if err != nil {
			metrics.TraceExports.WithLabelValues(t.sink.Name(), "error").Inc()
			t.logger.Warn("Trace export failed",
				zap.String("session_id", trace.SessionID),
				zap.String("sink", t.sink.Name()),
				zap.Error(err))
			continue
		}
		metrics.TraceExports.WithLabelValues(t.sink.Name(), "ok").Inc()
	}
}

func summarize(trace *ConversationTrace) TraceSummary {
	return TraceSummary{
		SessionID:        trace.SessionID,
		Query:            trace.Query,
		Strategy:         trace.Strategy,
		Status:           trace.Status,
		Success:          trace.Success,
		Agents:           append([]string(nil), trace.AgentsInvolved...),
		EventCount:       len(trace.Events),
		HandoffCount:     len(trace.Handoffs),
		StartTime:        trace.StartTime,
		EndTime:          trace.EndTime,
		TotalExecutionMS: trace.TotalExecutionMS,
	}
}

func sortSummaries(s []TraceSummary) {
	sort.Slice(s, func(i, j int) bool {
		return s[i].StartTime.After(s[j].StartTime)
	})
}

func copyTrace(trace *ConversationTrace) *ConversationTrace {
	out := *trace
	out.Events = append([]Event(nil), trace.Events...)
	out.Handoffs = append([]HandoffRecord(nil), trace.Handoffs...)
	out.AgentsInvolved = append([]string(nil), trace.AgentsInvolved...)
	out.ContextEvolution = append([]ContextSnapshot(nil), trace.ContextEvolution...)
	return &out
}
