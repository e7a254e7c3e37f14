package tracer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/streaming"
)

type captureSink struct {
	mu     sync.Mutex
	traces []*ConversationTrace
	err    error
	done   chan struct{}
}

func newCaptureSink() *captureSink {
	return &captureSink{done: make(chan struct{}, 16)}
}

func (s *captureSink) Export(_ context.Context, trace *ConversationTrace) error {
	s.mu.Lock()
	s.traces = append(s.traces, trace)
	s.mu.Unlock()
	s.done <- struct{}{}
	return s.err
}

func (s *captureSink) Name() string { return "capture" }
func (s *captureSink) Close() error { return nil }

func (s *captureSink) wait(t *testing.T) *ConversationTrace {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("sink export did not happen")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traces[len(s.traces)-1]
}

func TestTraceLifecycle(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "what is up"))
	tr.SetStrategy("sess-1", "sequential")

	tr.LogEvent(Event{SessionID: "sess-1", EventType: EventOrchestrationStart, Content: "start"})
	tr.RecordAgent("sess-1", "WorkerA")

	handoffID := tr.StartHandoff("sess-1", "orchestrator", "WorkerA", "", "what is up")
	require.NotEmpty(t, handoffID)
	tr.CompleteHandoff(handoffID, "all good", []string{"calculator"}, nil)

	tr.LogEvent(Event{SessionID: "sess-1", EventType: EventOrchestrationComplete})
	trace := tr.CompleteTrace("sess-1", "all good", true)
	require.NotNil(t, trace)

	assert.Equal(t, TraceCompleted, trace.Status)
	assert.True(t, trace.Success)
	assert.Equal(t, "sequential", trace.Strategy)
	assert.Equal(t, "all good", trace.FinalResponse)
	assert.Equal(t, []string{"WorkerA"}, trace.AgentsInvolved)
	require.NotNil(t, trace.EndTime)

	// orchestration_start, handoff_start, handoff_complete, orchestration_complete
	require.Len(t, trace.Events, 4)
	assert.Equal(t, EventOrchestrationStart, trace.Events[0].EventType)
	assert.Equal(t, EventHandoffStart, trace.Events[1].EventType)
	assert.Equal(t, EventHandoffComplete, trace.Events[2].EventType)

	require.Len(t, trace.Handoffs, 1)
	h := trace.Handoffs[0]
	assert.Equal(t, 1, h.HandoffNumber)
	assert.Equal(t, HandoffCompleted, h.Status)
	assert.Equal(t, "all good", h.OutputReceived)
	assert.Equal(t, []string{"calculator"}, h.ToolsUsed)
	require.NotNil(t, h.EndTime)
	assert.False(t, h.EndTime.Before(h.StartTime))
}

func TestEventOrderingIsMonotonic(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))

	for i := 0; i < 20; i++ {
		tr.LogEvent(Event{SessionID: "sess-1", EventType: EventToolUsage})
	}

	trace, ok := tr.GetTrace("sess-1")
	require.True(t, ok)
	for i := 1; i < len(trace.Events); i++ {
		assert.False(t, trace.Events[i].Timestamp.Before(trace.Events[i-1].Timestamp))
	}
}

func TestDuplicateSessionRejected(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("dup", "q"))
	assert.ErrorIs(t, tr.StartTrace("dup", "q"), ErrSessionExists)
}

func TestHandoffNumberIncrements(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))

	h1 := tr.StartHandoff("sess-1", "orchestrator", "A", "", "in1")
	h2 := tr.StartHandoff("sess-1", "A", "B", "ctx", "in2")
	tr.CompleteHandoff(h1, "out1", nil, nil)
	tr.CompleteHandoff(h2, "out2", nil, nil)

	trace, _ := tr.GetTrace("sess-1")
	require.Len(t, trace.Handoffs, 2)
	assert.Equal(t, 1, trace.Handoffs[0].HandoffNumber)
	assert.Equal(t, 2, trace.Handoffs[1].HandoffNumber)
	assert.Equal(t, "A", trace.Handoffs[1].FromAgent)
}

func TestHandoffFailureStatuses(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))

	failed := tr.StartHandoff("sess-1", "orchestrator", "A", "", "in")
	timedOut := tr.StartHandoff("sess-1", "orchestrator", "B", "", "in")
	tr.CompleteHandoff(failed, "", nil, errors.New("boom"))
	tr.CompleteHandoff(timedOut, "", nil, fmt.Errorf("agent: %w", context.DeadlineExceeded))

	trace, _ := tr.GetTrace("sess-1")
	assert.Equal(t, HandoffFailed, trace.Handoffs[0].Status)
	assert.Equal(t, "boom", trace.Handoffs[0].Error)
	assert.Equal(t, HandoffTimeout, trace.Handoffs[1].Status)
}

func TestContextTransferRecorded(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))

	tr.LogContextTransfer("sess-1", ContextSnapshot{
		FromAgent:      "A",
		ToAgent:        "B",
		Context:        "refined context",
		Strategy:       "adaptive",
		OriginalLength: 100,
		RefinedLength:  50,
		Quality:        0.8,
	})

	trace, _ := tr.GetTrace("sess-1")
	require.Len(t, trace.ContextEvolution, 1)
	snap := trace.ContextEvolution[0]
	assert.Equal(t, "refined context", snap.Context)
	assert.False(t, snap.Timestamp.IsZero())

	require.Len(t, trace.Events, 1)
	assert.Equal(t, EventContextTransfer, trace.Events[0].EventType)
	assert.Equal(t, "B", trace.Events[0].AgentID)
}

func TestEventsForUnknownSessionDropped(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	tr.LogEvent(Event{SessionID: "ghost", EventType: EventToolUsage})

	_, ok := tr.GetTrace("ghost")
	assert.False(t, ok)
}

func TestCompletedEvictionKeepsNewest(t *testing.T) {
	evicted := make([]string, 0, 4)
	tr := New(zaptest.NewLogger(t),
		WithMaxCompleted(2),
		WithEvictHook(func(id string) { evicted = append(evicted, id) }),
	)

	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("sess-%d", i)
		require.NoError(t, tr.StartTrace(id, "q"))
		tr.CompleteTrace(id, "done", true)
	}

	assert.Equal(t, []string{"sess-0", "sess-1"}, evicted)
	_, ok := tr.GetTrace("sess-0")
	assert.False(t, ok)
	_, ok = tr.GetTrace("sess-3")
	assert.True(t, ok)
}

func TestMetricsAggregation(t *testing.T) {
	tr := New(zaptest.NewLogger(t))

	require.NoError(t, tr.StartTrace("s1", "q1"))
	tr.SetStrategy("s1", "single")
	tr.RecordAgent("s1", "A")
	h := tr.StartHandoff("s1", "orchestrator", "A", "", "q1")
	tr.CompleteHandoff(h, "ok", nil, nil)
	tr.CompleteTrace("s1", "ok", true)

	require.NoError(t, tr.StartTrace("s2", "q2"))
	tr.SetStrategy("s2", "sequential")
	tr.RecordAgent("s2", "A")
	tr.RecordAgent("s2", "B")
	h1 := tr.StartHandoff("s2", "orchestrator", "A", "", "q2")
	h2 := tr.StartHandoff("s2", "A", "B", "ctx", "task")
	tr.CompleteHandoff(h1, "ok", nil, nil)
	tr.CompleteHandoff(h2, "", nil, errors.New("boom"))
	tr.CompleteTrace("s2", "partial", false)

	snap := tr.Metrics()
	assert.Equal(t, 2, snap.TotalOrchestrations)
	assert.Equal(t, 1, snap.SuccessfulOrchestrations)
	assert.Equal(t, 1, snap.FailedOrchestrations)
	assert.Equal(t, 0, snap.ActiveSessions)
	assert.Equal(t, 2, snap.CompletedSessions)
	assert.Equal(t, int64(3), snap.TotalHandoffs)
	assert.InDelta(t, 1.5, snap.AvgHandoffsPerSession, 0.001)
	assert.Equal(t, 2, snap.AgentUsage["A"])
	assert.Equal(t, 1, snap.AgentUsage["B"])
	assert.Equal(t, 1, snap.StrategyUsage["single"])
	assert.Equal(t, 1, snap.StrategyUsage["sequential"])
}

func TestListRecentFiltersAndOrders(t *testing.T) {
	tr := New(zaptest.NewLogger(t))

	require.NoError(t, tr.StartTrace("done-1", "q"))
	tr.CompleteTrace("done-1", "r", true)
	require.NoError(t, tr.StartTrace("done-2", "q"))
	tr.CompleteTrace("done-2", "r", true)
	require.NoError(t, tr.StartTrace("live-1", "q"))

	all := tr.ListRecent(0, "")
	require.Len(t, all, 3)
	assert.Equal(t, "live-1", all[0].SessionID, "active sessions list first")
	assert.Equal(t, "done-2", all[1].SessionID, "completed newest first")

	completed := tr.ListRecent(0, TraceCompleted)
	require.Len(t, completed, 2)
	assert.Equal(t, "done-2", completed[0].SessionID)

	active := tr.ListRecent(0, TraceActive)
	require.Len(t, active, 1)
	assert.Equal(t, "live-1", active[0].SessionID)

	limited := tr.ListRecent(2, "")
	assert.Len(t, limited, 2)
}

func TestSinkExportOnComplete(t *testing.T) {
	sink := newCaptureSink()
	tr := New(zaptest.NewLogger(t), WithSink(sink))
	defer tr.Close()

	require.NoError(t, tr.StartTrace("sess-1", "q"))
	tr.CompleteTrace("sess-1", "resp", true)

	exported := sink.wait(t)
	assert.Equal(t, "sess-1", exported.SessionID)
	assert.Equal(t, "resp", exported.FinalResponse)
}

func TestEventsMirroredToStream(t *testing.T) {
	stream := streaming.NewManager(16)
	tr := New(zaptest.NewLogger(t), WithStream(stream))

	require.NoError(t, tr.StartTrace("sess-1", "q"))
	ch := stream.Subscribe("sess-1", 8)
	defer stream.Unsubscribe("sess-1", ch)

	tr.LogEvent(Event{SessionID: "sess-1", EventType: EventQueryAnalysis, Content: "planned"})

	select {
	case evt := <-ch:
		assert.Equal(t, string(EventQueryAnalysis), evt.Type)
		assert.Equal(t, "planned", evt.Content)
	case <-time.After(time.Second):
		t.Fatal("event not mirrored to stream")
	}
}

func TestGetTraceReturnsCopy(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))
	tr.LogEvent(Event{SessionID: "sess-1", EventType: EventToolUsage})

	copy1, _ := tr.GetTrace("sess-1")
	copy1.Events[0].Content = "tampered"
	copy1.AgentsInvolved = append(copy1.AgentsInvolved, "intruder")

	copy2, _ := tr.GetTrace("sess-1")
	assert.Empty(t, copy2.Events[0].Content)
	assert.Empty(t, copy2.AgentsInvolved)
}

func TestRecordAgentDeduplicates(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))

	tr.RecordAgent("sess-1", "A")
	tr.RecordAgent("sess-1", "B")
	tr.RecordAgent("sess-1", "A")

	trace, _ := tr.GetTrace("sess-1")
	assert.Equal(t, []string{"A", "B"}, trace.AgentsInvolved)
}

func TestConcurrentEventLogging(t *testing.T) {
	tr := New(zaptest.NewLogger(t))
	require.NoError(t, tr.StartTrace("sess-1", "q"))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 25; j++ {
				tr.LogEvent(Event{SessionID: "sess-1", EventType: EventToolUsage})
			}
		}()
	}
	wg.Wait()

	trace, _ := tr.GetTrace("sess-1")
	assert.Len(t, trace.Events, 400)
}
