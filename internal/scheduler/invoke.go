package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/maestrolab/maestro/internal/agents"
	"github.com/maestrolab/maestro/internal/memory"
	"github.com/maestrolab/maestro/internal/metrics"
	"github.com/maestrolab/maestro/internal/models"
	"github.com/maestrolab/maestro/internal/tracer"
)

// invokeAgent runs the full per-invocation lifecycle: handoff open,
// context transfers, admission, the retried worker call, memory write,
// handoff close. verbatim skips dependency context so the agent sees the
// raw query (single and parallel strategies).
func (r *run) invokeAgent(ctx context.Context, agent *agents.Descriptor, verbatim bool) {
	asg := r.assignOf[agent.AgentID]
	rec := &models.AgentExecutionRecord{
		AgentID:   agent.AgentID,
		AgentName: agent.Name,
		StepID:    asg.StepID,
		StartTime: time.Now(),
		Status:    models.StatusRunning,
	}
	r.setRecord(rec)

	var deps []depContext
	if !verbatim {
		deps = r.gatherDependencies(ctx, agent)
	}
	input := r.assembleInput(agent, deps, verbatim)
	block := contextBlock(deps)

	handoffID := r.sched.tracer.StartHandoff(r.in.SessionID, handoffSource(deps), agent.Name, block, input)
	for _, d := range deps {
		if d.output == "" {
			continue
		}
		r.sched.tracer.LogContextTransfer(r.in.SessionID, tracer.ContextSnapshot{
			FromAgent:      d.name,
			ToAgent:        agent.Name,
			Context:        d.output,
			Strategy:       d.refined.Strategy,
			OriginalLength: d.refined.OriginalLength,
			RefinedLength:  d.refined.RefinedLength,
			Quality:        d.refined.Quality,
		})
	}
	r.sched.tracer.LogEvent(tracer.Event{
		SessionID: r.in.SessionID,
		EventType: tracer.EventExecutionStart,
		AgentID:   agent.Name,
		Metadata: map[string]interface{}{
			"agent_id":    agent.AgentID,
			"step_id":     asg.StepID,
			"input_chars": len(input),
		},
	})

	metrics.ScheduleQueueDepth.Inc()
	err := r.sched.sem.Acquire(ctx, 1)
	metrics.ScheduleQueueDepth.Dec()
	if err != nil {
		r.finish(rec, handoffID, nil, fmt.Errorf("admission aborted: %w", err))
		return
	}
	metrics.AgentsInFlight.Inc()
	defer func() {
		r.sched.sem.Release(1)
		metrics.AgentsInFlight.Dec()
	}()

	// The deadline covers all attempts; queue time is excluded.
	invokeCtx, cancel := context.WithTimeout(ctx, r.sched.opts.AgentTimeout)
	defer cancel()

	result, attempts, invokeErr := r.sched.invokeWithRetry(invokeCtx, agent, input, r.in.SessionID)
	rec.Attempts = attempts
	r.finish(rec, handoffID, result, invokeErr)
}

// finish closes the record, memory, metrics, events, and the handoff for
// one invocation outcome.
func (r *run) finish(rec *models.AgentExecutionRecord, handoffID string, result *agents.InvokeResult, err error) {
	rec.EndTime = time.Now()
	rec.ExecutionTime = rec.EndTime.Sub(rec.StartTime)
	elapsedMS := float64(rec.ExecutionTime.Milliseconds())

	if err == nil {
		cleaned := r.in.Memory.Record(rec.AgentName, result.Text, memory.EntryMeta{
			AgentID:   rec.AgentID,
			StepID:    rec.StepID,
			ToolsUsed: result.ToolsUsed,
		})
		rec.RawOutput = result.Text
		rec.CleanedOutput = cleaned
		rec.ToolsUsed = result.ToolsUsed
		rec.Status = models.StatusCompleted
		if analysis, ok := r.in.Memory.Analysis(rec.AgentName); ok {
			rec.QualityScore = analysis.Score
		}
		r.markDone(rec.AgentID, false)
		// Involved agents mirror session memory: only producers count.
		r.sched.tracer.RecordAgent(r.in.SessionID, rec.AgentName)
		metrics.RecordAgentExecution(rec.AgentName, rec.Status, elapsedMS)

		r.sched.tracer.LogEvent(tracer.Event{
			SessionID:       r.in.SessionID,
			EventType:       tracer.EventExecutionComplete,
			AgentID:         rec.AgentName,
			Status:          rec.Status,
			ExecutionTimeMS: rec.ExecutionTime.Milliseconds(),
			Metadata: map[string]interface{}{
				"attempts":     rec.Attempts,
				"quality":      rec.QualityScore,
				"tools_used":   rec.ToolsUsed,
				"output_chars": len(cleaned),
			},
		})
		r.sched.tracer.CompleteHandoff(handoffID, cleaned, result.ToolsUsed, nil)
		return
	}

	rec.Status = classifyFailure(err)
	rec.Error = err.Error()
	if rec.Status == models.StatusTimeout {
		metrics.AgentTimeouts.Inc()
	}
	r.markDone(rec.AgentID, true)
	metrics.RecordAgentExecution(rec.AgentName, rec.Status, elapsedMS)

	r.sched.logger.Warn("Agent invocation failed",
		zap.String("session_id", r.in.SessionID),
		zap.String("agent", rec.AgentName),
		zap.String("status", rec.Status),
		zap.Int("attempts", rec.Attempts),
		zap.Error(err))
	r.sched.tracer.LogEvent(tracer.Event{
		SessionID: r.in.SessionID,
		EventType: tracer.EventErrorOccurred,
		AgentID:   rec.AgentName,
		Status:    rec.Status,
		Error:     rec.Error,
		Metadata: map[string]interface{}{
			"kind":     "agent_execution",
			"attempts": rec.Attempts,
		},
	})
	r.sched.tracer.CompleteHandoff(handoffID, "", nil, err)
}

func classifyFailure(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.StatusTimeout
	case errors.Is(err, context.Canceled):
		return models.StatusCancelled
	default:
		return models.StatusFailed
	}
}

// invokeWithRetry retries transport-level failures with doubling backoff.
// Worker-reported failures return immediately.
func (s *Scheduler) invokeWithRetry(ctx context.Context, agent *agents.Descriptor, input, sessionID string) (*agents.InvokeResult, int, error) {
	backoff := s.opts.RetryBackoff
	var lastErr error
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		result, err := s.invoker.Invoke(ctx, agent, input, sessionID)
		if err == nil {
			return result, attempt, nil
		}
		lastErr = err
		if !agents.IsRetryable(err) || attempt == s.opts.MaxAttempts || ctx.Err() != nil {
			return nil, attempt, err
		}

		metrics.AgentRetries.Inc()
		s.logger.Warn("Retrying agent invocation",
			zap.String("agent", agent.Name),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, attempt, fmt.Errorf("%w (last attempt error: %v)", ctx.Err(), lastErr)
		}
		backoff *= 2
	}
	return nil, s.opts.MaxAttempts, lastErr
}
