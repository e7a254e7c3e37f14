// Package streaming provides in-memory pub/sub for per-session
// orchestration events, with a bounded replay history per session so
// reconnecting clients can resume from their last sequence number.
package streaming

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/maestrolab/maestro/internal/metrics"
)

// DefaultHistory is the per-session replay ring capacity.
const DefaultHistory = 256

// Event is one streamed orchestration event. Seq is assigned at publish
// time and is strictly increasing within a session.
type Event struct {
	SessionID string                 `json:"session_id"`
	Type      string                 `json:"type"`
	AgentID   string                 `json:"agent_id,omitempty"`
	Content   string                 `json:"content,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal renders the event for SSE payloads and logs.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Manager fans events out to session subscribers. Slow subscribers lose
// events rather than stalling the publisher; the ring covers the gap on
// reconnect.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*ring
	capacity    int
}

// NewManager creates a manager whose per-session replay rings hold
// capacity events. capacity <= 0 selects DefaultHistory.
func NewManager(capacity int) *Manager {
	if capacity <= 0 {
		capacity = DefaultHistory
	}
	return &Manager{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe registers a buffered channel for one session's events. The
// caller must drain it and call Unsubscribe when done.
func (m *Manager) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	m.mu.Lock()
	defer m.mu.Unlock()
	subs := m.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		m.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	metrics.StreamSubscribers.Inc()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (m *Manager) Unsubscribe(sessionID string, ch chan Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	subs, ok := m.subscribers[sessionID]
	if !ok {
		return
	}
	if _, member := subs[ch]; !member {
		return
	}
	delete(subs, ch)
	close(ch)
	metrics.StreamSubscribers.Dec()
	if len(subs) == 0 {
		delete(m.subscribers, sessionID)
	}
}

// Publish assigns the next sequence number, records the event in the
// session's replay ring, and delivers it to every subscriber without
// blocking.
func (m *Manager) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	m.mu.Lock()
	rg := m.history[evt.SessionID]
	if rg == nil {
		rg = newRing(m.capacity)
		m.history[evt.SessionID] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)

	subs := make([]chan Event, 0, len(m.subscribers[evt.SessionID]))
	for ch := range m.subscribers[evt.SessionID] {
		subs = append(subs, ch)
	}
	m.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- evt:
		default:
			// Slow subscriber; the replay ring covers the gap.
		}
	}
}

// ReplaySince returns buffered events with Seq > since, oldest first.
func (m *Manager) ReplaySince(sessionID string, since uint64) []Event {
	m.mu.RLock()
	rg := m.history[sessionID]
	m.mu.RUnlock()
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a session's replay history once its trace is complete and
// exported. Live subscribers are left untouched.
func (m *Manager) Forget(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.history, sessionID)
}

// ring is a fixed-capacity event buffer with monotonic sequence numbers.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Event, capacity)}
}

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}
