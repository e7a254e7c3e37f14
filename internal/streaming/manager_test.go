package streaming

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("sess-1", 4)
	defer m.Unsubscribe("sess-1", ch)

	m.Publish(Event{SessionID: "sess-1", Type: "orchestration_start", Content: "hello"})

	select {
	case evt := <-ch:
		assert.Equal(t, "orchestration_start", evt.Type)
		assert.Equal(t, uint64(0), evt.Seq)
		assert.False(t, evt.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestPublishIsolatesSessions(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("sess-a", 4)
	defer m.Unsubscribe("sess-a", ch)

	m.Publish(Event{SessionID: "sess-b", Type: "noise"})

	select {
	case evt := <-ch:
		t.Fatalf("received event for another session: %+v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("sess-1", 1)
	defer m.Unsubscribe("sess-1", ch)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			m.Publish(Event{SessionID: "sess-1", Type: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestReplaySinceSkipsConsumed(t *testing.T) {
	m := NewManager(8)
	for i := 0; i < 5; i++ {
		m.Publish(Event{SessionID: "sess-1", Type: "e"})
	}

	evs := m.ReplaySince("sess-1", 2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[1].Seq)
}

func TestReplayRingEvictsOldest(t *testing.T) {
	m := NewManager(3)
	for i := 0; i < 5; i++ {
		m.Publish(Event{SessionID: "sess-1", Type: "e"})
	}

	evs := m.ReplaySince("sess-1", 0)
	require.Len(t, evs, 3, "ring keeps only the newest events")
	assert.Equal(t, uint64(2), evs[0].Seq)
	assert.Equal(t, uint64(4), evs[2].Seq)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("sess-1", 1)
	m.Unsubscribe("sess-1", ch)

	_, open := <-ch
	assert.False(t, open)

	// Double unsubscribe must not panic on the closed channel.
	m.Unsubscribe("sess-1", ch)
}

func TestForgetDropsHistoryOnly(t *testing.T) {
	m := NewManager(8)
	ch := m.Subscribe("sess-1", 4)
	defer m.Unsubscribe("sess-1", ch)

	m.Publish(Event{SessionID: "sess-1", Type: "e"})
	<-ch
	m.Forget("sess-1")

	assert.Empty(t, m.ReplaySince("sess-1", 0))

	m.Publish(Event{SessionID: "sess-1", Type: "after"})
	select {
	case evt := <-ch:
		assert.Equal(t, "after", evt.Type, "subscription survives Forget")
	case <-time.After(time.Second):
		t.Fatal("subscriber lost after Forget")
	}
}
