package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testDescriptor(id, name string, caps ...string) *Descriptor {
	return &Descriptor{
		AgentID:         id,
		Name:            name,
		Capabilities:    caps,
		BackendEndpoint: "http://worker:9000",
	}
}

func TestStoreRegisterListUnregisterRoundTrip(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))

	require.NoError(t, store.Register(testDescriptor("a1", "CreativeAssistant", "creative", "poetry")))
	require.NoError(t, store.Register(testDescriptor("a2", "WeatherAgent", "weather")))

	list := store.List()
	require.Len(t, list, 2)
	assert.Equal(t, "CreativeAssistant", list[0].Name)
	assert.Equal(t, "WeatherAgent", list[1].Name)

	require.NoError(t, store.Unregister("a2"))
	list = store.List()
	require.Len(t, list, 1)
	assert.Equal(t, "a1", list[0].AgentID)

	assert.ErrorIs(t, store.Unregister("a2"), ErrAgentNotFound)
}

func TestStoreRegisterValidation(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))

	assert.Error(t, store.Register(&Descriptor{Name: "NoID", Capabilities: []string{"x"}}))
	assert.Error(t, store.Register(&Descriptor{AgentID: "id", Capabilities: []string{"x"}}))
	assert.Error(t, store.Register(&Descriptor{AgentID: "id", Name: "NoCaps"}))
	assert.Error(t, store.Register(&Descriptor{
		AgentID: "id", Name: "BadStatus", Capabilities: []string{"x"}, Status: "sleeping",
	}))
	assert.Equal(t, 0, store.Len())
}

func TestStoreRegisterDefaults(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))
	require.NoError(t, store.Register(testDescriptor("a1", "Agent", "cap")))

	d, ok := store.Get("a1")
	require.True(t, ok)
	assert.Equal(t, StatusActive, d.Status)
	assert.Equal(t, DefaultMaxContextLength, d.MaxContextLength)
	assert.False(t, d.RegisteredAt.IsZero())
}

func TestStoreReRegisterReplaces(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))
	require.NoError(t, store.Register(testDescriptor("a1", "Agent", "old_cap")))

	updated := testDescriptor("a1", "Agent", "new_cap")
	require.NoError(t, store.Register(updated))

	d, ok := store.Get("a1")
	require.True(t, ok)
	assert.Equal(t, []string{"new_cap"}, d.Capabilities)
	assert.Equal(t, 1, store.Len())
}

func TestStoreSnapshotActiveOnly(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))
	require.NoError(t, store.Register(testDescriptor("a1", "Active", "cap")))

	inactive := testDescriptor("a2", "Inactive", "cap")
	inactive.Status = StatusInactive
	require.NoError(t, store.Register(inactive))

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "Active", snap[0].Name)
	assert.Equal(t, 2, store.Len())
}

func TestStoreSnapshotIsolation(t *testing.T) {
	store := NewStore(zaptest.NewLogger(t))
	require.NoError(t, store.Register(testDescriptor("a1", "Agent", "cap")))

	snap := store.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Capabilities[0] = "mutated"
	snap[0].Name = "Mutated"

	d, ok := store.Get("a1")
	require.True(t, ok)
	assert.Equal(t, "Agent", d.Name)
	assert.Equal(t, []string{"cap"}, d.Capabilities)
}

func TestDescriptorHasCapability(t *testing.T) {
	d := testDescriptor("a1", "Agent", "churn_analysis", "Technical")
	assert.True(t, d.HasCapability("churn_analysis"))
	assert.True(t, d.HasCapability("technical"))
	assert.False(t, d.HasCapability("creative"))
}
