package sinks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/maestrolab/maestro/internal/config"
	"github.com/maestrolab/maestro/internal/tracer"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	srv := miniredis.RunT(t)
	sink, err := NewRedis(srv.Addr(), "", 0, time.Hour, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { sink.Close() })
	return sink, srv
}

func TestRedisExportStoresTraceWithTTL(t *testing.T) {
	sink, srv := newTestRedis(t)

	require.NoError(t, sink.Export(context.Background(), sampleTrace()))

	raw, err := srv.Get("maestro:trace:sess-1")
	require.NoError(t, err)

	var stored tracer.ConversationTrace
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, "sess-1", stored.SessionID)
	assert.Equal(t, "analyze the network", stored.Query)
	assert.True(t, stored.Success)

	assert.Equal(t, time.Hour, srv.TTL("maestro:trace:sess-1"))
}

func TestRedisExportMaintainsRecencyList(t *testing.T) {
	sink, srv := newTestRedis(t)

	first := sampleTrace()
	second := sampleTrace()
	second.SessionID = "sess-2"

	require.NoError(t, sink.Export(context.Background(), first))
	require.NoError(t, sink.Export(context.Background(), second))

	ids, err := srv.List("maestro:traces:recent")
	require.NoError(t, err)
	assert.Equal(t, []string{"sess-2", "sess-1"}, ids)
}

func TestRedisConnectionFailure(t *testing.T) {
	_, err := NewRedis("127.0.0.1:1", "", 0, time.Hour, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestSinkFactory(t *testing.T) {
	logger := zaptest.NewLogger(t)

	sink, err := FromConfig(config.SinkConfig{Kind: config.SinkNone}, logger)
	require.NoError(t, err)
	assert.Nil(t, sink)

	sink, err = FromConfig(config.SinkConfig{}, logger)
	require.NoError(t, err)
	assert.Nil(t, sink)

	_, err = FromConfig(config.SinkConfig{Kind: "carrier-pigeon"}, logger)
	assert.Error(t, err)

	srv := miniredis.RunT(t)
	sink, err = FromConfig(config.SinkConfig{Kind: config.SinkRedis, Addr: srv.Addr(), TTL: time.Minute}, logger)
	require.NoError(t, err)
	require.NotNil(t, sink)
	assert.Equal(t, "redis", sink.Name())
	sink.Close()
}
