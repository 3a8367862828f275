package observability

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.Equal(t, "persist-core", config.ServiceName)
	require.Equal(t, "development", config.Environment)
	require.Equal(t, 1.0, config.SampleRate)
	require.True(t, config.Enabled)
}

func TestNewProviderEnabled(t *testing.T) {
	p, err := New(context.Background(), DefaultConfig())
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProviderDisabled(t *testing.T) {
	config := &Config{Enabled: false}

	p, err := New(context.Background(), config)
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())
	require.NotNil(t, p.Meter())
}

func TestNewProviderWithNilConfig(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestTrackOperation(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	attrs := StorageOperation("local", "save", "agent-1/snap.json.gz", false)

	newCtx, finish := p.TrackOperation(ctx, "storage.save", attrs...)
	require.NotNil(t, newCtx)

	time.Sleep(time.Millisecond)
	finish(nil)
}

func TestTrackOperationWithError(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, finish := p.TrackOperation(context.Background(), "storage.load")
	finish(persisterr.New(persisterr.NotFound, "no such key"))
}

func TestRecordMetrics(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx := context.Background()
	p.RecordOp(ctx, attribute.String("test", "value"))
	p.RecordError(ctx, errors.New("test"), attribute.String("test", "value"))
	p.RecordRetry(ctx, attribute.String("test", "value"))
	p.RecordBytes(ctx, 1024, AttrDirection.String(DirectionWrite))
	p.RecordDuration(ctx, 100*time.Millisecond, attribute.String("test", "value"))
}

func TestStartSpan(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	newCtx, span := p.StartSpan(context.Background(), "test.span")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestShutdown(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestStorageOperation(t *testing.T) {
	attrs := StorageOperation("s3", "load", "agents/agent-1/snap.json.gz", false)
	require.Len(t, attrs, 3)
	require.Equal(t, "persist.backend", string(attrs[0].Key))
	require.Equal(t, "s3", attrs[0].Value.AsString())
	require.Equal(t, "snap.json.gz", attrs[2].Value.AsString())
}

func TestStorageOperationVerbose(t *testing.T) {
	attrs := StorageOperation("s3", "load", "agents/agent-1/snap.json.gz", true)
	require.Equal(t, "agents/agent-1/snap.json.gz", attrs[2].Value.AsString())
}

func TestEngineOperation(t *testing.T) {
	attrs := EngineOperation("save", "agent-1")
	require.Len(t, attrs, 2)
	require.Equal(t, "agent-1", attrs[1].Value.AsString())
}

func TestLogKey(t *testing.T) {
	require.Equal(t, "snap.json.gz", LogKey("agents/agent-1/snap.json.gz", false))
	require.Equal(t, "agents/agent-1/snap.json.gz", LogKey("agents/agent-1/snap.json.gz", true))
	require.Equal(t, "", LogKey("", false))
}

func TestVerbose(t *testing.T) {
	os.Unsetenv("PERSIST_LOG")
	os.Unsetenv("RUST_LOG")
	require.False(t, Verbose())

	os.Setenv("RUST_LOG", "debug")
	require.True(t, Verbose())
	os.Unsetenv("RUST_LOG")

	os.Setenv("PERSIST_LOG", "0")
	require.False(t, Verbose())

	os.Setenv("PERSIST_LOG", "1")
	require.True(t, Verbose())
	os.Unsetenv("PERSIST_LOG")
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestAddSpanEvent(t *testing.T) {
	AddSpanEvent(context.Background(), "test.event", attribute.String("key", "value"))
}

func TestSetSpanStatus(t *testing.T) {
	SetSpanStatus(context.Background(), errors.New("test error"))
	SetSpanStatus(context.Background(), nil)
}
