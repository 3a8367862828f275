package observability

import (
	"context"
	"path"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// Semantic attributes for the persistence engine's spans and metrics.
var (
	AttrBackend   = attribute.Key("persist.backend")
	AttrOperation = attribute.Key("persist.operation")
	AttrAgentID   = attribute.Key("persist.agent_id")
	AttrKey       = attribute.Key("persist.key")
	AttrErrorKind = attribute.Key("persist.error.kind")
	AttrDirection = attribute.Key("persist.direction")
	AttrAttempt   = attribute.Key("persist.retry.attempt")
)

// Direction values for AttrDirection / RecordBytes.
const (
	DirectionRead  = "read"
	DirectionWrite = "write"
)

// StorageOperation builds the standard attribute set for a storage
// adapter call. key is logged through LogKey so callers never need to
// decide verbosity themselves.
func StorageOperation(backend, op, key string, verbose bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBackend.String(backend),
		AttrOperation.String(op),
		AttrKey.String(LogKey(key, verbose)),
	}
}

// EngineOperation builds the standard attribute set for a pkg/snapshot
// engine call.
func EngineOperation(op, agentID string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrOperation.String(op),
		AttrAgentID.String(agentID),
	}
}

func errorKindString(err error) string {
	kind, ok := persisterr.KindOf(err)
	if !ok {
		return "unknown"
	}
	return string(kind)
}

// LogKey renders a storage key for logs and span attributes. Unless
// verbose is set, only the final path component is kept so snapshot
// identifiers and agent namespaces in a key prefix don't end up in log
// aggregators by default.
func LogKey(key string, verbose bool) string {
	if verbose || key == "" {
		return key
	}
	return path.Base(key)
}

// SpanFromContext extracts the active span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the active span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records err, if any, on the active span.
func SetSpanStatus(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
