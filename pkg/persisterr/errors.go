// Package persisterr defines the closed taxonomy of failures raised by the
// snapshot engine, storage adapters, and retry coordinator. Callers branch on
// Kind rather than inspecting backend-specific error types.
package persisterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can handle it without branching on
// which backend produced it.
type Kind string

const (
	// Serialization covers malformed JSON input or container encoding failure.
	Serialization Kind = "serialization"
	// Compression covers codec failure in either direction.
	Compression Kind = "compression"
	// IntegrityCheckFailed covers a content-hash mismatch between stored and
	// observed agent_state bytes.
	IntegrityCheckFailed Kind = "integrity_check_failed"
	// Validation covers a missing required field, an escaping key, an empty
	// identifier, or an unrecognized format version.
	Validation Kind = "validation"
	// NotFound covers a key absent from the backend.
	NotFound Kind = "not_found"
	// PermissionDenied covers a backend rejecting the credential or ACL.
	PermissionDenied Kind = "permission_denied"
	// Transient covers a failure eligible for retry: timeout, 5xx, reset.
	Transient Kind = "transient"
	// StorageIo covers a non-transient backend I/O failure.
	StorageIo Kind = "storage_io"
	// Configuration covers a missing bucket, bad region, or unusable credential.
	Configuration Kind = "configuration"
)

// Error is the single error type returned by every layer of the engine.
// It never embeds secrets: callers may safely log Error().
type Error struct {
	Kind    Kind
	Message string
	Backend string // adapter tag: "local", "s3", "gcs"; empty if not backend-specific
	Key     string // artifact key involved, if any
	Cause   error

	// Expected/Actual are populated only for Kind == IntegrityCheckFailed.
	Expected string
	Actual   string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("persist: %s: %s", e.Kind, e.Message)
	if e.Backend != "" {
		msg = fmt.Sprintf("%s (backend=%s)", msg, e.Backend)
	}
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key=%s)", msg, e.Key)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// WithBackend attaches the backend tag and returns the receiver for chaining.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithKey attaches the artifact key and returns the receiver for chaining.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// NewIntegrityCheckFailed builds the one error kind that carries both the
// expected and the observed hash.
func NewIntegrityCheckFailed(expected, actual string) *Error {
	return &Error{
		Kind:     IntegrityCheckFailed,
		Message:  fmt.Sprintf("expected hash %s, got %s", expected, actual),
		Expected: expected,
		Actual:   actual,
	}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and ok=false
// otherwise.
func KindOf(err error) (Kind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsTransient reports whether err is eligible for retry.
func IsTransient(err error) bool {
	return Is(err, Transient)
}
