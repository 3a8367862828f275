package persisterr

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(Validation, "agent_id cannot be empty")
	kind, ok := KindOf(err)
	if !ok || kind != Validation {
		t.Fatalf("KindOf() = (%v, %v), want (%v, true)", kind, ok, Validation)
	}
}

func TestKindOf_WrappedError(t *testing.T) {
	inner := New(Transient, "connection reset")
	outer := fmt.Errorf("adapter save: %w", inner)
	kind, ok := KindOf(outer)
	if !ok || kind != Transient {
		t.Fatalf("KindOf() on wrapped error = (%v, %v), want (%v, true)", kind, ok, Transient)
	}
}

func TestKindOf_NotAPersistError(t *testing.T) {
	_, ok := KindOf(errors.New("plain error"))
	if ok {
		t.Fatal("KindOf() on a plain error should report ok=false")
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient(New(Transient, "timeout")) {
		t.Error("IsTransient() = false for a Transient error")
	}
	if IsTransient(New(StorageIo, "disk full")) {
		t.Error("IsTransient() = true for a non-Transient error")
	}
}

func TestNewIntegrityCheckFailed(t *testing.T) {
	err := NewIntegrityCheckFailed("abc123", "def456")
	if err.Kind != IntegrityCheckFailed {
		t.Errorf("Kind = %v, want %v", err.Kind, IntegrityCheckFailed)
	}
	if err.Expected != "abc123" || err.Actual != "def456" {
		t.Errorf("Expected/Actual = %q/%q, want abc123/def456", err.Expected, err.Actual)
	}
}

func TestErrorMessage_IncludesBackendAndKey(t *testing.T) {
	err := New(NotFound, "object missing").WithBackend("s3").WithKey("agents/a1.json.gz")
	msg := err.Error()
	if !strings.Contains(msg, "s3") || !strings.Contains(msg, "agents/a1.json.gz") {
		t.Errorf("Error() = %q, want it to mention backend and key", msg)
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := Wrap(StorageIo, cause, "write failed")
	if errors.Unwrap(err) != cause {
		t.Error("Unwrap() did not return the wrapped cause")
	}
}
