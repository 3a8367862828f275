// Package contract defines the uniform, backend-independent storage
// interfaces. It exists as a standalone leaf package (rather than living in
// pkg/storage alongside the factory) so that pkg/storage/local, s3, and gcs
// can implement it without importing pkg/storage, which itself imports
// them to build the factory.
package contract

import (
	"context"
	"io"
)

// Adapter is a flat key-space object store. Every method takes a
// context.Context as its first argument; cancelling it MUST abandon
// in-flight I/O without corrupting durable state. Implementations MUST be
// safe for concurrent use across distinct keys; ordering of concurrent
// operations on the same key is unspecified beyond "each completes
// atomically."
type Adapter interface {
	// Backend names the concrete implementation ("local", "s3", "gcs") for
	// error tagging and observability attributes.
	Backend() string

	// Save writes the full byte sequence under key, overwriting any
	// existing object atomically from the caller's perspective. It returns
	// only after the backend reports durability.
	Save(ctx context.Context, key string, data []byte) error

	// SaveStream streams an arbitrarily large reader to key. Implementations
	// use it when payload size exceeds a backend-specific single-request
	// threshold.
	SaveStream(ctx context.Context, key string, r io.Reader) error

	// Load returns the full byte sequence stored under key, or a NotFound
	// error if absent.
	Load(ctx context.Context, key string) ([]byte, error)

	// LoadStream returns a reader over key's bytes. The caller must Close
	// it.
	LoadStream(ctx context.Context, key string) (io.ReadCloser, error)

	// Exists reports whether key resolves to an object. Implementations
	// favor a cheap, HEAD-class request.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. It is idempotent: a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List yields keys under prefix lazily. The returned sequence is
	// finite and not restartable; order is unspecified.
	List(ctx context.Context, prefix string) (KeyIterator, error)
}

// KeyIterator yields keys one at a time. Next returns io.EOF once
// exhausted.
type KeyIterator interface {
	Next(ctx context.Context) (string, error)
}

// SliceIterator adapts a pre-materialized slice of keys to KeyIterator, for
// backends (or tests) that list eagerly.
type SliceIterator struct {
	keys []string
	pos  int
}

// NewSliceIterator wraps keys as a KeyIterator.
func NewSliceIterator(keys []string) *SliceIterator {
	return &SliceIterator{keys: keys}
}

// Next returns the next key, or io.EOF when keys is exhausted.
func (s *SliceIterator) Next(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if s.pos >= len(s.keys) {
		return "", io.EOF
	}
	k := s.keys[s.pos]
	s.pos++
	return k, nil
}
