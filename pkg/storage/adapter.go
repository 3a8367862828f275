// Package storage defines the uniform, backend-independent contract that
// local filesystem, S3, and GCS adapters implement.
package storage

import (
	"github.com/agentsnap/persist-core/pkg/storage/contract"
)

// Adapter is a flat key-space object store. Every method takes a
// context.Context as its first argument; cancelling it MUST abandon
// in-flight I/O without corrupting durable state. Implementations MUST be
// safe for concurrent use across distinct keys; ordering of concurrent
// operations on the same key is unspecified beyond "each completes
// atomically."
type Adapter = contract.Adapter

// KeyIterator yields keys one at a time. Next returns io.EOF once
// exhausted.
type KeyIterator = contract.KeyIterator

// SliceIterator adapts a pre-materialized slice of keys to KeyIterator, for
// backends (or tests) that list eagerly.
type SliceIterator = contract.SliceIterator

// NewSliceIterator wraps keys as a KeyIterator.
func NewSliceIterator(keys []string) *SliceIterator {
	return contract.NewSliceIterator(keys)
}
