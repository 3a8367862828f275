// Package snapshot implements the public engine API: it orchestrates
// serialize -> hash -> compress -> store and the inverse over a
// storage.Adapter, binding together the compression, metadata, and
// container packages into the single contract callers use.
package snapshot

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agentsnap/persist-core/pkg/compression"
	"github.com/agentsnap/persist-core/pkg/container"
	"github.com/agentsnap/persist-core/pkg/metadata"
	"github.com/agentsnap/persist-core/pkg/observability"
	"github.com/agentsnap/persist-core/pkg/storage"
)

// Input describes the caller-supplied portion of a snapshot's metadata.
// Engine fills in the rest: snapshot_id, timestamp, content_hash, and
// both size fields.
type Input struct {
	AgentID       string
	SessionID     string
	SnapshotIndex uint64
	Description   string

	// CompressionAlgorithm selects the codec; the zero value selects gzip.
	CompressionAlgorithm compression.Algorithm
	// CompressionLevel overrides the Engine's configured level for this
	// one save. Zero defers to the Engine's level.
	CompressionLevel int
}

// Engine orchestrates the save/load pipeline. It holds no persistent
// state of its own: durability and retry behavior live entirely in the
// adapter.
type Engine struct {
	adapter          storage.Adapter
	obs              *observability.Provider
	compressionLevel int
	verbose          bool
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithObservability attaches the Provider used for every public
// operation's span and RED metrics. Without it, New builds a disabled
// Provider and operations run unobserved.
func WithObservability(p *observability.Provider) Option {
	return func(e *Engine) { e.obs = p }
}

// WithCompressionLevel sets the gzip level Save uses when Input doesn't
// specify one. Zero selects compression.DefaultLevel.
func WithCompressionLevel(level int) Option {
	return func(e *Engine) { e.compressionLevel = level }
}

// WithVerboseLogging controls whether storage keys are logged and
// attributed in full (true) or truncated to their last path component
// (false, the default), mirroring spec §4.11's verbosity rule.
func WithVerboseLogging(verbose bool) Option {
	return func(e *Engine) { e.verbose = verbose }
}

// New builds an Engine over adapter.
func New(adapter storage.Adapter, opts ...Option) *Engine {
	e := &Engine{adapter: adapter}
	for _, opt := range opts {
		opt(e)
	}
	if e.obs == nil {
		e.obs, _ = observability.New(context.Background(), &observability.Config{Enabled: false})
	}
	return e
}

func (e *Engine) attrs(op, key string) []attribute.KeyValue {
	return observability.StorageOperation(e.adapter.Backend(), op, key, e.verbose)
}

// Save validates agentStateJSON, hashes and frames it into a container,
// compresses the container, and hands the result to the adapter under
// key. It returns the fully populated metadata, per spec §4.10.
func (e *Engine) Save(ctx context.Context, key string, agentStateJSON []byte, input Input) (metadata.Metadata, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.save", e.attrs("save", key)...)
	md, compressedLen, err := e.save(ctx, key, agentStateJSON, input)
	e.obs.RecordBytes(ctx, int64(compressedLen), append(e.attrs("save", key), observability.AttrDirection.String(observability.DirectionWrite))...)
	finish(err)
	return md, err
}

func (e *Engine) save(ctx context.Context, key string, agentStateJSON []byte, input Input) (metadata.Metadata, int, error) {
	normalized, err := canonicalizeAgentState(agentStateJSON)
	if err != nil {
		return metadata.Metadata{}, 0, err
	}

	mdPtr, err := metadata.New(input.AgentID, input.SessionID, input.SnapshotIndex)
	if err != nil {
		return metadata.Metadata{}, 0, err
	}
	md := *mdPtr

	if input.Description != "" {
		md = md.WithDescription(input.Description)
	}
	alg := input.CompressionAlgorithm
	if alg == "" {
		alg = compression.Gzip
	}
	md = md.WithCompressionAlgorithm(alg)
	md = md.WithHash(normalized)

	if err := md.Validate(); err != nil {
		return metadata.Metadata{}, 0, err
	}

	// First framing: measure the pre-compression container's size so the
	// engine can report it, per §4.10 step 4.
	framed, err := container.Serialize(container.Container{Metadata: md, AgentState: normalized})
	if err != nil {
		return metadata.Metadata{}, 0, err
	}
	md = md.WithUncompressedSize(uint64(len(framed)))

	// Re-frame with the now-final uncompressed_size so the stored
	// container carries it. compressed_size can't be embedded this way:
	// it isn't known until after compression, so it travels only on the
	// metadata this call returns, not inside the stored artifact.
	framed, err = container.Serialize(container.Container{Metadata: md, AgentState: normalized})
	if err != nil {
		return metadata.Metadata{}, 0, err
	}

	level := input.CompressionLevel
	if level == 0 {
		level = e.compressionLevel
	}
	codec, err := compression.ForAlgorithm(alg, level)
	if err != nil {
		return metadata.Metadata{}, 0, err
	}
	compressed, err := codec.Compress(framed)
	if err != nil {
		return metadata.Metadata{}, 0, err
	}
	md = md.WithCompressedSize(uint64(len(compressed)))

	if err := e.adapter.Save(ctx, key, compressed); err != nil {
		return metadata.Metadata{}, len(compressed), err
	}

	return md, len(compressed), nil
}

// Load fetches key, decompresses and parses its container, and verifies
// that the observed agent_state hashes to metadata.content_hash. A hash
// mismatch is fatal and is never auto-repaired, per §3 invariant 2.
func (e *Engine) Load(ctx context.Context, key string) (metadata.Metadata, []byte, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.load", e.attrs("load", key)...)
	md, agentState, compressedLen, err := e.load(ctx, key, true)
	e.obs.RecordBytes(ctx, int64(compressedLen), append(e.attrs("load", key), observability.AttrDirection.String(observability.DirectionRead))...)
	finish(err)
	return md, agentState, err
}

// GetMetadata fetches key and returns only its metadata, skipping the
// hash verification Load performs. Callers that need integrity MUST call
// Verify instead, per §4.10.
func (e *Engine) GetMetadata(ctx context.Context, key string) (metadata.Metadata, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.get_metadata", e.attrs("get_metadata", key)...)
	md, _, compressedLen, err := e.load(ctx, key, false)
	e.obs.RecordBytes(ctx, int64(compressedLen), append(e.attrs("get_metadata", key), observability.AttrDirection.String(observability.DirectionRead))...)
	finish(err)
	return md, err
}

// Verify runs the full load path and discards the payload, returning
// success iff every check passes.
func (e *Engine) Verify(ctx context.Context, key string) error {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.verify", e.attrs("verify", key)...)
	_, _, _, err := e.load(ctx, key, true)
	finish(err)
	return err
}

func (e *Engine) load(ctx context.Context, key string, verifyHash bool) (metadata.Metadata, []byte, int, error) {
	compressed, err := e.adapter.Load(ctx, key)
	if err != nil {
		return metadata.Metadata{}, nil, 0, err
	}

	alg := compression.None
	if looksLikeGzip(compressed) {
		alg = compression.Gzip
	}
	codec, err := compression.ForAlgorithm(alg, 0)
	if err != nil {
		return metadata.Metadata{}, nil, len(compressed), err
	}
	framed, err := codec.Decompress(compressed)
	if err != nil {
		return metadata.Metadata{}, nil, len(compressed), err
	}

	c, err := container.Parse(framed)
	if err != nil {
		return metadata.Metadata{}, nil, len(compressed), err
	}

	agentState, err := canonicalizeAgentState(c.AgentState)
	if err != nil {
		return metadata.Metadata{}, nil, len(compressed), err
	}

	if verifyHash {
		if err := c.Metadata.VerifyIntegrity(agentState); err != nil {
			return metadata.Metadata{}, nil, len(compressed), err
		}
	}

	return c.Metadata, agentState, len(compressed), nil
}

// Exists reports whether key resolves to an artifact. It is a thin
// pass-through to the adapter.
func (e *Engine) Exists(ctx context.Context, key string) (bool, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.exists", e.attrs("exists", key)...)
	ok, err := e.adapter.Exists(ctx, key)
	finish(err)
	return ok, err
}

// Delete removes key. It is idempotent: a missing key is not an error.
func (e *Engine) Delete(ctx context.Context, key string) error {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.delete", e.attrs("delete", key)...)
	err := e.adapter.Delete(ctx, key)
	finish(err)
	return err
}

// List yields keys under prefix lazily. The returned iterator is finite
// and not restartable, per §4.6.
func (e *Engine) List(ctx context.Context, prefix string) (storage.KeyIterator, error) {
	ctx, finish := e.obs.TrackOperation(ctx, "snapshot.list", e.attrs("list", prefix)...)
	it, err := e.adapter.List(ctx, prefix)
	finish(err)
	return it, err
}
