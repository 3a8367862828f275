// Package metadata defines the SnapshotMetadata record that identifies,
// sizes, and integrity-protects one stored artifact.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/agentsnap/persist-core/pkg/compression"
	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// FormatVersion is the current container schema version. A reader that does
// not recognize a stored artifact's format_version must refuse to load it.
const FormatVersion = 1

// Metadata describes one artifact: its identity, provenance, sizing, and
// integrity anchor. Field order here is the field order the container's
// JSON encoding uses; readers must not depend on it (§3 Invariants, §6).
type Metadata struct {
	AgentID              string                `json:"agent_id"`
	SessionID            string                `json:"session_id"`
	SnapshotIndex        uint64                `json:"snapshot_index"`
	Timestamp            time.Time             `json:"timestamp"`
	ContentHash          string                `json:"content_hash"`
	FormatVersion        int                   `json:"format_version"`
	SnapshotID           string                `json:"snapshot_id"`
	Description          string                `json:"description,omitempty"`
	UncompressedSize     uint64                `json:"uncompressed_size,omitempty"`
	CompressedSize       uint64                `json:"compressed_size,omitempty"`
	CompressionAlgorithm compression.Algorithm `json:"compression_algorithm"`
}

// New assigns snapshot_id, timestamp, format_version, and the default
// compression algorithm for a fresh artifact. agentID and sessionID must be
// non-empty.
func New(agentID, sessionID string, snapshotIndex uint64) (*Metadata, error) {
	if agentID == "" {
		return nil, persisterr.New(persisterr.Validation, "agent_id cannot be empty")
	}
	if sessionID == "" {
		return nil, persisterr.New(persisterr.Validation, "session_id cannot be empty")
	}
	return &Metadata{
		AgentID:              agentID,
		SessionID:            sessionID,
		SnapshotIndex:        snapshotIndex,
		Timestamp:            time.Now().UTC().Round(0), // strip monotonic reading so round-tripped metadata compares equal
		FormatVersion:        FormatVersion,
		SnapshotID:           uuid.NewString(),
		CompressionAlgorithm: compression.Gzip,
	}, nil
}

// WithDescription returns a copy of m with Description set.
func (m Metadata) WithDescription(description string) Metadata {
	m.Description = description
	return m
}

// WithCompressionAlgorithm returns a copy of m with CompressionAlgorithm set.
func (m Metadata) WithCompressionAlgorithm(alg compression.Algorithm) Metadata {
	m.CompressionAlgorithm = alg
	return m
}

// ComputeHash returns the lowercase hex SHA-256 digest of data.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WithHash returns a copy of m with ContentHash and UncompressedSize derived
// from the exact bytes the engine serialized for agent_state. The size field
// here tracks the agent_state payload, not the container; the engine
// overwrites UncompressedSize with the container's size after framing.
func (m Metadata) WithHash(agentStateBytes []byte) Metadata {
	m.ContentHash = ComputeHash(agentStateBytes)
	m.UncompressedSize = uint64(len(agentStateBytes))
	return m
}

// WithCompressedSize returns a copy of m with CompressedSize set.
func (m Metadata) WithCompressedSize(n uint64) Metadata {
	m.CompressedSize = n
	return m
}

// WithUncompressedSize returns a copy of m with UncompressedSize set.
func (m Metadata) WithUncompressedSize(n uint64) Metadata {
	m.UncompressedSize = n
	return m
}

// VerifyIntegrity recomputes SHA-256 over agentStateBytes and compares it
// against ContentHash, returning IntegrityCheckFailed on mismatch.
func (m Metadata) VerifyIntegrity(agentStateBytes []byte) error {
	actual := ComputeHash(agentStateBytes)
	if actual != m.ContentHash {
		return persisterr.NewIntegrityCheckFailed(m.ContentHash, actual)
	}
	return nil
}

// Validate enforces non-empty identifiers, a recognized format version, a
// recognized compression algorithm, and a well-formed content hash.
func (m Metadata) Validate() error {
	if m.AgentID == "" {
		return persisterr.New(persisterr.Validation, "agent_id cannot be empty")
	}
	if m.SessionID == "" {
		return persisterr.New(persisterr.Validation, "session_id cannot be empty")
	}
	if m.SnapshotID == "" {
		return persisterr.New(persisterr.Validation, "snapshot_id cannot be empty")
	}
	if m.FormatVersion != FormatVersion {
		return persisterr.New(persisterr.Validation, "unrecognized format_version %d (expected %d)", m.FormatVersion, FormatVersion)
	}
	if m.CompressionAlgorithm != compression.Gzip && m.CompressionAlgorithm != compression.None {
		return persisterr.New(persisterr.Validation, "unrecognized compression_algorithm %q", m.CompressionAlgorithm)
	}
	if len(m.ContentHash) != 64 {
		return persisterr.New(persisterr.Validation, "content_hash must be 64 hex characters, got %d", len(m.ContentHash))
	}
	if _, err := hex.DecodeString(m.ContentHash); err != nil {
		return persisterr.New(persisterr.Validation, "content_hash must be lowercase hex: %v", err)
	}
	if m.ContentHash != strings.ToLower(m.ContentHash) {
		return persisterr.New(persisterr.Validation, "content_hash must be lowercase hex")
	}
	return nil
}

// IsCompatible reports whether a reader that only understands FormatVersion
// can safely load m.
func (m Metadata) IsCompatible() bool {
	return m.FormatVersion == FormatVersion
}

// SuggestedFilename returns a default key for this snapshot, following the
// original engine's {agent_id}_{session_id}_{snapshot_index}_{timestamp}
// convention. It is a convenience for callers picking a key; it carries no
// weight in the serialized record or in round-tripping.
func (m Metadata) SuggestedFilename() string {
	return fmt.Sprintf("%s_%s_%d_%s.json.gz",
		m.AgentID, m.SessionID, m.SnapshotIndex, m.Timestamp.Format("20060102_150405"))
}
