// Package compression provides the symmetric codecs the snapshot engine uses
// to shrink a serialized artifact container before handing it to a storage
// adapter. Algorithm identity travels in snapshot metadata so a reader
// always selects the matching inverse.
package compression

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/agentsnap/persist-core/pkg/persisterr"
)

// Algorithm names as recorded in SnapshotMetadata.CompressionAlgorithm.
const (
	Gzip Algorithm = "gzip"
	None Algorithm = "none"
)

// Algorithm identifies a codec by name.
type Algorithm string

// DefaultLevel is the gzip level used when the caller and the
// PERSIST_COMPRESSION_LEVEL environment variable are both silent.
const DefaultLevel = gzip.DefaultCompression // -1, which compress/flate runs as level 6

// Codec compresses and decompresses byte buffers symmetrically.
type Codec interface {
	// Compress returns the compressed form of data.
	Compress(data []byte) ([]byte, error)
	// Decompress returns the original form of a buffer produced by Compress.
	Decompress(data []byte) ([]byte, error)
	// Name is the Algorithm this codec implements, as recorded in metadata.
	Name() Algorithm
}

// ForAlgorithm resolves the codec matching the algorithm name recorded in an
// artifact's metadata. level is only used when constructing a gzip codec and
// is ignored for None.
func ForAlgorithm(alg Algorithm, level int) (Codec, error) {
	switch alg {
	case Gzip:
		return NewGzip(level), nil
	case None:
		return NewNone(), nil
	default:
		return nil, persisterr.New(persisterr.Validation, "unrecognized compression_algorithm %q", alg)
	}
}

// GzipCodec compresses with DEFLATE at a configurable level (1-9).
type GzipCodec struct {
	level int
}

// NewGzip builds a GzipCodec. A level of 0 selects DefaultLevel.
func NewGzip(level int) *GzipCodec {
	if level == 0 {
		level = DefaultLevel
	}
	return &GzipCodec{level: level}
}

func (c *GzipCodec) Name() Algorithm { return Gzip }

func (c *GzipCodec) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Compression, err, "create gzip writer at level %d", c.level)
	}
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return nil, persisterr.Wrap(persisterr.Compression, err, "write to gzip stream")
	}
	if err := w.Close(); err != nil {
		return nil, persisterr.Wrap(persisterr.Compression, err, "finish gzip stream")
	}
	return buf.Bytes(), nil
}

func (c *GzipCodec) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Compression, err, "open gzip stream")
	}
	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Compression, err, "read gzip stream")
	}
	return out, nil
}

// NoneCodec is the identity codec: callers use it to opt out of compression
// for payloads that are already compressed upstream.
type NoneCodec struct{}

// NewNone builds a NoneCodec.
func NewNone() *NoneCodec { return &NoneCodec{} }

func (c *NoneCodec) Name() Algorithm { return None }

func (c *NoneCodec) Compress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (c *NoneCodec) Decompress(data []byte) ([]byte, error) {
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}
