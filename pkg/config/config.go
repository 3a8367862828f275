// Package config centralizes the PERSIST_* environment variables the
// engine and its storage adapters read. There is no file or flag
// parsing: configuration is environment-only, 12-factor style.
package config

import (
	"os"
	"strconv"

	"github.com/agentsnap/persist-core/pkg/compression"
	"github.com/agentsnap/persist-core/pkg/observability"
)

// Backend names accepted by PERSIST_BACKEND.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// Config holds every environment-derived setting the engine consumes.
type Config struct {
	Backend string

	LocalBaseDir string

	S3Bucket   string
	S3Region   string
	S3Endpoint string
	S3Prefix   string
	S3KMSKeyID string

	GCSBucket   string
	GCSPrefix   string
	GCSKMSKeyID string

	// S3RateLimitPerSecond and GCSRateLimitPerSecond cap outbound requests
	// per second, independent of the retry budget. Zero means unlimited.
	S3RateLimitPerSecond  float64
	GCSRateLimitPerSecond float64

	CompressionLevel int

	// Verbose controls whether storage keys are logged in full
	// (true) or truncated to their last path component (false).
	Verbose bool
}

// Load reads Config from the process environment.
func Load() *Config {
	return &Config{
		Backend: envOr("PERSIST_BACKEND", BackendLocal),

		LocalBaseDir: envOr("PERSIST_LOCAL_BASE_DIR", "data/snapshots"),

		S3Bucket:   os.Getenv("PERSIST_S3_BUCKET"),
		S3Region:   firstNonEmpty(os.Getenv("PERSIST_S3_REGION"), os.Getenv("AWS_REGION"), "us-east-1"),
		S3Endpoint: os.Getenv("PERSIST_S3_ENDPOINT"),
		S3Prefix:   os.Getenv("PERSIST_S3_PREFIX"),
		S3KMSKeyID: os.Getenv("PERSIST_S3_KMS_KEY"),

		GCSBucket:   os.Getenv("PERSIST_GCS_BUCKET"),
		GCSPrefix:   os.Getenv("PERSIST_GCS_PREFIX"),
		GCSKMSKeyID: os.Getenv("PERSIST_GCS_KMS_KEY"),

		S3RateLimitPerSecond:  rateLimit("PERSIST_S3_RATE_LIMIT"),
		GCSRateLimitPerSecond: rateLimit("PERSIST_GCS_RATE_LIMIT"),

		CompressionLevel: compressionLevel(),

		Verbose: observability.Verbose(),
	}
}

func compressionLevel() int {
	raw := os.Getenv("PERSIST_COMPRESSION_LEVEL")
	if raw == "" {
		return compression.DefaultLevel
	}
	level, err := strconv.Atoi(raw)
	if err != nil || level < 1 || level > 9 {
		return compression.DefaultLevel
	}
	return level
}

func rateLimit(key string) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return 0
	}
	limit, err := strconv.ParseFloat(raw, 64)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
