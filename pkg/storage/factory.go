package storage

import (
	"context"
	"os"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/agentsnap/persist-core/pkg/observability"
	"github.com/agentsnap/persist-core/pkg/persisterr"
	"github.com/agentsnap/persist-core/pkg/storage/local"
	"github.com/agentsnap/persist-core/pkg/storage/s3"
)

// Backend names accepted by PERSIST_BACKEND.
const (
	BackendLocal = "local"
	BackendS3    = "s3"
	BackendGCS   = "gcs"
)

// NewFromEnv builds an Adapter from the PERSIST_* environment variables. obs
// may be nil; when set, it is wired into the chosen backend's retry
// coordinator so retries_total observes real save/load/delete traffic.
//
//   - PERSIST_BACKEND: "local" (default), "s3", or "gcs"
//   - PERSIST_LOCAL_BASE_DIR: base directory for the local adapter (default "data/snapshots")
//   - PERSIST_S3_BUCKET (required for s3), PERSIST_S3_REGION, PERSIST_S3_ENDPOINT,
//     PERSIST_S3_PREFIX, PERSIST_S3_KMS_KEY, PERSIST_S3_RATE_LIMIT
//   - PERSIST_GCS_BUCKET (required for gcs), PERSIST_GCS_PREFIX, PERSIST_GCS_KMS_KEY,
//     PERSIST_GCS_RATE_LIMIT
//
// PERSIST_S3_RATE_LIMIT and PERSIST_GCS_RATE_LIMIT cap outbound requests per
// second (float, independent of the retry budget); unset or zero means
// unlimited.
func NewFromEnv(ctx context.Context, obs *observability.Provider) (Adapter, error) {
	backend := os.Getenv("PERSIST_BACKEND")
	if backend == "" {
		backend = BackendLocal
	}

	switch backend {
	case BackendLocal:
		return newLocalFromEnv()
	case BackendS3:
		return newS3FromEnv(ctx, obs)
	case BackendGCS:
		return newGCSFromEnv(ctx, obs)
	default:
		return nil, persisterr.New(persisterr.Configuration, "unsupported PERSIST_BACKEND %q", backend)
	}
}

// rateLimiterFromEnv parses a requests-per-second float from the named env
// var, returning nil when unset or zero (unlimited).
func rateLimiterFromEnv(name string) (*rate.Limiter, error) {
	v := os.Getenv(name)
	if v == "" {
		return nil, nil
	}
	limit, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Configuration, err, "parse %s", name)
	}
	if limit <= 0 {
		return nil, nil
	}
	burst := int(limit)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst), nil
}

func newLocalFromEnv() (Adapter, error) {
	baseDir := os.Getenv("PERSIST_LOCAL_BASE_DIR")
	if baseDir == "" {
		baseDir = "data/snapshots"
	}
	return local.New(baseDir)
}

func newS3FromEnv(ctx context.Context, obs *observability.Provider) (Adapter, error) {
	bucket := os.Getenv("PERSIST_S3_BUCKET")
	if bucket == "" {
		return nil, persisterr.New(persisterr.Configuration, "PERSIST_S3_BUCKET is required for the s3 backend")
	}
	region := os.Getenv("PERSIST_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}
	limiter, err := rateLimiterFromEnv("PERSIST_S3_RATE_LIMIT")
	if err != nil {
		return nil, err
	}
	return s3.New(ctx, s3.Config{
		Bucket:        bucket,
		Region:        region,
		Endpoint:      os.Getenv("PERSIST_S3_ENDPOINT"),
		Prefix:        os.Getenv("PERSIST_S3_PREFIX"),
		KMSKeyID:      os.Getenv("PERSIST_S3_KMS_KEY"),
		Observability: obs,
		RateLimiter:   limiter,
	})
}
