//go:build gcp

package storage

import (
	"context"
	"os"

	"github.com/agentsnap/persist-core/pkg/observability"
	"github.com/agentsnap/persist-core/pkg/persisterr"
	"github.com/agentsnap/persist-core/pkg/storage/gcs"
)

func newGCSFromEnv(ctx context.Context, obs *observability.Provider) (Adapter, error) {
	bucket := os.Getenv("PERSIST_GCS_BUCKET")
	if bucket == "" {
		return nil, persisterr.New(persisterr.Configuration, "PERSIST_GCS_BUCKET is required for the gcs backend")
	}
	limiter, err := rateLimiterFromEnv("PERSIST_GCS_RATE_LIMIT")
	if err != nil {
		return nil, err
	}
	return gcs.New(ctx, gcs.Config{
		Bucket:        bucket,
		Prefix:        os.Getenv("PERSIST_GCS_PREFIX"),
		KMSKeyID:      os.Getenv("PERSIST_GCS_KMS_KEY"),
		Observability: obs,
		RateLimiter:   limiter,
	})
}
