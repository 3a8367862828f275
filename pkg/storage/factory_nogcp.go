//go:build !gcp

package storage

import (
	"context"

	"github.com/agentsnap/persist-core/pkg/observability"
	"github.com/agentsnap/persist-core/pkg/persisterr"
)

func newGCSFromEnv(ctx context.Context, obs *observability.Provider) (Adapter, error) {
	return nil, persisterr.New(persisterr.Configuration, "GCS support is not enabled in this build (build with -tags gcp)")
}
