// Package gcs implements the contract.Adapter contract against Google Cloud
// Storage.
package gcs

import (
	"bytes"
	"context"
	"errors"
	"hash/crc32"
	"io"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"

	"github.com/agentsnap/persist-core/pkg/observability"
	"github.com/agentsnap/persist-core/pkg/persisterr"
	"github.com/agentsnap/persist-core/pkg/retry"
	"github.com/agentsnap/persist-core/pkg/storage/contract"
)

// ResumableThreshold is the payload size above which Save opens a
// resumable upload session instead of writing in one shot.
const ResumableThreshold = 5 * 1024 * 1024

// Config configures an Adapter.
type Config struct {
	Bucket   string
	Prefix   string
	KMSKeyID string // optional bucket-default KMS key
	Retry    retry.Options

	// Observability, if set, receives a retries_total event (with backend,
	// op, attempt, and error-kind attributes) on every retry-eligible
	// failure the coordinator observes.
	Observability *observability.Provider

	// RateLimiter, if set, gates every outbound call through Wait before it
	// reaches the network, independently of the retry budget.
	RateLimiter *rate.Limiter
}

// Adapter is a contract.Adapter backed by a Google Cloud Storage bucket.
type Adapter struct {
	client   *gstorage.Client
	bucket   string
	prefix   string
	kmsKeyID string
	retrier  *retry.Coordinator
	limiter  *rate.Limiter
}

var _ contract.Adapter = (*Adapter)(nil)

var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// New constructs an Adapter, eagerly validating bucket existence and
// access.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	client, err := gstorage.NewClient(ctx)
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Configuration, err, "create GCS client")
	}

	retryOpts := cfg.Retry
	if cfg.Observability != nil {
		userOnRetry := retryOpts.OnRetry
		obs := cfg.Observability
		retryOpts.OnRetry = func(ctx context.Context, label string, attempt int, err error) {
			_, op, _ := strings.Cut(label, ":")
			attrs := []attribute.KeyValue{
				observability.AttrBackend.String("gcs"),
				observability.AttrOperation.String(op),
				observability.AttrAttempt.Int(attempt),
			}
			if kind, ok := persisterr.KindOf(err); ok {
				attrs = append(attrs, observability.AttrErrorKind.String(string(kind)))
			}
			obs.RecordRetry(ctx, attrs...)
			if userOnRetry != nil {
				userOnRetry(ctx, label, attempt, err)
			}
		}
	}

	a := &Adapter{
		client:   client,
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		kmsKeyID: cfg.KMSKeyID,
		retrier:  retry.NewCoordinator(retryOpts),
		limiter:  cfg.RateLimiter,
	}

	bucketAttrs, err := client.Bucket(cfg.Bucket).Attrs(ctx)
	if err != nil {
		return nil, classifyError("get_bucket_attrs", err, "").WithBackend("gcs")
	}

	// When configured, the bucket's default encryption uses the supplied
	// KMS key; skip the Update call if it is already set to avoid needing
	// storage.admin on every startup.
	if a.kmsKeyID != "" && (bucketAttrs.Encryption == nil || bucketAttrs.Encryption.DefaultKMSKeyName != a.kmsKeyID) {
		if _, err := client.Bucket(cfg.Bucket).Update(ctx, gstorage.BucketAttrsToUpdate{
			Encryption: &gstorage.BucketEncryption{DefaultKMSKeyName: a.kmsKeyID},
		}); err != nil {
			return nil, classifyError("update_bucket_encryption", err, "").WithBackend("gcs")
		}
	}
	return a, nil
}

// wait blocks until the rate limiter admits one request, or returns
// immediately if no limiter is configured.
func (a *Adapter) wait(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	if err := a.limiter.Wait(ctx); err != nil {
		return persisterr.Wrap(persisterr.Transient, err, "gcs rate limiter wait").WithBackend("gcs")
	}
	return nil
}

// Backend implements contract.Adapter.
func (a *Adapter) Backend() string { return "gcs" }

func (a *Adapter) objectKey(key string) string { return a.prefix + key }

func (a *Adapter) object(key string) *gstorage.ObjectHandle {
	return a.client.Bucket(a.bucket).Object(a.objectKey(key))
}

func (a *Adapter) Save(ctx context.Context, key string, data []byte) error {
	if len(data) > ResumableThreshold {
		return a.SaveStream(ctx, key, bytes.NewReader(data))
	}
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := retry.Do(ctx, a.retrier, "gcs:save", func(ctx context.Context) (struct{}, error) {
		w := a.object(key).NewWriter(ctx)
		w.ContentType = "application/gzip"
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return struct{}{}, classifyError("upload_object", err, key).WithBackend("gcs").WithKey(key)
		}
		if err := w.Close(); err != nil {
			return struct{}{}, classifyError("upload_object", err, key).WithBackend("gcs").WithKey(key)
		}
		return struct{}{}, nil
	})
	return err
}

func (a *Adapter) SaveStream(ctx context.Context, key string, r io.Reader) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	w := a.object(key).NewWriter(ctx)
	w.ContentType = "application/gzip"
	// ChunkSize governs the resumable session's chunk boundary; the SDK
	// negotiates a resumable upload automatically once content exceeds it.
	w.ChunkSize = ResumableThreshold

	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return classifyError("upload_object", err, key).WithBackend("gcs").WithKey(key)
	}
	if err := w.Close(); err != nil {
		return classifyError("upload_object", err, key).WithBackend("gcs").WithKey(key)
	}
	return nil
}

func (a *Adapter) Load(ctx context.Context, key string) ([]byte, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return retry.Do(ctx, a.retrier, "gcs:load", func(ctx context.Context) ([]byte, error) {
		obj := a.object(key)
		attrs, err := obj.Attrs(ctx)
		if err != nil {
			return nil, classifyError("get_object_attrs", err, key).WithBackend("gcs").WithKey(key)
		}

		reader, err := obj.NewReader(ctx)
		if err != nil {
			return nil, classifyError("download_object", err, key).WithBackend("gcs").WithKey(key)
		}
		defer reader.Close()

		data, err := io.ReadAll(reader)
		if err != nil {
			return nil, persisterr.Wrap(persisterr.StorageIo, err, "read object body for %s", key).WithBackend("gcs").WithKey(key)
		}

		// The bucket's own CRC32C check is independent of, and additional
		// to, the engine's SHA-256 verification.
		if attrs.CRC32C != 0 {
			if actual := crc32.Checksum(data, crc32cTable); actual != attrs.CRC32C {
				return nil, persisterr.NewIntegrityCheckFailed(
					formatCRC32C(attrs.CRC32C), formatCRC32C(actual),
				).WithBackend("gcs").WithKey(key)
			}
		}
		return data, nil
	})
}

func (a *Adapter) LoadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	reader, err := a.object(key).NewReader(ctx)
	if err != nil {
		return nil, classifyError("download_object", err, key).WithBackend("gcs").WithKey(key)
	}
	return reader, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	if err := a.wait(ctx); err != nil {
		return false, err
	}
	_, err := a.object(key).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return false, nil
	}
	return false, classifyError("get_object_attrs", err, key).WithBackend("gcs").WithKey(key)
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := retry.Do(ctx, a.retrier, "gcs:delete", func(ctx context.Context) (struct{}, error) {
		err := a.object(key).Delete(ctx)
		if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
			return struct{}{}, classifyError("delete_object", err, key).WithBackend("gcs").WithKey(key)
		}
		return struct{}{}, nil
	})
	return err
}

func (a *Adapter) List(ctx context.Context, prefix string) (contract.KeyIterator, error) {
	it := a.client.Bucket(a.bucket).Objects(ctx, &gstorage.Query{Prefix: a.prefix + prefix})
	return &listIterator{a: a, it: it}, nil
}

// objectPager is the subset of *gstorage.ObjectIterator's contract
// listIterator depends on, narrowed so tests can substitute a fake pager
// without a live bucket.
type objectPager interface {
	Next() (*gstorage.ObjectAttrs, error)
}

type listIterator struct {
	a  *Adapter
	it objectPager
}

func (l *listIterator) Next(ctx context.Context) (string, error) {
	if err := l.a.wait(ctx); err != nil {
		return "", err
	}
	attrs, err := l.it.Next()
	if err == iterator.Done {
		return "", io.EOF
	}
	if err != nil {
		return "", classifyError("list_objects", err, "").WithBackend("gcs")
	}
	k := attrs.Name
	if len(k) >= len(l.a.prefix) {
		k = k[len(l.a.prefix):]
	}
	return k, nil
}

func formatCRC32C(v uint32) string {
	const hex = "0123456789abcdef"
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = hex[v&0xf]
		v >>= 4
	}
	return string(b)
}

// classifyError maps a GCS client error to the engine's closed error
// taxonomy, driven off the SDK's typed googleapi.Error instead of
// stringifying the response.
func classifyError(op string, err error, key string) *persisterr.Error {
	if errors.Is(err, gstorage.ErrObjectNotExist) {
		return persisterr.Wrap(persisterr.NotFound, err, "gcs %s: object %q not found", op, key)
	}
	if errors.Is(err, gstorage.ErrBucketNotExist) {
		return persisterr.Wrap(persisterr.Configuration, err, "gcs %s: bucket not found", op)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 404:
			return persisterr.Wrap(persisterr.NotFound, err, "gcs %s: not found", op)
		case 401, 403:
			return persisterr.Wrap(persisterr.PermissionDenied, err, "gcs %s: permission denied", op)
		case 429, 500, 502, 503, 504:
			return persisterr.Wrap(persisterr.Transient, err, "gcs %s: http %d", op, apiErr.Code)
		}
	}

	return persisterr.Wrap(persisterr.Transient, err, "gcs %s failed", op)
}
