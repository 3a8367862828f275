// Package s3 implements the contract.Adapter contract against an
// S3-compatible object store.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/agentsnap/persist-core/pkg/observability"
	"github.com/agentsnap/persist-core/pkg/persisterr"
	"github.com/agentsnap/persist-core/pkg/retry"
	"github.com/agentsnap/persist-core/pkg/storage/contract"
)

// MultipartThreshold is the payload size above which Save switches from a
// single PUT to a multipart upload.
const MultipartThreshold = 8 * 1024 * 1024

// PartSize is the size of each part in a multipart upload.
const PartSize = 8 * 1024 * 1024

// MaxParallelParts bounds how many multipart parts are uploaded
// concurrently.
const MaxParallelParts = 4

// Config configures an Adapter.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string // optional custom endpoint (MinIO, LocalStack, ...)
	Prefix   string // optional object-key prefix
	KMSKeyID string // optional SSE-KMS key id

	// Retry configures the coordinator used for transient-error recovery.
	// The zero value uses retry package defaults.
	Retry retry.Options

	// Observability, if set, receives a retries_total event (with backend,
	// op, attempt, and error-kind attributes) on every retry-eligible
	// failure the coordinator observes.
	Observability *observability.Provider

	// RateLimiter, if set, gates every outbound call through Wait before it
	// reaches the network, independently of the retry budget.
	RateLimiter *rate.Limiter
}

// Adapter is a contract.Adapter backed by an S3-compatible bucket.
type Adapter struct {
	client   *s3.Client
	bucket   string
	prefix   string
	kmsKeyID string
	retrier  *retry.Coordinator
	limiter  *rate.Limiter
}

var _ contract.Adapter = (*Adapter)(nil)

// New constructs an Adapter and eagerly validates that the bucket exists
// and is accessible, failing fast rather than on first use.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, persisterr.Wrap(persisterr.Configuration, err, "load AWS config")
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// One SDK attempt per call: transient failures are retried only by
		// the retry coordinator, so retries_total sees every retry.
		o.RetryMaxAttempts = 1
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	retryOpts := cfg.Retry
	if cfg.Observability != nil {
		userOnRetry := retryOpts.OnRetry
		obs := cfg.Observability
		retryOpts.OnRetry = func(ctx context.Context, label string, attempt int, err error) {
			_, op, _ := strings.Cut(label, ":")
			attrs := []attribute.KeyValue{
				observability.AttrBackend.String("s3"),
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

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.Bucket)}); err != nil {
		return nil, classifyError("head_bucket", err, "").WithBackend("s3")
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
		return persisterr.Wrap(persisterr.Transient, err, "s3 rate limiter wait").WithBackend("s3")
	}
	return nil
}

// Backend implements contract.Adapter.
func (a *Adapter) Backend() string { return "s3" }

func (a *Adapter) objectKey(key string) string { return a.prefix + key }

func (a *Adapter) Save(ctx context.Context, key string, data []byte) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	if len(data) > MultipartThreshold {
		return a.saveMultipart(ctx, key, bytes.NewReader(data), int64(len(data)))
	}
	_, err := retry.Do(ctx, a.retrier, "s3:save", func(ctx context.Context) (struct{}, error) {
		input := &s3.PutObjectInput{
			Bucket:      aws.String(a.bucket),
			Key:         aws.String(a.objectKey(key)),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/gzip"),
		}
		a.applySSE(input)
		_, err := a.client.PutObject(ctx, input)
		if err != nil {
			return struct{}{}, classifyError("put_object", err, key).WithBackend("s3").WithKey(key)
		}
		return struct{}{}, nil
	})
	return err
}

func (a *Adapter) applySSE(input *s3.PutObjectInput) {
	if a.kmsKeyID == "" {
		return
	}
	input.ServerSideEncryption = types.ServerSideEncryptionAwsKms
	input.SSEKMSKeyId = aws.String(a.kmsKeyID)
}

func (a *Adapter) SaveStream(ctx context.Context, key string, r io.Reader) error {
	// The streaming size is unknown up front; always go through multipart
	// so parts can be buffered and uploaded incrementally.
	return a.saveMultipart(ctx, key, r, -1)
}

func (a *Adapter) saveMultipart(ctx context.Context, key string, r io.Reader, size int64) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	objectKey := a.objectKey(key)

	create := &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(objectKey),
		ContentType: aws.String("application/gzip"),
	}
	if a.kmsKeyID != "" {
		create.ServerSideEncryption = types.ServerSideEncryptionAwsKms
		create.SSEKMSKeyId = aws.String(a.kmsKeyID)
	}
	createOut, err := a.client.CreateMultipartUpload(ctx, create)
	if err != nil {
		return classifyError("create_multipart_upload", err, key).WithBackend("s3").WithKey(key)
	}
	uploadID := createOut.UploadId

	abort := func() {
		_, _ = a.client.AbortMultipartUpload(context.Background(), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(a.bucket),
			Key:      aws.String(objectKey),
			UploadId: uploadID,
		})
	}

	parts, err := a.uploadParts(ctx, objectKey, uploadID, r)
	if err != nil {
		abort()
		return err
	}

	_, err = retry.Do(ctx, a.retrier, "s3:complete_multipart_upload", func(ctx context.Context) (struct{}, error) {
		_, err := a.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(a.bucket),
			Key:             aws.String(objectKey),
			UploadId:        uploadID,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err != nil {
			return struct{}{}, classifyError("complete_multipart_upload", err, key).WithBackend("s3").WithKey(key)
		}
		return struct{}{}, nil
	})
	if err != nil {
		abort()
		return err
	}
	return nil
}

// uploadParts reads r in PartSize chunks and uploads them, up to
// MaxParallelParts concurrently. Reading stays sequential (one buffer at a
// time); only the network upload of each buffer runs in the background, so
// slow uploads overlap instead of serializing behind each other.
func (a *Adapter) uploadParts(ctx context.Context, objectKey string, uploadID *string, r io.Reader) ([]types.CompletedPart, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(MaxParallelParts)

	parts := make([]types.CompletedPart, 0, 8)
	for partNum := int32(1); ; partNum++ {
		buf := make([]byte, PartSize)
		n, readErr := io.ReadFull(r, buf)
		if n == 0 && readErr != nil {
			break
		}
		buf = buf[:n]
		num := partNum
		parts = append(parts, types.CompletedPart{PartNumber: aws.Int32(num)})
		idx := len(parts) - 1

		g.Go(func() error {
			out, err := a.client.UploadPart(gctx, &s3.UploadPartInput{
				Bucket:     aws.String(a.bucket),
				Key:        aws.String(objectKey),
				UploadId:   uploadID,
				PartNumber: aws.Int32(num),
				Body:       bytes.NewReader(buf),
			})
			if err != nil {
				return classifyError("upload_part", err, objectKey).WithBackend("s3")
			}
			parts[idx].ETag = out.ETag
			return nil
		})

		if readErr == io.EOF || readErr == io.ErrUnexpectedEOF {
			break
		}
		if readErr != nil {
			_ = g.Wait()
			return nil, persisterr.Wrap(persisterr.StorageIo, readErr, "read payload for multipart upload").WithBackend("s3")
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return parts, nil
}

func (a *Adapter) Load(ctx context.Context, key string) ([]byte, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return retry.Do(ctx, a.retrier, "s3:load", func(ctx context.Context) ([]byte, error) {
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.objectKey(key)),
		})
		if err != nil {
			return nil, classifyError("get_object", err, key).WithBackend("s3").WithKey(key)
		}
		defer out.Body.Close()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, persisterr.Wrap(persisterr.StorageIo, err, "read object body for %s", key).WithBackend("s3").WithKey(key)
		}
		return data, nil
	})
}

func (a *Adapter) LoadStream(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	out, err := a.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err != nil {
		return nil, classifyError("get_object", err, key).WithBackend("s3").WithKey(key)
	}
	return out.Body, nil
}

func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	if err := a.wait(ctx); err != nil {
		return false, err
	}
	_, err := a.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(key)),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, classifyError("head_object", err, key).WithBackend("s3").WithKey(key)
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	if err := a.wait(ctx); err != nil {
		return err
	}
	_, err := retry.Do(ctx, a.retrier, "s3:delete", func(ctx context.Context) (struct{}, error) {
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(a.objectKey(key)),
		})
		if err != nil && !isNotFound(err) {
			return struct{}{}, classifyError("delete_object", err, key).WithBackend("s3").WithKey(key)
		}
		return struct{}{}, nil
	})
	return err
}

func (a *Adapter) List(ctx context.Context, prefix string) (contract.KeyIterator, error) {
	return &listIterator{a: a, ctx: ctx, fullPrefix: a.prefix + prefix}, nil
}

// listIterator pages through ListObjectsV2 lazily, one page of keys at a
// time, stripping the configured bucket prefix before handing keys back.
type listIterator struct {
	a          *Adapter
	ctx        context.Context
	fullPrefix string
	token      *string
	buffer     []string
	done       bool
}

func (it *listIterator) Next(ctx context.Context) (string, error) {
	for len(it.buffer) == 0 {
		if it.done {
			return "", io.EOF
		}
		if err := it.fetchPage(); err != nil {
			return "", err
		}
	}
	key := it.buffer[0]
	it.buffer = it.buffer[1:]
	return key, nil
}

func (it *listIterator) fetchPage() error {
	if err := it.a.wait(it.ctx); err != nil {
		return err
	}
	out, err := it.a.client.ListObjectsV2(it.ctx, &s3.ListObjectsV2Input{
		Bucket:            aws.String(it.a.bucket),
		Prefix:            aws.String(it.fullPrefix),
		ContinuationToken: it.token,
	})
	if err != nil {
		return classifyError("list_objects_v2", err, it.fullPrefix).WithBackend("s3")
	}
	for _, obj := range out.Contents {
		k := aws.ToString(obj.Key)
		if len(k) >= len(it.a.prefix) {
			k = k[len(it.a.prefix):]
		}
		it.buffer = append(it.buffer, k)
	}
	if out.IsTruncated != nil && *out.IsTruncated {
		it.token = out.NextContinuationToken
	} else {
		it.done = true
	}
	return nil
}

// classifyError maps an AWS SDK error to the engine's closed error
// taxonomy, driven off typed SDK errors instead of substring matching.
func classifyError(op string, err error, key string) *persisterr.Error {
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return persisterr.Wrap(persisterr.NotFound, err, "s3 %s: object %q not found", op, key)
	}
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return persisterr.Wrap(persisterr.NotFound, err, "s3 %s: not found", op)
	}
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return persisterr.Wrap(persisterr.Configuration, err, "s3 %s: bucket not found", op)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "Forbidden":
			return persisterr.Wrap(persisterr.PermissionDenied, err, "s3 %s: access denied", op)
		case "InvalidBucketName":
			return persisterr.Wrap(persisterr.Configuration, err, "s3 %s: invalid bucket name", op)
		case "SlowDown", "ServiceUnavailable", "InternalError", "RequestTimeout":
			return persisterr.Wrap(persisterr.Transient, err, "s3 %s: %s", op, apiErr.ErrorCode())
		}
	}

	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) {
		status := respErr.HTTPStatusCode()
		switch {
		case status == http.StatusNotFound:
			return persisterr.Wrap(persisterr.NotFound, err, "s3 %s: not found", op)
		case status == http.StatusForbidden:
			return persisterr.Wrap(persisterr.PermissionDenied, err, "s3 %s: access denied", op)
		case status >= 500 || status == http.StatusTooManyRequests:
			return persisterr.Wrap(persisterr.Transient, err, "s3 %s: http %d", op, status)
		}
	}

	// Dispatch failures and timeouts surface as generic errors from the
	// transport layer; treat anything not otherwise classified as
	// transient so the retry coordinator gets a chance at network blips.
	return persisterr.Wrap(persisterr.Transient, err, "s3 %s failed", op)
}

func isNotFound(err error) bool {
	var notFound *types.NotFound
	if errors.As(err, &notFound) {
		return true
	}
	var nsk *types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}
	var respErr *smithyhttp.ResponseError
	return errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound
}
