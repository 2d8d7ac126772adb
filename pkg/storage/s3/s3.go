// Package s3 provides the S3 staging object store.
package s3

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/tripflow/tripflow/pkg/errors"
	"github.com/tripflow/tripflow/pkg/storage"
)

// Config holds S3 client configuration.
type Config struct {
	Region string
	Bucket string

	// Prefix is prepended to every key (e.g. "tripflow/").
	Prefix string

	// Endpoint overrides the default S3 endpoint, for S3-compatible
	// services such as MinIO or LocalStack.
	Endpoint string

	// UsePathStyle forces path-style addressing (MinIO, LocalStack).
	UsePathStyle bool

	// Credentials; the default chain is used when empty.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	OperationTimeout time.Duration
}

// DefaultConfig returns sensible defaults for a bucket and region.
func DefaultConfig(bucket, region string) Config {
	return Config{
		Bucket:           bucket,
		Region:           region,
		OperationTimeout: 2 * time.Minute,
	}
}

// Store implements storage.ObjectStore on an S3 bucket.
type Store struct {
	cfg    Config
	client *awss3.Client
}

// New creates an S3 store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeBadConfig, "failed to load AWS config")
	}

	var s3Opts []func(*awss3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	if cfg.UsePathStyle {
		s3Opts = append(s3Opts, func(o *awss3.Options) {
			o.UsePathStyle = true
		})
	}

	return &Store{
		cfg:    cfg,
		client: awss3.NewFromConfig(awsCfg, s3Opts...),
	}, nil
}

// Scheme returns "s3".
func (s *Store) Scheme() string {
	return "s3"
}

// Put uploads an object.
func (s *Store) Put(ctx context.Context, key string, data io.Reader) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	// PutObject signs the payload hash, which needs a seekable body of
	// known length. Staged artifacts arrive as pipe streams, so buffer
	// them; a monthly trip artifact fits in memory.
	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return errors.StorageUnavailable(err, s.location(key))
		}
		body = bytes.NewReader(buf)
	}

	// GetObject after PutObject of the same key is read-after-write
	// consistent on S3, which the staged-then-promoted lifecycle relies on.
	_, err := s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(key)),
		Body:   body,
	})
	if err != nil {
		return errors.StorageUnavailable(err, s.location(key))
	}
	return nil
}

// Get downloads an object.
func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	ctx, cancel := s.opCtx(ctx)

	out, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		cancel()
		var nsk *types.NoSuchKey
		if stderrors.As(err, &nsk) {
			return nil, errors.New(errors.CodeStorageUnavailable, "object not found").
				WithContext("location", s.location(key))
		}
		return nil, errors.StorageUnavailable(err, s.location(key))
	}

	return &cancelOnClose{ReadCloser: out.Body, cancel: cancel}, nil
}

// Delete removes an object. S3 DeleteObject on a missing key succeeds, so
// release stays idempotent for free.
func (s *Store) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		return errors.StorageUnavailable(err, s.location(key))
	}
	return nil
}

// Exists checks whether an object is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	_, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var nf *types.NotFound
		if stderrors.As(err, &nf) {
			return false, nil
		}
		return false, errors.StorageUnavailable(err, s.location(key))
	}
	return true, nil
}

// List returns objects under a prefix, following pagination.
func (s *Store) List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var results []storage.ObjectInfo
	var token *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &awss3.ListObjectsV2Input{
			Bucket:            aws.String(s.cfg.Bucket),
			Prefix:            aws.String(s.key(prefix)),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, errors.StorageUnavailable(err, s.location(prefix))
		}

		for _, obj := range out.Contents {
			results = append(results, storage.ObjectInfo{
				Key:          strings.TrimPrefix(aws.ToString(obj.Key), s.cfg.Prefix),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		token = out.NextContinuationToken
	}

	return results, nil
}

func (s *Store) key(key string) string {
	return s.cfg.Prefix + key
}

func (s *Store) location(key string) string {
	return "s3://" + s.cfg.Bucket + "/" + s.key(key)
}

func (s *Store) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.OperationTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.OperationTimeout)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *cancelOnClose) Close() error {
	r.cancel()
	return r.ReadCloser.Close()
}

var _ storage.ObjectStore = (*Store)(nil)
