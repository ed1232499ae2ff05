package s3archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/phrazzld/taskgate/internal/task"
)

var (
	ErrInvalidConfig      = errors.New("s3archive: bucket and region are required")
	ErrFailedToLoadConfig = errors.New("s3archive: failed to load AWS config")
	ErrBucketNotFound     = errors.New("s3archive: bucket not found")
	ErrAccessDenied       = errors.New("s3archive: access denied")
	ErrServiceUnavailable = errors.New("s3archive: service unavailable")
)

// S3Client is the subset of the S3 API the archive uses.
type S3Client interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Config locates the archive bucket.
type Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	AccessKeyID    string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
	UploadTimeout  time.Duration
}

// Option configures an Archive.
type Option func(*options)

type options struct {
	client S3Client
	now    func() time.Time
}

// WithS3Client sets a pre-configured client, skipping AWS config loading.
func WithS3Client(client S3Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithClock overrides the time used to build object keys.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// Archive implements task.DeadLetterSink.
type Archive struct {
	client        S3Client
	bucket        string
	prefix        string
	uploadTimeout time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

var _ task.DeadLetterSink = (*Archive)(nil)

// New creates an archive for cfg.Bucket.
func New(ctx context.Context, cfg Config, logger *slog.Logger, opts ...Option) (*Archive, error) {
	if cfg.Bucket == "" || cfg.Region == "" {
		return nil, ErrInvalidConfig
	}
	if logger == nil {
		logger = slog.Default()
	}

	o := &options{now: time.Now}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		loadOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		if cfg.AccessKeyID != "" && cfg.SecretKey != "" {
			loadOpts = append(loadOpts, config.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretKey, ""),
			))
		}
		awsConfig, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFailedToLoadConfig, err)
		}
		client = s3.NewFromConfig(awsConfig, func(o *s3.Options) {
			if cfg.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Endpoint)
			}
			o.UsePathStyle = cfg.ForcePathStyle
		})
	}

	return &Archive{
		client:        client,
		bucket:        cfg.Bucket,
		prefix:        strings.Trim(cfg.Prefix, "/"),
		uploadTimeout: cfg.UploadTimeout,
		now:           o.now,
		logger:        logger.With(slog.String("component", "dead_letter_archive")),
	}, nil
}

// Key returns the object key for msg archived at t.
func (a *Archive) Key(msg task.DeadLetterMessage, t time.Time) string {
	name := fmt.Sprintf("%s_%s.json.gz", t.UTC().Format("20060102-150405"), msg.TaskID)
	if a.prefix == "" {
		return name
	}
	return path.Join(a.prefix, name)
}

// Archive uploads msg as a gzipped JSON object.
func (a *Archive) Archive(ctx context.Context, msg task.DeadLetterMessage) error {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(msg); err != nil {
		return fmt.Errorf("failed to encode dead letter %s: %w", msg.TaskID, err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress dead letter %s: %w", msg.TaskID, err)
	}

	if a.uploadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.uploadTimeout)
		defer cancel()
	}

	key := a.Key(msg, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"task-id":       msg.TaskID,
			"handler-kind":  msg.HandlerKind,
			"final-attempt": fmt.Sprintf("%d", msg.FinalAttempt),
		},
	})
	if err != nil {
		return mapError(err, key)
	}

	a.logger.InfoContext(ctx, "dead letter archived",
		"task_id", msg.TaskID,
		"bucket", a.bucket,
		"key", key,
		"bytes", buf.Len())
	return nil
}

func mapError(err error, key string) error {
	var nsb *types.NoSuchBucket
	if errors.As(err, &nsb) {
		return ErrBucketNotFound
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch code := apiErr.ErrorCode(); code {
		case "AccessDenied":
			return fmt.Errorf("%w: put %s", ErrAccessDenied, key)
		case "SlowDown", "ServiceUnavailable", "RequestTimeout":
			return fmt.Errorf("%w: put %s", ErrServiceUnavailable, key)
		case "NoSuchBucket":
			return ErrBucketNotFound
		default:
			return fmt.Errorf("put %s failed (code: %s): %w", key, code, err)
		}
	}
	return fmt.Errorf("put %s failed: %w", key, err)
}
