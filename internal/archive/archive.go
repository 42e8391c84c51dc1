// Package archive keeps a copy of raw bulk-import uploads in an S3-compatible bucket.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"channelhub/backend/internal/config"
	"channelhub/backend/internal/logging"
)

type Archiver interface {
	// Put stores payload under a key derived from kind and name and returns that key.
	Put(ctx context.Context, kind string, name string, contentType string, payload []byte) (string, error)
}

type Noop struct{}

func (Noop) Put(_ context.Context, _ string, _ string, _ string, _ []byte) (string, error) {
	return "", nil
}

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archiver struct {
	client objectPutter
	bucket string
	now    func() time.Time
	logger *zap.Logger
}

func NewS3(ctx context.Context, cfg config.ArchiveConfig, logger *zap.Logger) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load archive aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return newS3WithClient(client, cfg.Bucket, logger), nil
}

func newS3WithClient(client objectPutter, bucket string, logger *zap.Logger) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logging.Or(logger).Named("archive"),
	}
}

func (a *S3Archiver) Put(ctx context.Context, kind string, name string, contentType string, payload []byte) (string, error) {
	key := a.objectKey(kind, name)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(payload),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", key, err)
	}

	a.logger.Info("import payload archived", zap.String("bucket", a.bucket), zap.String("key", key), zap.Int("bytes", len(payload)))
	return key, nil
}

// objectKey lays uploads out as <kind>/<yyyy>/<mm>/<dd>/<unix-nano>-<name>.
func (a *S3Archiver) objectKey(kind string, name string) string {
	now := a.now()
	name = strings.TrimSpace(path.Base(name))
	if name == "" || name == "." || name == "/" {
		name = "upload"
	}
	return fmt.Sprintf("%s/%s/%d-%s", kind, now.Format("2006/01/02"), now.UnixNano(), name)
}
