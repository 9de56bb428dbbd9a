// Package archive keeps a copy of raw webhook bodies outside the database.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/railzwaylabs/paygate/internal/config"
	"go.uber.org/zap"
)

// Store receives raw payloads. Implementations must be safe for concurrent use.
type Store interface {
	Put(ctx context.Context, key string, payload []byte) error
}

// Key returns webhooks/{provider}/{yyyy}/{mm}/{dd}/{event_id}.json.
func Key(provider, providerEventID string, receivedAt time.Time) string {
	day := receivedAt.UTC()
	return path.Join("webhooks", provider,
		fmt.Sprintf("%04d", day.Year()),
		fmt.Sprintf("%02d", int(day.Month())),
		fmt.Sprintf("%02d", day.Day()),
		providerEventID+".json",
	)
}

type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Store struct {
	client putObjectAPI
	bucket string
	log    *zap.Logger
}

func NewS3Store(ctx context.Context, cfg config.ArchiveConfig, log *zap.Logger) (*S3Store, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			// S3-compatible stores (minio, B2) want path-style URLs
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, cfg.Bucket, log), nil
}

func newS3Store(client putObjectAPI, bucket string, log *zap.Logger) *S3Store {
	return &S3Store{client: client, bucket: bucket, log: log.Named("archive.s3")}
}

func (s *S3Store) Put(ctx context.Context, key string, payload []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(payload),
		ContentLength: aws.Int64(int64(len(payload))),
		ContentType:   aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", key, err)
	}
	s.log.Debug("payload archived", zap.String("bucket", s.bucket), zap.String("key", key))
	return nil
}

// Nop is used when archiving is disabled.
type Nop struct{}

func (Nop) Put(context.Context, string, []byte) error { return nil }
