package persistence

import (
	"Parimutuel/internal/observability"
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archiver copies encoded snapshots to long-term storage
type Archiver interface {
	Archive(ctx context.Context, sequence int64, data []byte) error
}

// S3Config selects the bucket and, for S3-compatible stores, the endpoint
type S3Config struct {
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	Prefix    string
}

// S3Archiver uploads snapshots as <prefix>/<sequence>.json
type S3Archiver struct {
	client  *s3.Client
	bucket  string
	prefix  string
	metrics *observability.Metrics
}

func NewS3Archiver(ctx context.Context, cfg S3Config, metrics *observability.Metrics) (*S3Archiver, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("s3: load config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "snapshots"
	}
	return &S3Archiver{client: client, bucket: cfg.Bucket, prefix: prefix, metrics: metrics}, nil
}

// ObjectKey is the key a snapshot sequence is stored under
func (a *S3Archiver) ObjectKey(sequence int64) string {
	return fmt.Sprintf("%s/%020d.json", a.prefix, sequence)
}

func (a *S3Archiver) Archive(ctx context.Context, sequence int64, data []byte) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.ObjectKey(sequence)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if a.metrics != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		a.metrics.SnapshotUploads.WithLabelValues(status).Inc()
	}
	if err != nil {
		return fmt.Errorf("s3: put snapshot %d: %w", sequence, err)
	}
	return nil
}
