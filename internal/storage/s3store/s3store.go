// Package s3store keeps export artifacts in an S3-compatible bucket.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"mime"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"Agora/internal/config"
	"Agora/internal/core/exports"
)

// ErrMissingBucket indicates no bucket was configured
var ErrMissingBucket = errors.New("s3 bucket is required")

// Config selects the bucket. Endpoint is set for MinIO and other
// S3-compatible services, and switches to path-style addressing.
type Config struct {
	Bucket   string
	Region   string
	Endpoint string
}

// ConfigFromEnv reads S3_BUCKET, S3_REGION and S3_ENDPOINT.
func ConfigFromEnv() Config {
	return Config{
		Bucket:   config.String("S3_BUCKET", ""),
		Region:   config.String("S3_REGION", "eu-west-1"),
		Endpoint: config.String("S3_ENDPOINT", ""),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Bucket == "" {
		return ErrMissingBucket
	}
	return nil
}

// Store implements exports.ObjectStore.
type Store struct {
	client  *s3.Client
	presign *s3.PresignClient
	bucket  string
}

// New builds a store from the default AWS credential chain.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, cfg.Bucket), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *s3.Client, bucket string) *Store {
	return &Store{
		client:  client,
		presign: s3.NewPresignClient(client),
		bucket:  bucket,
	}
}

// Upload puts body under key with an attachment disposition so browsers
// save it as downloadName.
func (s *Store) Upload(ctx context.Context, key string, body []byte, contentType, downloadName string) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:             aws.String(s.bucket),
		Key:                aws.String(key),
		Body:               bytes.NewReader(body),
		ContentLength:      aws.Int64(int64(len(body))),
		ContentType:        aws.String(contentType),
		ContentDisposition: aws.String(mime.FormatMediaType("attachment", map[string]string{"filename": downloadName})),
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}

// Presign returns a GET URL for key valid for ttl.
func (s *Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, time.Time, error) {
	signedAt := time.Now()
	req, err := s.presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to presign %s: %w", key, err)
	}
	return req.URL, signedAt.Add(ttl), nil
}

// Delete removes key. S3 reports success for missing keys.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

var _ exports.ObjectStore = (*Store)(nil)
