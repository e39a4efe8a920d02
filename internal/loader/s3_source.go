package loader

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/rs/zerolog"
)

// s3Source implements Source for coupon files stored in AWS S3.
type s3Source struct {
	client *s3.Client
	bucket string
	logger zerolog.Logger
}

// NewS3Source creates an S3-backed coupon file source.
func NewS3Source(ctx context.Context, bucket, region string, logger zerolog.Logger) (Source, error) {
	logger = logger.With().Str("component", "coupon-s3-source").Logger()

	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		logger.Error().Err(err).Msg("failed to load AWS configuration")
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(cfg)

	logger.Info().
		Str("bucket", bucket).
		Str("region", region).
		Msg("S3 coupon source initialised")

	return &s3Source{
		client: client,
		bucket: bucket,
		logger: logger,
	}, nil
}

// Fetch streams the coupon file at the given S3 key.
func (s *s3Source) Fetch(ctx context.Context, key string) (io.ReadCloser, error) {
	s.logger.Info().
		Str("bucket", s.bucket).
		Str("key", key).
		Msg("fetching coupon file from S3")

	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		s.logger.Error().
			Err(err).
			Str("bucket", s.bucket).
			Str("key", key).
			Msg("failed to get object from S3")
		return nil, fmt.Errorf("failed to get object from S3 (bucket=%s, key=%s): %w", s.bucket, key, err)
	}

	return result.Body, nil
}
