package awsapi

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/batch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// maxRetryAttempts bounds the client-level adaptive retry policy. Throttling
// on DescribeJobs is common when many spot instances churn at once.
const maxRetryAttempts = 50

// NewClients loads the default AWS configuration and returns production
// clients configured with client-side adaptive retries.
func NewClients(ctx context.Context) (Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRetryer(func() aws.Retryer {
			return retry.NewAdaptiveMode(func(o *retry.AdaptiveModeOptions) {
				o.StandardOptions = append(o.StandardOptions, func(so *retry.StandardOptions) {
					so.MaxAttempts = maxRetryAttempts
				})
			})
		}),
	)
	if err != nil {
		return Clients{}, fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(cfg)
	return Clients{
		Batch: batch.NewFromConfig(cfg),
		Logs:  cloudwatchlogs.NewFromConfig(cfg),
		Storage: &S3Storage{
			Client:   s3Client,
			Uploader: manager.NewUploader(s3Client),
		},
	}, nil
}

// S3Storage implements Storage over S3.
type S3Storage struct {
	Client   *s3.Client
	Uploader *manager.Uploader
}

func (s *S3Storage) Upload(ctx context.Context, bucket, key string, body io.Reader) error {
	_, err := s.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   body,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (s *S3Storage) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", bucket, key, err)
	}
	return nil
}

var _ Storage = (*S3Storage)(nil)
