// Package archive keeps a copy of every accepted webhook body in S3
// compatible storage.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gofiber/fiber/v2/log"
)

// ObjectPutter is the part of the S3 client the archive uses.
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Archive struct {
	client ObjectPutter
	config *Config
	now    func() time.Time
}

// NewS3Archive builds the S3 client and checks that the bucket is reachable.
func NewS3Archive(ctx context.Context, cfg *Config) (*S3Archive, error) {
	if !cfg.Enabled {
		return nil, errors.New("payload archive is disabled")
	}

	awsConfig, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsConfig, func(o *s3.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
			o.UsePathStyle = true
		}
	})

	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(cfg.BucketName)}); err != nil {
		return nil, fmt.Errorf("bucket %s not accessible: %w", cfg.BucketName, err)
	}

	log.Infof("[Archive] Archiving webhook payloads to bucket %s", cfg.BucketName)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client ObjectPutter, cfg *Config) *S3Archive {
	return &S3Archive{client: client, config: cfg, now: time.Now}
}

// Store uploads body and returns its object key.
func (a *S3Archive) Store(ctx context.Context, merchantID uint, receiptID string, body []byte) (string, error) {
	key := a.config.ObjectKey(merchantID, receiptID, a.now())
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.config.BucketName),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"merchant-id": fmt.Sprintf("%d", merchantID),
			"receipt-id":  receiptID,
		},
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", a.config.BucketName, key, err)
	}
	log.Debugf("[Archive] Stored payload of receipt %s at %s", receiptID, key)
	return key, nil
}
