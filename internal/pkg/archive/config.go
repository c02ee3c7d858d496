package archive

import (
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/ReceiptFox/internal/pkg/env"
)

// Config holds the settings of the raw payload archive.
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	Enabled         bool
}

// LoadConfig reads the S3_ARCHIVE_* variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AccessKeyID:     env.GetEnv("S3_ARCHIVE_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_ARCHIVE_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_ARCHIVE_REGION", "eu-central-1"),
		BucketName:      env.GetEnv("S3_ARCHIVE_BUCKET", ""),
		EndpointURL:     env.GetEnv("S3_ARCHIVE_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_ARCHIVE_PREFIX", "webhooks"),
		Enabled:         env.GetEnvBool("S3_ARCHIVE_ENABLED", false),
	}

	if cfg.Enabled {
		if cfg.AccessKeyID == "" {
			return nil, errors.New("S3_ARCHIVE_ACCESS_KEY_ID is required when the archive is enabled")
		}
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("S3_ARCHIVE_SECRET_ACCESS_KEY is required when the archive is enabled")
		}
		if cfg.BucketName == "" {
			return nil, errors.New("S3_ARCHIVE_BUCKET is required when the archive is enabled")
		}
	}
	return cfg, nil
}

// ObjectKey returns {prefix}/merchant-{id}/YYYY/MM/DD/{receiptID}.json.
func (c *Config) ObjectKey(merchantID uint, receiptID string, at time.Time) string {
	at = at.UTC()
	key := fmt.Sprintf("merchant-%d/%04d/%02d/%02d/%s.json", merchantID, at.Year(), int(at.Month()), at.Day(), receiptID)
	if c.Prefix == "" {
		return key
	}
	return c.Prefix + "/" + key
}
