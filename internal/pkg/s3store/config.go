package s3store

import (
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/ManuelReschke/PixelBoost/internal/pkg/env"
)

// Config holds the object storage settings for upscale images
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	Prefix          string
	URLExpiry       time.Duration
	Enabled         bool
}

// LoadConfig loads S3 configuration from environment variables
func LoadConfig() (*Config, error) {
	expiry, err := time.ParseDuration(env.GetEnv("S3_URL_EXPIRY", "24h"))
	if err != nil {
		return nil, fmt.Errorf("invalid S3_URL_EXPIRY: %w", err)
	}
	config := &Config{
		AccessKeyID:     env.GetEnv("S3_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("S3_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("S3_REGION", "us-east-1"),
		BucketName:      env.GetEnv("S3_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("S3_ENDPOINT_URL", ""),
		Prefix:          env.GetEnv("S3_PREFIX", "upscale"),
		URLExpiry:       expiry,
		Enabled:         env.GetEnv("S3_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("S3_ACCESS_KEY_ID is required when S3 is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("S3_SECRET_ACCESS_KEY is required when S3 is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("S3_BUCKET_NAME is required when S3 is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if uploads to S3 are enabled
func (c *Config) IsEnabled() bool {
	return c != nil && c.Enabled
}

// ObjectKey builds the key for one image of an upscale job.
// Format: <prefix>/<kind>/YYYY/MM/<userID>/<jobID><ext>
func (c *Config) ObjectKey(kind, userID, jobID, ext string, at time.Time) string {
	return path.Join(c.Prefix, kind, fmt.Sprintf("%04d/%02d", at.Year(), int(at.Month())), userID, jobID+ext)
}
