// Package storage persists statistics snapshots outside the process: a local
// JSON file, an S3 object or a DynamoDB item.
package storage

import (
	"context"
	"fmt"

	"github.com/JAKOBGTAG/multi-email-sender/internal/stats"
)

// Config selects a snapshot backend.
type Config struct {
	Type       string `yaml:"type"` // "file", "s3", "dynamodb", "none"
	LocalPath  string `yaml:"local_path"`
	S3Bucket   string `yaml:"s3_bucket"`
	S3Key      string `yaml:"s3_key"`
	Table      string `yaml:"dynamodb_table"`
	Name       string `yaml:"name"`
	AWSRegion  string `yaml:"aws_region"`
	AWSProfile string `yaml:"aws_profile"`
	Endpoint   string `yaml:"endpoint"`
}

const (
	defaultLocalPath = "data/statistics.json"
	defaultS3Key     = "statistics/snapshot.json"
	defaultName      = "default"
)

// New builds the configured store. It returns nil for type "none" or an
// empty type, which disables persistence.
func New(ctx context.Context, cfg Config) (stats.SnapshotStore, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil
	case "file", "local":
		path := cfg.LocalPath
		if path == "" {
			path = defaultLocalPath
		}
		return stats.NewFileStore(path), nil
	case "s3":
		if cfg.S3Bucket == "" {
			return nil, fmt.Errorf("s3 snapshot store requires a bucket")
		}
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSProfile)
		if err != nil {
			return nil, err
		}
		return NewS3Store(awsCfg, cfg.Endpoint, cfg.S3Bucket, cfg.S3Key), nil
	case "dynamodb":
		if cfg.Table == "" {
			return nil, fmt.Errorf("dynamodb snapshot store requires a table")
		}
		awsCfg, err := loadAWSConfig(ctx, cfg.AWSRegion, cfg.AWSProfile)
		if err != nil {
			return nil, err
		}
		return NewDynamoStore(awsCfg, cfg.Endpoint, cfg.Table, cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown snapshot store type: %s", cfg.Type)
	}
}
