package blob

import (
	"context"
	"fmt"

	"memorypin/internal/config"
)

// Open selects a slot store implementation from the storage configuration.
//
//	driver: fs|s3|memory|sqlite|postgres (default fs)
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(cfg.FSRoot)
	case DriverS3:
		return NewS3(ctx, S3Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			PathStyle:       cfg.S3.PathStyle,
		})
	case DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return NewSQLite(cfg.SQLitePath)
	case DriverPostgres:
		return NewPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
