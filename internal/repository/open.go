package repository

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/debemdeboas/lectern/internal/config"
	"github.com/debemdeboas/lectern/internal/db"
	"github.com/debemdeboas/lectern/internal/util/compression"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the content repository selected by cfg.Driver. The returned closer
// releases the underlying connection.
func Open(ctx context.Context, cfg config.StorageConfig) (ContentRepository, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		repoLogger.Warn().Msg("Using in-memory storage, content is lost on exit")
		return NewMemoryContentRepository(), nopCloser{}, nil

	case config.DriverSQLite:
		compressor, err := compression.ForName(cfg.Compression)
		if err != nil {
			return nil, nil, err
		}
		sqlite := db.NewSQLite(cfg.SQLite.Path)
		if err := sqlite.InitDB(); err != nil {
			return nil, nil, errors.Wrap(err, "error initializing database")
		}
		return NewDBContentRepository(sqlite, compressor), sqlite, nil

	case config.DriverS3:
		repo, err := NewS3ContentRepository(ctx, S3Options{
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return repo, nopCloser{}, nil
	}
	return nil, nil, errors.Wrapf(config.ErrInvalidConfig, "unknown storage driver %q", cfg.Driver)
}
