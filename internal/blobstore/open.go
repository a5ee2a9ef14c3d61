package blobstore

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open initializes the backend named by cfg.Store.Backend.
// The returned Closer releases backend resources (the Postgres pool); it is
// always non-nil when err is nil.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (blob.Store, io.Closer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sc := cfg.Store

	switch sc.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory blob store; submissions will not survive a restart")
		return NewMemStore(cfg.HTTP.PublicURL), nopCloser{}, nil

	case config.BackendDisk:
		d, err := NewDiskStore(sc.DataDir, cfg.HTTP.PublicURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return d, nopCloser{}, nil

	case config.BackendS3:
		s, err := NewS3Store(ctx, S3Options{
			Bucket:          sc.S3.Bucket,
			Region:          sc.S3.Region,
			Prefix:          sc.S3.Prefix,
			Endpoint:        sc.S3.Endpoint,
			PublicURL:       sc.S3.PublicURL,
			AccessKeyID:     sc.S3.AccessKeyID,
			SecretAccessKey: sc.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, nopCloser{}, nil

	case config.BackendPostgres:
		p, err := OpenPostgres(ctx, sc.Postgres.URL, sc.Postgres.Table, cfg.HTTP.PublicURL)
		if err != nil {
			return nil, nil, err
		}
		return p, p, nil
	}
	return nil, nil, fmt.Errorf("blobstore: unknown backend %q", sc.Backend)
}
