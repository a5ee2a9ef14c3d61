package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
)

type recordIndexer interface {
	IndexRecord(ctx context.Context, key string) (bool, error)
}

type keyMapper interface {
	KeyFromObject(objectKey string) (string, bool)
}

// App holds the indexer's dependencies.
type App struct {
	repo   recordIndexer
	keys   keyMapper
	bucket string
	logger *slog.Logger
}

// handler indexes every record in the event. A failed record does not stop
// the rest; the joined error makes Lambda retry the batch, which is safe
// because indexing an id twice is a no-op.
func (a *App) handler(ctx context.Context, ev events.S3Event) error {
	var errs []error
	for _, rec := range ev.Records {
		if err := a.processS3Record(ctx, rec); err != nil {
			a.logger.Warn("indexer: process error", "key", rec.S3.Object.Key, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) processS3Record(ctx context.Context, record events.S3EventRecord) error {
	if a.bucket != "" && record.S3.Bucket.Name != a.bucket {
		return nil
	}
	objectKey, err := url.QueryUnescape(record.S3.Object.Key)
	if err != nil {
		return fmt.Errorf("bad key %q: %w", record.S3.Object.Key, err)
	}
	key, ok := a.keys.KeyFromObject(objectKey)
	if !ok {
		return nil
	}

	indexed, err := a.repo.IndexRecord(ctx, key)
	if err != nil {
		return fmt.Errorf("index %s: %w", key, err)
	}
	if indexed {
		a.logger.Info("indexed submission record", "key", key)
	}
	return nil
}
