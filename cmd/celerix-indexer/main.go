// Package main indexes submission records as S3 reports them written, so
// records whose index update was lost still reach the fast listing path.
package main

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
	"github.com/celerix-dev/celerix-expenses/internal/config"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	if cfg.Store.Backend != config.BackendS3 {
		log.Fatalf("indexer requires the s3 backend, got %q", cfg.Store.Backend)
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	store, err := blobstore.NewS3Store(context.Background(), blobstore.S3Options{
		Bucket:          cfg.Store.S3.Bucket,
		Region:          cfg.Store.S3.Region,
		Prefix:          cfg.Store.S3.Prefix,
		Endpoint:        cfg.Store.S3.Endpoint,
		PublicURL:       cfg.Store.S3.PublicURL,
		AccessKeyID:     cfg.Store.S3.AccessKeyID,
		SecretAccessKey: cfg.Store.S3.SecretAccessKey,
	})
	if err != nil {
		log.Fatal(err)
	}

	app := &App{
		repo:   engine.New(store, engine.OptionsFromConfig(cfg.Repository, logger)),
		keys:   store,
		bucket: cfg.Store.S3.Bucket,
		logger: logger,
	}
	lambda.Start(app.handler)
}
