package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/celerix-dev/celerix-expenses/internal/blobstore"
	"github.com/celerix-dev/celerix-expenses/internal/engine"
	"github.com/celerix-dev/celerix-expenses/pkg/blob"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

type prefixMapper string

func (p prefixMapper) KeyFromObject(objectKey string) (string, bool) {
	if len(objectKey) < len(p) || objectKey[:len(p)] != string(p) {
		return "", false
	}
	return objectKey[len(p):], true
}

func s3Event(bucket string, keys ...string) events.S3Event {
	var ev events.S3Event
	for _, k := range keys {
		var rec events.S3EventRecord
		rec.S3.Bucket.Name = bucket
		rec.S3.Object.Key = k
		ev.Records = append(ev.Records, rec)
	}
	return ev
}

func TestHandlerIndexesOrphanRecords(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := blobstore.NewMemStore("")
	repo := engine.New(store, engine.Options{Logger: logger})

	// A record written without an index update.
	body, _ := json.Marshal(schema.Submission{ID: "x 1", Timestamp: time.Now().UTC(), Name: "Ada"})
	if _, err := store.Put(ctx, engine.RecordKey("x 1"), body, blob.ContentTypeJSON); err != nil {
		t.Fatal(err)
	}

	app := &App{repo: repo, keys: prefixMapper("expenses/"), bucket: "claims", logger: logger}
	ev := s3Event("claims",
		"expenses/submission-x+1.json",
		"expenses/abc_0_0_receipt.png",
		"elsewhere/submission-y.json",
	)
	if err := app.handler(ctx, ev); err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	content, err := store.Fetch(ctx, engine.IndexKey)
	if err != nil {
		t.Fatalf("Expected an index to be written: %v", err)
	}
	var ix schema.Index
	json.Unmarshal(content, &ix)
	if len(ix.SubmissionIDs) != 1 || ix.SubmissionIDs[0] != "x 1" {
		t.Errorf("Expected [x 1] in the index, got %v", ix.SubmissionIDs)
	}
}

func TestHandlerIgnoresOtherBuckets(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := blobstore.NewMemStore("")
	app := &App{repo: engine.New(store, engine.Options{Logger: logger}), keys: prefixMapper(""), bucket: "claims", logger: logger}

	if err := app.handler(context.Background(), s3Event("other", "submission-a.json")); err != nil {
		t.Fatal(err)
	}
	if store.Len() != 0 {
		t.Errorf("Expected nothing written, got %d blobs", store.Len())
	}
}
