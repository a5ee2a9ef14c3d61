package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/celerix-dev/celerix-expenses/pkg/blob"
	"github.com/celerix-dev/celerix-expenses/pkg/schema"
)

// writeRecord stores a submission body under its record key.
func writeRecord(ctx context.Context, store blob.Putter, s *schema.Submission) error {
	bytes, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	_, err = store.Put(ctx, RecordKey(s.ID), bytes, blob.ContentTypeJSON)
	return err
}

// readRecord fetches and decodes one submission.
func readRecord(ctx context.Context, store blob.Fetcher, id string) (*schema.Submission, error) {
	content, err := store.Fetch(ctx, RecordKey(id))
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var s schema.Submission
	if err := json.Unmarshal(content, &s); err != nil {
		return nil, fmt.Errorf("%w %s: %v", errMalformed, id, err)
	}
	if s.ID == "" {
		s.ID = id
	}
	return &s, nil
}

// readIndex loads the index blob. found is false when no index exists.
func readIndex(ctx context.Context, store blob.Fetcher) (ix schema.Index, found bool, err error) {
	content, err := store.Fetch(ctx, IndexKey)
	if errors.Is(err, blob.ErrNotFound) {
		return schema.Index{}, false, nil
	}
	if err != nil {
		return schema.Index{}, false, err
	}
	if err := json.Unmarshal(content, &ix); err != nil {
		return schema.Index{}, true, fmt.Errorf("%w %s: %v", errMalformed, IndexKey, err)
	}
	ix.Dedupe()
	return ix, true, nil
}

func writeIndex(ctx context.Context, store blob.Putter, ix schema.Index) error {
	if ix.SubmissionIDs == nil {
		ix.SubmissionIDs = []string{}
	}
	bytes, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return err
	}
	_, err = store.Put(ctx, IndexKey, bytes, blob.ContentTypeJSON)
	return err
}
