package engine

import (
	"context"
	"fmt"

	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

// Lister is the two-tier lookup over stored submission ids.
// The index is a hint that preserves append order; the scan is the
// authoritative set of records.
type Lister interface {
	// ListViaIndex returns the ids listed in the index. found is false when
	// no index blob exists.
	ListViaIndex(ctx context.Context) (ids []string, found bool, err error)
	// ListViaScan enumerates record keys in the store.
	ListViaScan(ctx context.Context) ([]string, error)
}

type storeLister struct {
	store blob.Store
}

func (l storeLister) ListViaIndex(ctx context.Context) ([]string, bool, error) {
	ix, found, err := readIndex(ctx, l.store)
	if err != nil {
		return nil, found, err
	}
	return ix.SubmissionIDs, found, nil
}

func (l storeLister) ListViaScan(ctx context.Context) ([]string, error) {
	blobs, err := l.store.List(ctx, RecordPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan records: %w", err)
	}
	ids := make([]string, 0, len(blobs))
	for _, b := range blobs {
		if id, ok := IDFromKey(b.Pathname); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// mergeIDs returns indexed ids followed by scanned ids missing from the index.
func mergeIDs(indexed, scanned []string) (merged []string, orphans int) {
	seen := make(map[string]struct{}, len(indexed))
	merged = make([]string, 0, len(indexed)+len(scanned))
	for _, id := range indexed {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
	}
	for _, id := range scanned {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		merged = append(merged, id)
		orphans++
	}
	return merged, orphans
}
