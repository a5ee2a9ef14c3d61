package schema

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"
)

// Index lists known submission IDs in append order. It is derived data:
// every ID should resolve to a record, but a record missing from the index
// is still found by a full scan.
type Index struct {
	SubmissionIDs []string   `json:"submissionIds"`
	LastUpdated   *time.Time `json:"lastUpdated,omitempty"`
	MigratedAt    *time.Time `json:"migratedAt,omitempty"`
}

// UnmarshalJSON accepts both the object form and the older bare array of IDs.
func (ix *Index) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var ids []string
		if err := json.Unmarshal(trimmed, &ids); err != nil {
			return err
		}
		*ix = Index{SubmissionIDs: ids}
		return nil
	}

	type plain Index
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*ix = Index(p)
	return nil
}

// Contains reports whether id is already listed.
func (ix *Index) Contains(id string) bool {
	return slices.Contains(ix.SubmissionIDs, id)
}

// Append adds ids that are not yet listed, keeping first-seen order.
// It returns the number of ids added.
func (ix *Index) Append(ids ...string) int {
	seen := make(map[string]struct{}, len(ix.SubmissionIDs)+len(ids))
	for _, id := range ix.SubmissionIDs {
		seen[id] = struct{}{}
	}
	added := 0
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ix.SubmissionIDs = append(ix.SubmissionIDs, id)
		added++
	}
	return added
}

// Remove drops id from the index and reports whether it was present.
func (ix *Index) Remove(id string) bool {
	i := slices.Index(ix.SubmissionIDs, id)
	if i < 0 {
		return false
	}
	ix.SubmissionIDs = slices.Delete(ix.SubmissionIDs, i, i+1)
	return true
}

// Dedupe removes repeated ids, keeping the first occurrence.
func (ix *Index) Dedupe() {
	ids := ix.SubmissionIDs
	ix.SubmissionIDs = nil
	ix.Append(ids...)
}
