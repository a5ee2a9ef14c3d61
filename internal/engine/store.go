// Package engine implements the submission repository: one blob per
// submission, a derived index for ordered listing, and the upgrade path from
// the legacy single-file format.
package engine

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested submission does not exist.
	ErrNotFound = errors.New("submission not found")
	// ErrInvalidID is returned for ids that cannot be mapped to a record key.
	ErrInvalidID = errors.New("invalid submission id")
	// ErrSaveFailed wraps the store error when a submission body could not be written.
	ErrSaveFailed = errors.New("submission save failed")

	errMalformed = errors.New("malformed record")
)

// Blob naming conventions shared with earlier deployments of the service.
const (
	RecordPrefix = "submission-"
	RecordSuffix = ".json"
	IndexKey     = "submissions-index.json"
	LegacyKey    = "submissions.json"
)

// RecordKey returns the blob key holding the submission with the given id.
func RecordKey(id string) string {
	return RecordPrefix + id + RecordSuffix
}

// IDFromKey extracts the submission id from a record key.
// It reports false for keys that are not submission records.
func IDFromKey(key string) (string, bool) {
	if !strings.HasPrefix(key, RecordPrefix) || !strings.HasSuffix(key, RecordSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(key, RecordPrefix), RecordSuffix)
	if validateID(id) != nil {
		return "", false
	}
	return id, true
}

func validateID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return ErrInvalidID
	}
	return nil
}
