// Package blob defines the flat key/value object store contract the expenses service persists to.
package blob

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested key does not exist in the store.
var ErrNotFound = errors.New("blob not found")

// ContentTypeJSON is the content type used for submission and index records.
const ContentTypeJSON = "application/json"

// Blob describes a stored object as reported by Put and List.
type Blob struct {
	Pathname    string    `json:"pathname"`
	URL         string    `json:"url"`
	DownloadURL string    `json:"downloadUrl,omitempty"`
	ContentType string    `json:"contentType,omitempty"`
	Size        int64     `json:"size"`
	UploadedAt  time.Time `json:"uploadedAt"`
}

// --- Functional Interfaces (Interface Segregation) ---

// Putter writes an object, replacing any previous object under the same key.
type Putter interface {
	Put(ctx context.Context, key string, body []byte, contentType string) (Blob, error)
}

// Lister enumerates stored objects whose key starts with prefix.
// An empty prefix lists everything.
type Lister interface {
	List(ctx context.Context, prefix string) ([]Blob, error)
}

// Fetcher reads an object's bytes. It returns ErrNotFound when the key is absent.
type Fetcher interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// Deleter removes an object. Deleting a missing key is not an error.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// --- Composite Interfaces ---

// Store is the complete blob store client. Listing and fetching are
// eventually consistent with Put on some backends.
type Store interface {
	Putter
	Lister
	Fetcher
	Deleter
}

// Find returns the blob with the given pathname from a listing.
func Find(blobs []Blob, pathname string) (Blob, bool) {
	for _, b := range blobs {
		if b.Pathname == pathname {
			return b, true
		}
	}
	return Blob{}, false
}
