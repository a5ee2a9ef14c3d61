// Package blobstore provides the blob store backends: memory, local disk, S3 and Postgres.
package blobstore

import (
	"fmt"
	"net/url"
	"strings"
)

// ServePrefix is the route under which the daemon serves blobs for backends
// that have no public URL of their own.
const ServePrefix = "/blobs/"

// validateKey rejects keys that could escape a backend's namespace.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("blobstore: empty key")
	}
	if strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("blobstore: invalid key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("blobstore: invalid key %q", key)
		}
	}
	return nil
}

// publicURL joins a base URL with the blob serving route for key.
func publicURL(baseURL, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.TrimRight(baseURL, "/") + ServePrefix + strings.Join(parts, "/")
}
