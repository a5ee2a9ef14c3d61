package schema

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrNotDataURL is returned by ParseDataURL for values that are not base64 data URLs.
var ErrNotDataURL = errors.New("not a base64 data URL")

// IsDataURL reports whether v looks like a data URL (used for drawn signatures).
func IsDataURL(v string) bool {
	return strings.HasPrefix(v, "data:")
}

// ParseDataURL decodes "data:<type>;base64,<payload>".
// The media type is empty when the URL does not declare one.
func ParseDataURL(v string) (mediaType string, data []byte, err error) {
	if !IsDataURL(v) {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(strings.TrimPrefix(v, "data:"), ",")
	if !ok || !strings.HasSuffix(meta, ";base64") {
		return "", nil, ErrNotDataURL
	}
	mediaType = strings.TrimSuffix(meta, ";base64")
	if i := strings.IndexByte(mediaType, ';'); i >= 0 {
		mediaType = mediaType[:i]
	}

	payload = strings.TrimSpace(payload)
	data, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return "", nil, err
	}
	if len(data) == 0 {
		return "", nil, ErrNotDataURL
	}
	return mediaType, data, nil
}
