package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/celerix-dev/celerix-expenses/pkg/blob"
)

// metaDir holds temp files and content-type sidecars. Keys may not start with it.
const metaDir = ".blobstore"

// DiskStore keeps each blob as a file under DataDir.
type DiskStore struct {
	DataDir string
	baseURL string
	logger  *slog.Logger
	mu      sync.Mutex // Serializes temp-file writes
}

// NewDiskStore initializes a disk-backed store rooted at dir.
func NewDiskStore(dir, baseURL string, logger *slog.Logger) (*DiskStore, error) {
	// Ensure the data directory exists
	if err := os.MkdirAll(filepath.Join(dir, metaDir, "tmp"), 0755); err != nil {
		return nil, fmt.Errorf("blobstore: create data dir: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DiskStore{DataDir: dir, baseURL: baseURL, logger: logger}, nil
}

// Put writes the blob atomically: a temp file is written first, then renamed over the target.
// A crash leaves either the old file or the new one, never a torn write.
// The content type is kept in a sidecar file under metaDir.
func (d *DiskStore) Put(ctx context.Context, key string, body []byte, contentType string) (blob.Blob, error) {
	if err := d.validate(key); err != nil {
		return blob.Blob{}, err
	}
	if err := ctx.Err(); err != nil {
		return blob.Blob{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	filePath := d.path(key)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return blob.Blob{}, err
	}
	if err := d.writeType(key, contentType); err != nil {
		return blob.Blob{}, err
	}

	tmp, err := os.CreateTemp(filepath.Join(d.DataDir, metaDir, "tmp"), "put-*")
	if err != nil {
		return blob.Blob{}, err
	}
	tempPath := tmp.Name()
	_, err = tmp.Write(body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tempPath, filePath)
	}
	if err != nil {
		os.Remove(tempPath)
		return blob.Blob{}, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return blob.Blob{}, err
	}
	return d.describe(key, info), nil
}

// List walks the data directory. Unreadable entries are logged and skipped.
func (d *DiskStore) List(ctx context.Context, prefix string) ([]blob.Blob, error) {
	var list []blob.Blob
	err := filepath.WalkDir(d.DataDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.logger.Warn("could not read blob entry", "path", p, "error", err)
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if p == filepath.Join(d.DataDir, metaDir) {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(d.DataDir, p)
		if err != nil {
			return nil
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("could not stat blob", "key", key, "error", err)
			return nil
		}
		list = append(list, d.describe(key, info))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Pathname < list[j].Pathname })
	return list, nil
}

func (d *DiskStore) Fetch(ctx context.Context, key string) ([]byte, error) {
	if err := d.validate(key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := os.ReadFile(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, blob.ErrNotFound
	}
	return content, err
}

func (d *DiskStore) Delete(ctx context.Context, key string) error {
	if err := d.validate(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := os.Remove(d.typePath(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		d.logger.Warn("could not remove content type", "key", key, "error", err)
	}
	err := os.Remove(d.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func (d *DiskStore) validate(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if key == metaDir || strings.HasPrefix(key, metaDir+"/") {
		return fmt.Errorf("blobstore: reserved key %q", key)
	}
	return nil
}

func (d *DiskStore) path(key string) string {
	return filepath.Join(d.DataDir, filepath.FromSlash(key))
}

func (d *DiskStore) typePath(key string) string {
	return filepath.Join(d.DataDir, metaDir, "types", filepath.FromSlash(key))
}

func (d *DiskStore) writeType(key, contentType string) error {
	p := d.typePath(key)
	if contentType == "" {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return err
	}
	return os.WriteFile(p, []byte(contentType), 0644)
}

// contentType prefers the recorded type and falls back to the file extension.
func (d *DiskStore) contentType(key string) string {
	if raw, err := os.ReadFile(d.typePath(key)); err == nil && len(raw) > 0 {
		return strings.TrimSpace(string(raw))
	}
	return mime.TypeByExtension(filepath.Ext(key))
}

func (d *DiskStore) describe(key string, info fs.FileInfo) blob.Blob {
	u := publicURL(d.baseURL, key)
	return blob.Blob{
		Pathname:    key,
		URL:         u,
		DownloadURL: u,
		ContentType: d.contentType(key),
		Size:        info.Size(),
		UploadedAt:  info.ModTime().UTC(),
	}
}
