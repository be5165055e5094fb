package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/flipbook/internal/backend"
)

// FilePrefix is the URL path the HTTP server serves FileStore objects under.
const FilePrefix = "/files/"

// FileStore keeps every bucket as a directory below root:
//
//	<root>/
//	  publications/
//	    pdfs/<user>/<id>.pdf
//	    thumbs/<user>/<id>.png
//	  avatars/
//	    <user>/<name>
type FileStore struct {
	root    string
	baseURL string
}

var _ backend.Storage = (*FileStore)(nil)

// NewFileStore creates a store rooted at root. baseURL is prepended to public
// URLs; leave it empty to produce site-relative URLs.
func NewFileStore(root, baseURL string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("storage: creating root: %w", err)
	}
	return &FileStore{root: root, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Root returns the directory served under FilePrefix.
func (s *FileStore) Root() string { return s.root }

func (s *FileStore) objectPath(bucket, key string) (string, error) {
	if err := cleanBucket(bucket); err != nil {
		return "", err
	}
	key, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, bucket, filepath.FromSlash(key)), nil
}

// Upload writes r to bucket/key atomically (temp file + rename). When size is
// positive the byte count must match.
func (s *FileStore) Upload(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	dest, err := s.objectPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("storage: creating directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		return fmt.Errorf("storage: writing %s/%s: %w", bucket, key, err)
	}
	if size > 0 && written != size {
		return fmt.Errorf("storage: size mismatch for %s/%s: expected %d bytes, got %d", bucket, key, size, written)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("storage: renaming temp file: %w", err)
	}
	success = true
	return nil
}

func (s *FileStore) PublicURL(bucket, key string) string {
	return s.baseURL + FilePrefix + bucket + "/" + key
}

func (s *FileStore) PathFromURL(bucket, url string) (string, bool) {
	return trimURL(s.PublicURL(bucket, ""), url)
}

// Remove deletes the given keys. Missing objects are not an error.
func (s *FileStore) Remove(ctx context.Context, bucket string, keys ...string) error {
	var errs []error
	for _, key := range keys {
		p, err := s.objectPath(bucket, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("storage: removing %s/%s: %w", bucket, key, err))
		}
	}
	return errors.Join(errs...)
}

// Open returns the object for reading. Used by tests and the file server.
func (s *FileStore) Open(bucket, key string) (*os.File, error) {
	p, err := s.objectPath(bucket, key)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}
