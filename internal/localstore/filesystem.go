package localstore

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sakif/flipbook/internal/clock"
)

// FileStore keeps one JSON file per key under a directory.
// Writes go to a temp file that is renamed into place.
//
// The directory is created by the first Set, so a session that never stores
// anything leaves nothing on disk.
type FileStore struct {
	dir   string
	clock clock.Clock

	mu sync.Mutex
}

var _ Store = (*FileStore)(nil)

const tempPrefix = ".tmp-"

// NewFileStore returns a store rooted at dir. It fails when dir exists and
// is not a directory. A nil clock uses the wall clock.
func NewFileStore(dir string, c clock.Clock) (*FileStore, error) {
	info, err := os.Stat(dir)
	switch {
	case err == nil && !info.IsDir():
		return nil, fmt.Errorf("localstore: %s is not a directory", dir)
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("localstore: checking %s: %w", dir, err)
	}
	return &FileStore{dir: dir, clock: clock.OrReal(c)}, nil
}

// Dir returns the backing directory.
func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(key string) string {
	// QueryEscape leaves no path separators, so every key maps to one file.
	return filepath.Join(s.dir, url.QueryEscape(key)+".json")
}

func (s *FileStore) Get(key string, v any) (bool, error) {
	if key == "" {
		return false, ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.path(key)
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("localstore: reading %s: %w", key, err)
	}
	env, err := open(raw)
	if err != nil {
		return false, err
	}
	if env.expired(s.clock.Now()) {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("localstore: removing expired %s: %w", key, err)
		}
		return false, nil
	}
	if err := decode(env, v); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Set(key string, v any, ttl time.Duration) error {
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := seal(v, ttl, s.clock.Now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("localstore: creating %s: %w", s.dir, err)
	}
	tmp, err := os.CreateTemp(s.dir, tempPrefix+"*")
	if err != nil {
		return fmt.Errorf("localstore: creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("localstore: writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path(key)); err != nil {
		return fmt.Errorf("localstore: renaming into place: %w", err)
	}

	success = true
	return nil
}

func (s *FileStore) Delete(key string) error {
	if key == "" {
		return ErrInvalidKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("localstore: deleting %s: %w", key, err)
	}
	return nil
}

// Prune removes expired entries, entries saved before staleBefore (when not
// zero), unreadable entries and leftover temp files. When nothing is left the
// directory itself is removed and Prune reports true.
func (s *FileStore) Prune(staleBefore time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("localstore: listing %s: %w", s.dir, err)
	}

	now := s.clock.Now()
	kept := 0
	for _, e := range entries {
		p := filepath.Join(s.dir, e.Name())
		if e.IsDir() {
			kept++
			continue
		}
		if !strings.HasPrefix(e.Name(), tempPrefix) && !s.stale(p, now, staleBefore) {
			kept++
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("localstore: pruning %s: %w", e.Name(), err)
		}
	}
	if kept > 0 {
		return false, nil
	}
	if err := os.Remove(s.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("localstore: removing %s: %w", s.dir, err)
	}
	return true, nil
}

func (s *FileStore) stale(path string, now, staleBefore time.Time) bool {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Is(err, fs.ErrNotExist)
	}
	env, err := open(raw)
	if err != nil {
		return true
	}
	if env.expired(now) {
		return true
	}
	return !staleBefore.IsZero() && env.SavedAt.Before(staleBefore)
}
