package localstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/testutil"
)

type storeFactory func(t *testing.T, clk *testutil.StubClock) Store

func factories() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T, clk *testutil.StubClock) Store {
			return NewMemoryStore(clk)
		},
		"filesystem": func(t *testing.T, clk *testutil.StubClock) Store {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "session"), clk)
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_SetGetDelete(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, testutil.FixedClock())
			meta := model.PDFMeta{
				Name:         "report.pdf",
				LastModified: time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC),
				Size:         2048,
			}

			require.NoError(t, s.Set(KeyPDFHandoff, meta, 0))

			var got model.PDFMeta
			ok, err := s.Get(KeyPDFHandoff, &got)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, meta, got)

			require.NoError(t, s.Delete(KeyPDFHandoff))
			ok, err = s.Get(KeyPDFHandoff, &got)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStore_Expiry(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			clk := testutil.FixedClock()
			s := newStore(t, clk)
			profile := model.Profile{ID: "u1", Username: "alice"}

			require.NoError(t, s.Set(KeyProfileCache, profile, ProfileCacheTTL))

			clk.Advance(59 * time.Minute)
			var got model.Profile
			ok, err := s.Get(KeyProfileCache, &got)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "alice", got.Username)

			clk.Advance(time.Minute)
			ok, err = s.Get(KeyProfileCache, &got)
			require.NoError(t, err)
			assert.False(t, ok, "value at its expiry instant is gone")
		})
	}
}

func TestStore_MissingKey(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, testutil.FixedClock())
			var v string
			ok, err := s.Get(ThumbnailKey("nope"), &v)
			require.NoError(t, err)
			assert.False(t, ok)
			assert.NoError(t, s.Delete(ThumbnailKey("nope")))
		})
	}
}

func TestStore_EmptyKey(t *testing.T) {
	for name, newStore := range factories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, testutil.FixedClock())
			var v string
			_, err := s.Get("", &v)
			assert.ErrorIs(t, err, ErrInvalidKey)
			assert.ErrorIs(t, s.Set("", "x", 0), ErrInvalidKey)
			assert.ErrorIs(t, s.Delete(""), ErrInvalidKey)
		})
	}
}

func TestFileStore_SurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sid-1")
	clk := testutil.FixedClock()

	first, err := NewFileStore(dir, clk)
	require.NoError(t, err)
	require.NoError(t, first.Set(ThumbnailKey("pub-1"), "data:image/png;base64,AAAA", 0))

	second, err := NewFileStore(dir, clk)
	require.NoError(t, err)
	var got string
	ok, err := second.Get(ThumbnailKey("pub-1"), &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "data:image/png;base64,AAAA", got)
}

func TestFileStore_KeysDoNotEscapeDir(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, s.Set("../../etc/evil", "x", 0))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(s.path(KeyPDFHandoff), []byte("{not json"), 0o600))

	var meta model.PDFMeta
	_, err = s.Get(KeyPDFHandoff, &meta)
	assert.Error(t, err)
}

func TestFileStore_CreatesDirOnFirstSet(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "sid-1")
	s, err := NewFileStore(dir, nil)
	require.NoError(t, err)

	var v string
	ok, err := s.Get(KeyPDFHandoff, &v)
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, s.Delete(KeyPDFHandoff))
	assert.NoDirExists(t, dir)

	require.NoError(t, s.Set(KeyPDFHandoff, "x", 0))
	assert.DirExists(t, dir)
}

func TestFileStore_RejectsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	_, err := NewFileStore(path, nil)
	assert.Error(t, err)
}

func TestFileStore_Prune(t *testing.T) {
	clk := testutil.FixedClock()
	dir := filepath.Join(t.TempDir(), "sid-1")
	s, err := NewFileStore(dir, clk)
	require.NoError(t, err)

	require.NoError(t, s.Set(KeyProfileCache, "p", time.Hour))
	require.NoError(t, s.Set(KeyPDFHandoff, "h", 0))
	require.NoError(t, os.WriteFile(filepath.Join(dir, tempPrefix+"crash"), []byte("{"), 0o600))

	clk.Advance(2 * time.Hour)
	gone, err := s.Prune(time.Time{})
	require.NoError(t, err)
	assert.False(t, gone)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "expired entry and temp file removed")
	assert.Equal(t, filepath.Base(s.path(KeyPDFHandoff)), entries[0].Name())

	gone, err = s.Prune(clk.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, gone, "saved before the cutoff")
	assert.NoDirExists(t, dir)

	gone, err = s.Prune(time.Time{})
	require.NoError(t, err)
	assert.True(t, gone, "missing directory is already pruned")
}
