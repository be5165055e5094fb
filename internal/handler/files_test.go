package handler_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/flipbook/internal/backend/storage"
	"github.com/sakif/flipbook/internal/handler"
)

func newFilesRouter(t *testing.T) (http.Handler, *storage.FileStore) {
	t.Helper()
	store, err := storage.NewFileStore(t.TempDir(), "")
	require.NoError(t, err)
	r := chi.NewRouter()
	r.Get("/files/{bucket}/*", handler.NewFilesHandler(store, testLogger).HandleFile)
	return r, store
}

func TestFiles_ServesObject(t *testing.T) {
	router, store := newFilesRouter(t)
	require.NoError(t, store.Upload(context.Background(), "publications", "pdfs/u1/book.pdf",
		strings.NewReader(testPDF), int64(len(testPDF)), "application/pdf"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/publications/pdfs/u1/book.pdf", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testPDF, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Cache-Control"), "immutable")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestFiles_Range(t *testing.T) {
	router, store := newFilesRouter(t)
	require.NoError(t, store.Upload(context.Background(), "publications", "pdfs/u1/book.pdf",
		strings.NewReader(testPDF), int64(len(testPDF)), "application/pdf"))

	req := httptest.NewRequest(http.MethodGet, "/files/publications/pdfs/u1/book.pdf", nil)
	req.Header.Set("Range", "bytes=0-4")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "%PDF-", rec.Body.String())
}

func TestFiles_Missing(t *testing.T) {
	router, _ := newFilesRouter(t)

	for _, path := range []string{
		"/files/publications/pdfs/u1/none.pdf",
		"/files/publications/pdfs",
		"/files/unknown-bucket/x.pdf",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
