package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
)

// ObjectOpener opens a stored object. storage.FileStore satisfies it.
type ObjectOpener interface {
	Open(bucket, key string) (*os.File, error)
}

// FilesHandler serves objects of the local filesystem storage adapter.
// Deployments on S3 never register it; objects are served by the bucket.
type FilesHandler struct {
	store  ObjectOpener
	logger *slog.Logger
}

func NewFilesHandler(store ObjectOpener, logger *slog.Logger) *FilesHandler {
	return &FilesHandler{store: store, logger: logger}
}

// HandleFile streams one object with Range and conditional GET support,
// which the viewer's PDF loader relies on for large files.
//
// HTTP: GET /files/{bucket}/*
func (h *FilesHandler) HandleFile(w http.ResponseWriter, r *http.Request) {
	bucket := chi.URLParam(r, "bucket")
	key := chi.URLParam(r, "*")

	f, err := h.store.Open(bucket, key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			h.logger.Debug("files: open", slog.String("bucket", bucket), slog.String("key", key), slog.String("error", err.Error()))
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}

	// Object names are immutable: a replaced avatar or thumbnail gets a new key.
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	if strings.HasSuffix(key, ".pdf") {
		w.Header().Set("Content-Type", "application/pdf")
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
