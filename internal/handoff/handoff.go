// Package handoff carries a PDF chosen by an anonymous visitor across the
// sign-up redirect so it can be published once they have an account.
//
// Only the file's metadata is persisted. The bytes live in memory and are
// lost when the session is evicted or the server restarts; Restore then
// reports the metadata so the user can be asked to pick the same file again.
package handoff

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/localstore"
	"github.com/sakif/flipbook/internal/model"
)

// ErrNothingPending is returned by Restore when no PDF was stashed.
var ErrNothingPending = &apperror.AppError{
	Err:     apperror.ErrNotFound,
	Message: "no PDF is waiting to be published",
}

// Restored is a stashed PDF with its bytes.
type Restored struct {
	Meta model.PDFMeta
	File []byte
}

// Handoff is the per-session stash. Safe for concurrent use.
type Handoff struct {
	store localstore.Store

	mu       sync.Mutex
	file     []byte
	fileMeta model.PDFMeta
}

// New creates a Handoff persisting metadata to store.
func New(store localstore.Store) *Handoff {
	return &Handoff{store: store}
}

// Stash remembers meta durably and file in memory, replacing any earlier stash.
func (h *Handoff) Stash(meta model.PDFMeta, file []byte) error {
	if meta.Name == "" {
		return apperror.ValidationFailed("file", "file name is required")
	}
	if meta.Size == 0 {
		meta.Size = int64(len(file))
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.store.Set(localstore.KeyPDFHandoff, meta, 0); err != nil {
		return fmt.Errorf("handoff: saving metadata: %w", err)
	}
	h.file = bytes.Clone(file)
	h.fileMeta = meta
	return nil
}

// Pending returns the stashed metadata, if any.
func (h *Handoff) Pending() (model.PDFMeta, bool, error) {
	var meta model.PDFMeta
	ok, err := h.store.Get(localstore.KeyPDFHandoff, &meta)
	if err != nil {
		return model.PDFMeta{}, false, fmt.Errorf("handoff: reading metadata: %w", err)
	}
	return meta, ok, nil
}

// Restore returns the stashed PDF. When the metadata survived but the bytes
// did not, it returns a ResourceLost error carrying the metadata.
func (h *Handoff) Restore() (Restored, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var meta model.PDFMeta
	ok, err := h.store.Get(localstore.KeyPDFHandoff, &meta)
	if err != nil {
		return Restored{}, fmt.Errorf("handoff: reading metadata: %w", err)
	}
	if !ok {
		return Restored{}, ErrNothingPending
	}

	if h.file == nil || !sameFile(h.fileMeta, meta) {
		return Restored{}, apperror.ResourceLost(
			fmt.Sprintf("Please reselect %q to finish publishing", meta.Name), meta)
	}
	return Restored{Meta: meta, File: bytes.Clone(h.file)}, nil
}

// Clear forgets both the metadata and the bytes.
func (h *Handoff) Clear() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.file = nil
	h.fileMeta = model.PDFMeta{}
	if err := h.store.Delete(localstore.KeyPDFHandoff); err != nil {
		return fmt.Errorf("handoff: clearing metadata: %w", err)
	}
	return nil
}

// DropBinary discards the in-memory bytes and keeps the metadata, which is
// what a page reload does to the browser-side file handle.
func (h *Handoff) DropBinary() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.file = nil
}

func sameFile(a, b model.PDFMeta) bool {
	return a.Name == b.Name && a.LastModified.Equal(b.LastModified)
}
