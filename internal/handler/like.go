package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/service"
)

// LikeHandler serves like buttons.
type LikeHandler struct {
	likes  *service.LikeService
	pubs   *service.PublicationService
	logger *slog.Logger
}

func NewLikeHandler(likes *service.LikeService, pubs *service.PublicationService, logger *slog.Logger) *LikeHandler {
	return &LikeHandler{likes: likes, pubs: pubs, logger: logger}
}

// likeResponse is the like state plus the error message when a toggle was
// rolled back, so the button can snap back and say why.
type likeResponse struct {
	model.LikeState
	Error string `json:"error,omitempty"`
}

// HandleToggle likes or unlikes a publication.
//
// HTTP: POST /api/publications/{id}/like
//
// A backend failure answers with the error status and the rolled-back state
// in the body.
func (h *LikeHandler) HandleToggle(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.pubs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	state, err := h.likes.Toggle(r.Context(), st, user.ID, id)
	if err != nil {
		if state.PublicationID == "" {
			writeError(w, err)
			return
		}
		status, _ := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, likeResponse{LikeState: state, Error: "could not save your like, please try again"})
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{LikeState: state})
}

// HandleState returns the like count and whether the viewer liked it.
//
// HTTP: GET /api/publications/{id}/likes
func (h *LikeHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := h.pubs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	viewerID, _ := auth.UserIDFromContext(r.Context())
	state, err := h.likes.State(r.Context(), st, viewerID, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, likeResponse{LikeState: state})
}
