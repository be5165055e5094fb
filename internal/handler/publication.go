package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/clock"
	"github.com/sakif/flipbook/internal/fetch"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/service"
)

// PublicationHandler handles the publication API and the PDF handoff.
//
// DEPENDENCY CHAIN:
//
//	PublicationHandler → PublicationService → backend tables + storage
//	                   → clientstate.State (per-session cache and handoff)
type PublicationHandler struct {
	pubs   *service.PublicationService
	clock  clock.Clock
	logger *slog.Logger
}

func NewPublicationHandler(pubs *service.PublicationService, clk clock.Clock, logger *slog.Logger) *PublicationHandler {
	return &PublicationHandler{pubs: pubs, clock: clock.OrReal(clk), logger: logger}
}

// HandleFeed returns the discovery feed.
//
// HTTP: GET /api/feed?q=...&limit=20&offset=0
func (h *PublicationHandler) HandleFeed(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	viewerID, _ := auth.UserIDFromContext(r.Context())

	items, err := h.pubs.Feed(r.Context(), viewerID, service.FeedQuery{
		Search: r.URL.Query().Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// HandleGet returns one publication.
//
// HTTP: GET /api/publications/{id}
func (h *PublicationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	pub, err := h.pubs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

// HandleListByUser returns another user's publications.
//
// HTTP: GET /api/users/{id}/publications?limit=&offset=
func (h *PublicationHandler) HandleListByUser(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := pageParams(r)
	if err != nil {
		writeError(w, err)
		return
	}
	pubs, err := h.pubs.ListByUser(r.Context(), chi.URLParam(r, "id"), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	if pubs == nil {
		pubs = []model.Publication{}
	}
	writeJSON(w, http.StatusOK, pubs)
}

type myPublicationsResponse struct {
	Publications []model.Publication `json:"publications"`
	FromCache    bool                `json:"from_cache"`
	Superseded   bool                `json:"superseded,omitempty"`
}

// HandleListMine returns the signed-in user's publications from the session
// cache when it is fresh.
//
// HTTP: GET /api/me/publications?refresh=true
//
// If a newer request for the same list overtook this one, the answer is
// whatever the cache holds now rather than the stale result.
func (h *PublicationHandler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	res, err := h.pubs.ListMine(r.Context(), st, user.ID, force)
	if errors.Is(err, fetch.ErrSuperseded) {
		if visible, ok := st.Publications.Visible(user.ID); ok {
			writeJSON(w, http.StatusOK, myPublicationsResponse{Publications: visible, FromCache: true, Superseded: true})
			return
		}
		writeError(w, apperror.Conflict("publication list request", "superseded"))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	pubs := res.Data
	if pubs == nil {
		pubs = []model.Publication{}
	}
	writeJSON(w, http.StatusOK, myPublicationsResponse{Publications: pubs, FromCache: res.FromCache})
}

// pendingUpload is the detail sent with the 401 an anonymous upload gets.
type pendingUpload struct {
	Redirect string        `json:"redirect"`
	Pending  model.PDFMeta `json:"pending"`
}

// HandleCreate publishes a PDF.
//
// HTTP: POST /api/publications (multipart: file, title, description, last_modified)
//
// An anonymous visitor's file is stashed in the session handoff and the
// answer is 401 with a redirect to the register page. After signing up the
// client calls POST /api/handoff/publish to finish.
func (h *PublicationHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	data, file, err := readUpload(w, r, "file", service.MaxPDFSize)
	if err != nil {
		writeError(w, err)
		return
	}

	user, signedIn := auth.UserFromContext(r.Context())
	if !signedIn {
		meta, err := h.stash(st, r, data, file)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "create an account to publish your flipbook",
			Detail:  pendingUpload{Redirect: RegisterPath, Pending: meta},
		})
		return
	}

	pub, err := h.pubs.Publish(r.Context(), st, user.ID, service.PublishInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		PDF:         data,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/view/"+pub.ID)
	writeJSON(w, http.StatusCreated, pub)
}

type publicationUpdateRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Thumbnail   []byte  `json:"thumbnail"` // base64-encoded PNG
}

// HandleUpdate edits title, description or thumbnail. Owner only.
//
// HTTP: PUT /api/publications/{id}
func (h *PublicationHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req publicationUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	pub, err := h.pubs.Update(r.Context(), st, user.ID, chi.URLParam(r, "id"), service.PublicationUpdate{
		Title:       req.Title,
		Description: req.Description,
		Thumbnail:   req.Thumbnail,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

// HandleDelete removes a publication. Owner only.
//
// HTTP: DELETE /api/publications/{id}
//
// 204 only once the backend confirms the row is gone; otherwise 409 and the
// publication reappears in the user's list.
func (h *PublicationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	if err := h.pubs.Delete(r.Context(), st, user.ID, chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleStashHandoff keeps a PDF for publishing after sign-up.
//
// HTTP: POST /api/handoff (multipart: file, last_modified)
func (h *PublicationHandler) HandleStashHandoff(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	data, file, err := readUpload(w, r, "file", service.MaxPDFSize)
	if err != nil {
		writeError(w, err)
		return
	}
	meta, err := h.stash(st, r, data, file)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, meta)
}

type handoffStatus struct {
	Pending bool           `json:"pending"`
	File    *model.PDFMeta `json:"file,omitempty"`
	// NeedsReselect is true when only the metadata survived and the user
	// has to choose the same file again.
	NeedsReselect bool `json:"needs_reselect"`
}

// HandleGetHandoff reports the stashed PDF, if any.
//
// HTTP: GET /api/handoff
func (h *PublicationHandler) HandleGetHandoff(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	restored, err := st.Handoff.Restore()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, handoffStatus{Pending: true, File: &restored.Meta})
	case apperror.IsNotFound(err):
		writeJSON(w, http.StatusOK, handoffStatus{})
	case errors.Is(err, apperror.ErrResourceLost):
		meta, _, perr := st.Handoff.Pending()
		if perr != nil {
			writeError(w, perr)
			return
		}
		writeJSON(w, http.StatusOK, handoffStatus{Pending: true, File: &meta, NeedsReselect: true})
	default:
		writeError(w, err)
	}
}

// HandleClearHandoff discards the stashed PDF.
//
// HTTP: DELETE /api/handoff
func (h *PublicationHandler) HandleClearHandoff(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := st.Handoff.Clear(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandlePublishHandoff publishes the stashed PDF for the now signed-in user.
//
// HTTP: POST /api/handoff/publish (multipart: title, description, optional file)
//
// When the bytes did not survive (server restart, session eviction) the
// answer is 422 resource_lost with the file's metadata in detail, and the
// client re-sends the request with the reselected file attached.
func (h *PublicationHandler) HandlePublishHandoff(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	var pdf []byte
	if isMultipart(r) {
		data, _, err := readUpload(w, r, "file", service.MaxPDFSize)
		switch {
		case err == nil:
			pdf = data
		case r.MultipartForm != nil && len(r.MultipartForm.File["file"]) == 0:
			// No reselected file; use the stash.
		default:
			writeError(w, err)
			return
		}
	}
	if pdf == nil {
		restored, err := st.Handoff.Restore()
		if err != nil {
			writeError(w, err)
			return
		}
		pdf = restored.File
	}

	pub, err := h.pubs.Publish(r.Context(), st, user.ID, service.PublishInput{
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		PDF:         pdf,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Location", "/view/"+pub.ID)
	writeJSON(w, http.StatusCreated, pub)
}

func (h *PublicationHandler) stash(st *clientstate.State, r *http.Request, data []byte, file uploadedFile) (model.PDFMeta, error) {
	if err := service.ValidatePDF(data); err != nil {
		return model.PDFMeta{}, err
	}
	modified, err := parseLastModified(r.FormValue("last_modified"), h.clock.Now())
	if err != nil {
		return model.PDFMeta{}, err
	}
	meta := model.PDFMeta{Name: file.Name, LastModified: modified, Size: file.Size}
	if err := st.Handoff.Stash(meta, data); err != nil {
		return model.PDFMeta{}, err
	}
	h.logger.Info("PDF stashed for sign-up",
		slog.String("session", st.ID),
		slog.String("name", meta.Name),
		slog.Int64("size", meta.Size),
	)
	return meta, nil
}

// parseLastModified accepts RFC 3339 or the millisecond epoch browsers
// report in File.lastModified.
func parseLastModified(v string, fallback time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback.UTC(), nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperror.ValidationFailed("last_modified", "last_modified must be RFC 3339 or epoch milliseconds")
	}
	return t.UTC(), nil
}

func pageParams(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, offset := 0, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, 0, apperror.ValidationFailed("limit", "limit must be a number")
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, apperror.ValidationFailed("offset", "offset must be a non-negative number")
		}
		offset = n
	}
	return limit, offset, nil
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
