package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/service"
)

// ProfileHandler serves public profiles and the signed-in user's own profile.
type ProfileHandler struct {
	profiles *service.ProfileService
	logger   *slog.Logger
}

func NewProfileHandler(profiles *service.ProfileService, logger *slog.Logger) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, logger: logger}
}

// HandleGetByUsername returns a public profile.
//
// HTTP: GET /api/profiles/{username}
func (h *ProfileHandler) HandleGetByUsername(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileUpdateRequest struct {
	Bio      *string `json:"bio"`
	Location *string `json:"location"`
}

// HandleUpdate edits bio and location.
//
// HTTP: PUT /api/profile
func (h *ProfileHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req profileUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.profiles.Update(r.Context(), st.Local, user.ID, service.ProfileUpdate{
		Bio:      req.Bio,
		Location: req.Location,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type usernameRequest struct {
	Username string `json:"username"`
}

// HandleSetUsername claims a username for the signed-in user. This is the
// set-username flow new OAuth accounts are redirected to.
//
// HTTP: PUT /api/profile/username
func (h *ProfileHandler) HandleSetUsername(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req usernameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.profiles.SetUsername(r.Context(), st.Local, user.ID, user.Email, req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type availabilityResponse struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// HandleUsernameAvailable checks a candidate username. An invalid name is
// reported as unavailable with the validation message rather than a 400,
// so the sign-up form can show it inline while typing.
//
// HTTP: GET /api/usernames/{username}/available
func (h *ProfileHandler) HandleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "username")
	name, err := h.profiles.ValidateUsername(raw)
	if err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			writeJSON(w, http.StatusOK, availabilityResponse{Username: raw, Reason: appErr.Message})
			return
		}
		writeError(w, err)
		return
	}

	// Your own current name counts as available.
	exceptID, _ := auth.UserIDFromContext(r.Context())
	available, err := h.profiles.IsUsernameAvailable(r.Context(), name, exceptID)
	if err != nil {
		writeError(w, err)
		return
	}
	res := availabilityResponse{Username: name, Available: available}
	if !available {
		res.Reason = "username is already taken"
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleUploadAvatar replaces the signed-in user's avatar.
//
// HTTP: POST /api/profile/avatar (multipart, field "avatar")
func (h *ProfileHandler) HandleUploadAvatar(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	user, ok := requireUser(w, r)
	if !ok {
		return
	}

	data, _, err := readUpload(w, r, "avatar", service.MaxAvatarSize)
	if err != nil {
		writeError(w, err)
		return
	}

	p, err := h.profiles.UploadAvatar(r.Context(), st.Local, user.ID, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// requireUser returns the user RequireAuth attached.
func requireUser(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	u, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, apperror.Unauthorized("valid authentication required"))
		return nil, false
	}
	return u, true
}

// uploadedFile is what readUpload learned about the part besides its bytes.
type uploadedFile struct {
	Name string
	Size int64
}

// readUpload reads one file part of a multipart form. Bodies over limit
// (plus room for the other fields) are rejected.
func readUpload(w http.ResponseWriter, r *http.Request, field string, limit int64) ([]byte, uploadedFile, error) {
	r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, uploadedFile{}, apperror.ValidationFailed(field, "file is too large")
		}
		return nil, uploadedFile{}, apperror.ValidationFailed(field, "expected a multipart form")
	}

	f, hdr, err := r.FormFile(field)
	if err != nil {
		return nil, uploadedFile{}, apperror.ValidationFailed(field, "file is required")
	}
	defer f.Close()

	if hdr.Size > limit {
		return nil, uploadedFile{}, apperror.ValidationFailed(field, "file is too large")
	}
	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, uploadedFile{}, err
	}
	if int64(len(data)) > limit {
		return nil, uploadedFile{}, apperror.ValidationFailed(field, "file is too large")
	}
	return data, uploadedFile{Name: hdr.Filename, Size: int64(len(data))}, nil
}

const (
	multipartOverhead = 1 << 20
	multipartMemory   = 8 << 20
)
