package handler

import (
	"errors"
	"net/http"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/loading"
	"github.com/sakif/flipbook/internal/navigation"
)

var errNoSession = errors.New("handler: no session attached to request")

// SessionHandler exposes the per-session coordination state: route changes
// go in, the global loading flag comes out.
type SessionHandler struct{}

func NewSessionHandler() *SessionHandler {
	return &SessionHandler{}
}

type navigateRequest struct {
	Path string `json:"path"`
}

// HandleNavigate records a client-side route change.
//
// HTTP: POST /api/session/navigate
func (h *SessionHandler) HandleNavigate(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req navigateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Path == "" || req.Path[0] != '/' {
		writeError(w, apperror.ValidationFailed("path", "path must start with /"))
		return
	}
	st.Navigation.OnRouteChange(req.Path)
	writeJSON(w, http.StatusOK, st.Navigation.State())
}

type sessionStatus struct {
	Loading    loading.Snapshot `json:"loading"`
	Navigation navigation.State `json:"navigation"`
}

// HandleStatus reports whether anything is loading for this session.
//
// HTTP: GET /api/session/status
func (h *SessionHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionStatus{
		Loading:    st.Loading.Snapshot(),
		Navigation: st.Navigation.State(),
	})
}
