package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/service"
)

// homeFeedSize is how many publications the landing page lists.
const homeFeedSize = 24

var authNotices = map[string]string{
	"denied": "GitHub sign-in was cancelled.",
	"failed": "We couldn't sign you in with GitHub. Please try again.",
}

type homePage struct {
	Title    string
	Notice   string
	SignedIn bool
	Items    []model.FeedItem
}

type formPage struct {
	Title    string
	SignedIn bool
	Username string
}

type profilePage struct {
	Title        string
	Profile      *model.Profile
	Publications []model.Publication
}

// HandleHome renders the landing page with the newest publications.
//
// HTTP: GET /
//
// ?auth=denied|failed comes back from the GitHub callback and shows a notice.
func (h *ViewerHandler) HandleHome(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())
	page := homePage{
		Title:    "Home",
		Notice:   authNotices[r.URL.Query().Get("auth")],
		SignedIn: viewerID != "",
	}
	items, err := h.pubs.Feed(r.Context(), viewerID, service.FeedQuery{Limit: homeFeedSize})
	if err != nil {
		h.logger.Warn("home: loading feed", slog.String("error", err.Error()))
	}
	page.Items = items
	h.render(w, h.pages["home"], http.StatusOK, page)
}

// HandleRegisterForm renders the sign-up form.
//
// HTTP: GET /register
func (h *ViewerHandler) HandleRegisterForm(w http.ResponseWriter, r *http.Request) {
	viewerID, _ := auth.UserIDFromContext(r.Context())
	h.render(w, h.pages["register"], http.StatusOK, formPage{Title: "Create an account", SignedIn: viewerID != ""})
}

// HandleUsernameForm renders the set-username form new OAuth accounts are
// sent to.
//
// HTTP: GET /settings/username
func (h *ViewerHandler) HandleUsernameForm(w http.ResponseWriter, r *http.Request) {
	page := formPage{Title: "Choose a username"}
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		page.SignedIn = true
		if p, err := h.profiles.Get(r.Context(), nil, userID); err == nil && p.HasValidUsername() {
			page.Username = p.Username
		}
	}
	h.render(w, h.pages["username"], http.StatusOK, page)
}

// HandleProfile renders a user's public page with their publications.
//
// HTTP: GET /u/{username}
func (h *ViewerHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.profiles.GetByUsername(r.Context(), chi.URLParam(r, "username"))
	if apperror.IsNotFound(err) {
		h.render(w, h.errPage, http.StatusNotFound, errorPage{
			Title:   "Not found",
			Heading: "No one goes by that name",
			Message: "The account may have been renamed or removed.",
			BackURL: "/",
		})
		return
	}
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	pubs, err := h.pubs.ListByUser(r.Context(), p.ID, 0, 0)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	h.render(w, h.pages["profile"], http.StatusOK, profilePage{
		Title:        "@" + p.Username,
		Profile:      p,
		Publications: pubs,
	})
}
