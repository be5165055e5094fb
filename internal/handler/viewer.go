// Package handler contains the HTTP request handlers: the JSON API and the
// flipbook viewer page.
//
// HANDLER RESPONSIBILITIES:
// 1. Parse the incoming HTTP request (path params, query, body, session)
// 2. Call the service layer
// 3. Write the HTTP response (status code, headers, body)
//
// Handlers hold no business rules; they are the glue between HTTP and the
// services.
package handler

import (
	"bytes"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/service"
)

// ViewerHandler renders the HTML pages: the flipbook viewer, the landing
// page, the account forms and public profiles.
//
// Templates are parsed once at startup. base.html holds the page shell with
// a {{template "content" .}} placeholder; every page template fills it, so
// each is parsed into its own set.
type ViewerHandler struct {
	pubs     *service.PublicationService
	likes    *service.LikeService
	profiles *service.ProfileService
	viewer   *template.Template
	errPage  *template.Template
	pages    map[string]*template.Template
	logger   *slog.Logger
}

var pageTemplates = []string{"home", "register", "username", "profile"}

// NewViewerHandler parses templates/base.html and every page template from
// assets.
func NewViewerHandler(
	assets fs.FS,
	pubs *service.PublicationService,
	likes *service.LikeService,
	profiles *service.ProfileService,
	logger *slog.Logger,
) (*ViewerHandler, error) {
	viewer, err := template.ParseFS(assets, "templates/base.html", "templates/viewer.html")
	if err != nil {
		return nil, err
	}
	errPage, err := template.ParseFS(assets, "templates/base.html", "templates/error.html")
	if err != nil {
		return nil, err
	}
	pages := make(map[string]*template.Template, len(pageTemplates))
	for _, name := range pageTemplates {
		t, err := template.ParseFS(assets, "templates/base.html", "templates/"+name+".html")
		if err != nil {
			return nil, err
		}
		pages[name] = t
	}
	return &ViewerHandler{
		pubs:     pubs,
		likes:    likes,
		profiles: profiles,
		viewer:   viewer,
		errPage:  errPage,
		pages:    pages,
		logger:   logger,
	}, nil
}

type viewerPage struct {
	Title       string
	Publication *model.Publication
	Owner       string
	LikeCount   int
	Liked       bool
}

type errorPage struct {
	Title    string
	Heading  string
	Message  string
	RetryURL string
	BackURL  string
}

// HandleView serves the flipbook viewer.
//
// HTTP: GET /view/{id}
//
// Any failure to load the publication renders a full error page with retry
// and back links instead of a bare status.
func (h *ViewerHandler) HandleView(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pub, err := h.pubs.Get(r.Context(), id)
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	page := viewerPage{Title: pub.Title, Publication: pub}

	// Owner name and likes are decoration; the book still renders without them.
	if owner, err := h.profiles.Get(r.Context(), nil, pub.UserID); err == nil && owner.HasValidUsername() {
		page.Owner = owner.Username
	}
	st, _ := clientstate.FromContext(r.Context())
	viewerID, _ := auth.UserIDFromContext(r.Context())
	if state, err := h.likes.State(r.Context(), st, viewerID, pub.ID); err == nil {
		page.LikeCount = state.Count
		page.Liked = state.Liked
	} else {
		h.logger.Warn("viewer: loading likes", slog.String("id", pub.ID), slog.String("error", err.Error()))
	}

	h.render(w, h.viewer, http.StatusOK, page)
}

func (h *ViewerHandler) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := statusFor(err)
	page := errorPage{
		Title:    "Something went wrong",
		Heading:  "We couldn't open this flipbook",
		Message:  "Something went wrong while loading it. Please try again in a moment.",
		RetryURL: r.URL.RequestURI(),
		BackURL:  "/",
	}
	switch status {
	case http.StatusNotFound:
		page.Title = "Not found"
		page.Heading = "This flipbook doesn't exist"
		page.Message = "It may have been deleted by its owner."
		page.RetryURL = ""
	case http.StatusBadRequest:
		page.Title = "Not found"
		page.Heading = "That link looks broken"
		page.Message = "Check the address and try again."
		page.RetryURL = ""
	case http.StatusInternalServerError:
		h.logger.Error("viewer: loading publication", slog.String("error", err.Error()))
	}
	if ref, err := url.Parse(r.Referer()); err == nil && ref.Host == r.Host && ref.Path != r.URL.Path {
		page.BackURL = localPath(ref.RequestURI())
	}
	h.render(w, h.errPage, status, page)
}

// render executes into a buffer first so a template error can still become
// a clean 500.
func (h *ViewerHandler) render(w http.ResponseWriter, tmpl *template.Template, status int, data any) {
	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base", data); err != nil {
		h.logger.Error("failed to render template", slog.String("error", err.Error()))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// NotFound renders the error page for unknown routes outside /api.
func (h *ViewerHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, apperror.NotFound("page", r.URL.Path))
}
