// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer: it decides which URL patterns map to
// which handler, what middleware runs where, and how the server starts and
// stops. Build (build.go) is the composition root that turns a config into
// concrete stores and services; New takes those services ready-made so tests
// can run the full router over in-memory fakes.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/clock"
	"github.com/sakif/flipbook/internal/handler"
	"github.com/sakif/flipbook/internal/middleware"
	"github.com/sakif/flipbook/internal/service"
)

// Config holds HTTP-level settings.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	SecureCookies bool
	SessionMaxAge time.Duration
	UploadLimit   middleware.RateLimitOptions
}

// Deps are the services the routes call.
type Deps struct {
	Sessions     *clientstate.Manager
	Auth         *service.AuthService
	Profiles     *service.ProfileService
	Publications *service.PublicationService
	Likes        *service.LikeService

	// Files serves /files/* for the filesystem storage driver. Nil disables
	// the route.
	Files handler.ObjectOpener
	// Assets holds templates/ and static/.
	Assets fs.FS
	Clock  clock.Clock
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns whatever Build opened (database, renderer pool). Start
// closes them after the HTTP server has drained.
type Server struct {
	router  *chi.Mux
	config  Config
	deps    Deps
	logger  *slog.Logger
	closers []func() error
}

// New creates a Server over ready-made dependencies.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		deps:   deps,
		logger: logger,
	}
	if err := s.setupRoutes(); err != nil {
		return nil, fmt.Errorf("setting up routes: %w", err)
	}
	return s, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// onClose registers fn to run at shutdown, in reverse order of registration.
func (s *Server) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	POST   /auth/signup | /auth/signin | /auth/signout
//	GET    /auth/github/login | /auth/github/callback
//	POST   /auth/password/reset | /auth/password/update
//	GET    /api/me
//	GET    /api/profiles/{username}
//	PUT    /api/profile | /api/profile/username
//	POST   /api/profile/avatar                      (rate limited)
//	GET    /api/usernames/{username}/available
//	GET    /api/feed
//	GET    /api/publications/{id}
//	GET    /api/users/{id}/publications
//	GET    /api/me/publications
//	POST   /api/publications                        (rate limited, anonymous → handoff)
//	PUT    /api/publications/{id}
//	DELETE /api/publications/{id}
//	POST   /api/publications/{id}/like
//	GET    /api/publications/{id}/likes
//	POST   /api/handoff                             (rate limited)
//	GET    /api/handoff
//	DELETE /api/handoff
//	POST   /api/handoff/publish                     (rate limited)
//	POST   /api/session/navigate
//	GET    /api/session/status
//	GET    /view/{id}
//	GET    /static/*
//	GET    /files/{bucket}/*
//
// MIDDLEWARE ORDER MATTERS:
// RequestID → RealIP → Logger → Recoverer → Session, then per-group auth.
func (s *Server) setupRoutes() error {
	d := s.deps

	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === Static assets (no session needed) ===
	static, err := fs.Sub(d.Assets, "static")
	if err != nil {
		return fmt.Errorf("static assets: %w", err)
	}
	s.router.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	if d.Files != nil {
		files := handler.NewFilesHandler(d.Files, s.logger)
		s.router.Get("/files/{bucket}/*", files.HandleFile)
	}

	authHandler := handler.NewAuthHandler(d.Auth, s.config.SecureCookies, s.logger)
	profileHandler := handler.NewProfileHandler(d.Profiles, s.logger)
	pubHandler := handler.NewPublicationHandler(d.Publications, d.Clock, s.logger)
	likeHandler := handler.NewLikeHandler(d.Likes, d.Publications, s.logger)
	sessionHandler := handler.NewSessionHandler()
	viewerHandler, err := handler.NewViewerHandler(d.Assets, d.Publications, d.Likes, d.Profiles, s.logger)
	if err != nil {
		return fmt.Errorf("creating viewer handler: %w", err)
	}

	uploads := middleware.NewRateLimiter(s.config.UploadLimit)
	requireAuth := auth.RequireAuth(d.Auth)
	optionalAuth := auth.OptionalAuth(d.Auth)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Session(d.Sessions, middleware.SessionOptions{
			MaxAge: s.config.SessionMaxAge,
			Secure: s.config.SecureCookies,
		}, s.logger))

		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", authHandler.HandleSignUp)
			r.Post("/signin", authHandler.HandleSignIn)
			r.Post("/signout", authHandler.HandleSignOut)
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
			r.Post("/password/reset", authHandler.HandlePasswordReset)
			r.Post("/password/update", authHandler.HandlePasswordUpdate)
		})

		r.Route("/api", func(r chi.Router) {
			r.NotFound(handler.APINotFound)

			// Public, with the viewer attached when signed in.
			r.Group(func(r chi.Router) {
				r.Use(optionalAuth)
				r.Get("/me", authHandler.HandleMe)
				r.Get("/profiles/{username}", profileHandler.HandleGetByUsername)
				r.Get("/usernames/{username}/available", profileHandler.HandleUsernameAvailable)
				r.Get("/feed", pubHandler.HandleFeed)
				r.Get("/publications/{id}", pubHandler.HandleGet)
				r.Get("/publications/{id}/likes", likeHandler.HandleState)
				r.Get("/users/{id}/publications", pubHandler.HandleListByUser)

				r.Get("/handoff", pubHandler.HandleGetHandoff)
				r.Delete("/handoff", pubHandler.HandleClearHandoff)
				r.Post("/session/navigate", sessionHandler.HandleNavigate)
				r.Get("/session/status", sessionHandler.HandleStatus)

				r.With(uploads.Middleware).Post("/publications", pubHandler.HandleCreate)
				r.With(uploads.Middleware).Post("/handoff", pubHandler.HandleStashHandoff)
			})

			// Signed-in users only.
			r.Group(func(r chi.Router) {
				r.Use(requireAuth)
				r.Get("/me/publications", pubHandler.HandleListMine)
				r.Put("/profile", profileHandler.HandleUpdate)
				r.Put("/profile/username", profileHandler.HandleSetUsername)
				r.With(uploads.Middleware).Post("/profile/avatar", profileHandler.HandleUploadAvatar)
				r.Put("/publications/{id}", pubHandler.HandleUpdate)
				r.Delete("/publications/{id}", pubHandler.HandleDelete)
				r.Post("/publications/{id}/like", likeHandler.HandleToggle)
				r.With(uploads.Middleware).Post("/handoff/publish", pubHandler.HandlePublishHandoff)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.Get("/", viewerHandler.HandleHome)
			r.Get(handler.RegisterPath, viewerHandler.HandleRegisterForm)
			r.Get(handler.SetUsernamePath, viewerHandler.HandleUsernameForm)
			r.Get("/u/{username}", viewerHandler.HandleProfile)
			r.Get("/view/{id}", viewerHandler.HandleView)
		})
		r.NotFound(viewerHandler.NotFound)
	})

	return nil
}

// Start runs the HTTP server and the session janitor until ctx is
// cancelled, then shuts down gracefully:
//
//  1. Stop accepting new connections and drain in-flight requests
//  2. Tear down every session (cancels pending fetches and timers)
//  3. Close owned resources (renderer pool, database)
func (s *Server) Start(ctx context.Context) error {
	defer s.close()

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	janitorDone := make(chan struct{})
	go func() {
		defer close(janitorDone)
		s.deps.Sessions.Run(janitorCtx)
	}()
	defer func() {
		stopJanitor()
		<-janitorDone
	}()

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")

		timeout := s.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

func (s *Server) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("closing resource", slog.String("error", err.Error()))
		}
	}
	s.closers = nil
}
