package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/backend/sqlite"
	"github.com/sakif/flipbook/internal/backend/storage"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/config"
	"github.com/sakif/flipbook/internal/middleware"
	"github.com/sakif/flipbook/internal/navigation"
	"github.com/sakif/flipbook/internal/render"
	"github.com/sakif/flipbook/internal/render/docker"
	"github.com/sakif/flipbook/internal/service"
	"github.com/sakif/flipbook/web"
)

// Build is the composition root: it opens the database, object storage and
// thumbnail renderer named by cfg, assembles the services and returns a
// Server that owns them.
//
// DEPENDENCY CHAIN:
//
//	sqlite.DB ─┬─ auth.Provider ── AuthService
//	           ├─ ProfileService ◄─ storage
//	           ├─ PublicationService ◄─ storage, renderer
//	           └─ LikeService
//
// The renderer is optional: without Docker, publishing works and
// publications simply have no thumbnail.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	var closers []func() error
	fail := func(err error) (*Server, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		return nil, err
	}

	// === 1. DATABASE ===
	if cfg.Database.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	closers = append(closers, db.Close)

	// === 2. OBJECT STORAGE ===
	var (
		store backend.Storage
		files *storage.FileStore
	)
	switch cfg.Storage.Driver {
	case "s3":
		s3Store, err := storage.NewS3Store(ctx, storage.S3Config{
			Region:          cfg.Storage.S3.Region,
			Endpoint:        cfg.Storage.S3.Endpoint,
			AccessKeyID:     cfg.Storage.S3.AccessKeyID,
			SecretAccessKey: cfg.Storage.S3.SecretAccessKey,
			BucketPrefix:    cfg.Storage.S3.BucketPrefix,
			PublicBaseURL:   cfg.Storage.S3.PublicBaseURL,
		})
		if err != nil {
			return fail(fmt.Errorf("creating S3 storage: %w", err))
		}
		store = s3Store
	default:
		files, err = storage.NewFileStore(cfg.Storage.Root, cfg.Server.BaseURL)
		if err != nil {
			return fail(fmt.Errorf("creating file storage: %w", err))
		}
		store = files
	}

	// === 3. THUMBNAIL RENDERER ===
	var renderer render.Renderer = render.Disabled{}
	if cfg.Render.Enabled {
		rcfg := docker.DefaultConfig()
		rcfg.Image = cfg.Render.Image
		rcfg.PoolSize = cfg.Render.PoolSize
		rcfg.Timeout = cfg.Render.Timeout.D()
		rcfg.Width = cfg.Render.Width
		dr, err := docker.New(ctx, rcfg, logger)
		if err != nil {
			logger.Warn("thumbnail renderer unavailable, publishing without thumbnails",
				slog.String("error", err.Error()),
			)
		} else {
			renderer = dr
			closers = append(closers, dr.Close)
		}
	}

	// === 4. AUTH ===
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret, nil)
	if err != nil {
		return fail(fmt.Errorf("creating token service: %w", err))
	}
	oauth := map[string]auth.OAuthProvider{}
	if cfg.Auth.GitHub.Enabled() {
		oauth[auth.ProviderGitHub] = auth.NewGitHubProvider(
			cfg.Auth.GitHub.ClientID,
			cfg.Auth.GitHub.ClientSecret,
			cfg.Auth.GitHub.CallbackURL,
		)
	} else {
		logger.Info("GitHub sign-in disabled (no client id/secret)")
	}
	provider := auth.NewProvider(auth.Config{
		Users:      db,
		Tokens:     tokens,
		OAuth:      oauth,
		Mailer:     auth.LogMailer{Logger: logger},
		SessionTTL: cfg.Auth.SessionTTL.D(),
		ResetTTL:   cfg.Auth.ResetTTL.D(),
		Logger:     logger,
	})

	// === 5. SERVICES ===
	profiles := service.NewProfileService(db, store, logger)
	deps := Deps{
		Sessions: clientstate.NewManager(clientstate.Options{
			DataDir:     cfg.Session.DataDir,
			Retention:   cfg.Session.CookieMaxAge.D(),
			IdleTimeout: cfg.Session.IdleTimeout.D(),
			Navigation: navigation.Options{
				Settle:  cfg.Session.NavigationSettle.D(),
				Recheck: cfg.Session.NavigationRecheck.D(),
			},
			PublicationsTTL: cfg.Cache.PublicationsTTL.D(),
			Logger:          logger,
		}),
		Auth:     service.NewAuthService(provider, profiles, logger),
		Profiles: profiles,
		Publications: service.NewPublicationService(db, store, renderer, logger,
			service.WithDeleteVerification(cfg.Publish.DeleteVerifyAttempts, cfg.Publish.DeleteVerifyInterval.D())),
		Likes:  service.NewLikeService(db, logger),
		Assets: web.FS,
	}
	if files != nil {
		deps.Files = files
	}

	s, err := New(Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout.D(),
		WriteTimeout:    cfg.Server.WriteTimeout.D(),
		IdleTimeout:     cfg.Server.IdleTimeout.D(),
		ShutdownTimeout: cfg.Server.ShutdownTimeout.D(),
		SecureCookies:   cfg.Auth.SecureCookies,
		SessionMaxAge:   cfg.Session.CookieMaxAge.D(),
		UploadLimit: middleware.RateLimitOptions{
			PerMinute: cfg.RateLimit.UploadsPerMinute,
			Burst:     cfg.RateLimit.UploadBurst,
		},
	}, deps, logger)
	if err != nil {
		return fail(err)
	}
	for _, c := range closers {
		s.onClose(c)
	}
	return s, nil
}
