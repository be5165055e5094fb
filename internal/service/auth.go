// Package service contains the business logic layer of the application.
//
//	Handler (HTTP) → Service (rules, orchestration) → backend capabilities
//
// Services accept plain values and a session's client state, never HTTP
// types, and return apperror values the handlers translate to status codes.
package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/localstore"
	"github.com/sakif/flipbook/internal/model"
)

// AuthResult is what a successful sign-in or sign-up hands back.
//
// NeedsUsername is true when the account has no valid username yet. The
// client must send the user to the "set username" flow before anything else.
type AuthResult struct {
	Session       *model.Session `json:"session"`
	Profile       *model.Profile `json:"profile"`
	NeedsUsername bool           `json:"needs_username"`
}

// AuthService wraps backend.Auth with the profile bookkeeping that follows
// every sign-in.
type AuthService struct {
	auth     backend.Auth
	profiles *ProfileService
	logger   *slog.Logger
}

func NewAuthService(auth backend.Auth, profiles *ProfileService, logger *slog.Logger) *AuthService {
	return &AuthService{auth: auth, profiles: profiles, logger: logger}
}

// SignUp creates an account. username is optional; when given it is
// validated and checked for availability before the account exists, so a
// taken name never leaves an orphaned account behind.
func (s *AuthService) SignUp(ctx context.Context, local localstore.Store, email, password, username string) (*AuthResult, error) {
	var metadata map[string]any
	if username != "" {
		name, err := ValidateUsername(username)
		if err != nil {
			return nil, err
		}
		available, err := s.profiles.IsUsernameAvailable(ctx, name, "")
		if err != nil {
			return nil, err
		}
		if !available {
			return nil, apperror.ValidationFailed("username", "username is already taken")
		}
		username = name
		metadata = map[string]any{"username": name}
	}

	session, err := s.auth.SignUp(ctx, email, password, metadata)
	if err != nil {
		return nil, err
	}
	s.logger.Info("user signed up", slog.String("userID", session.User.ID))
	return s.afterSignIn(ctx, local, session)
}

func (s *AuthService) SignIn(ctx context.Context, local localstore.Store, email, password string) (*AuthResult, error) {
	session, err := s.auth.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, err
	}
	return s.afterSignIn(ctx, local, session)
}

// StartOAuth returns the provider consent URL and the state to verify on
// callback.
func (s *AuthService) StartOAuth(provider, redirectTo string) (string, string, error) {
	return s.auth.SignInWithOAuth(provider, redirectTo)
}

func (s *AuthService) FinishOAuth(ctx context.Context, local localstore.Store, provider, code string) (*AuthResult, error) {
	session, err := s.auth.CompleteOAuth(ctx, provider, code)
	if err != nil {
		return nil, err
	}
	return s.afterSignIn(ctx, local, session)
}

// afterSignIn makes sure a profile row exists. A username requested at
// sign-up is applied here; if it has been taken in the meantime the user is
// simply asked for another one.
func (s *AuthService) afterSignIn(ctx context.Context, local localstore.Store, session *model.Session) (*AuthResult, error) {
	user := session.User
	// Another account may have used this session's cache slot.
	s.profiles.Forget(local)

	profile, err := s.profiles.Ensure(ctx, local, user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("loading profile: %w", err)
	}

	if !profile.HasValidUsername() {
		if wanted, ok := user.Metadata["username"].(string); ok && wanted != "" {
			p, err := s.profiles.SetUsername(ctx, local, user.ID, user.Email, wanted)
			if err == nil {
				profile = p
			} else {
				s.logger.Info("requested username unavailable",
					slog.String("userID", user.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return &AuthResult{
		Session:       session,
		Profile:       profile,
		NeedsUsername: !profile.HasValidUsername(),
	}, nil
}

func (s *AuthService) SignOut(ctx context.Context, local localstore.Store, token string) error {
	s.profiles.Forget(local)
	return s.auth.SignOut(ctx, token)
}

// CurrentUser resolves token to the user and their profile.
func (s *AuthService) CurrentUser(ctx context.Context, local localstore.Store, token string) (*AuthResult, error) {
	user, err := s.auth.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	profile, err := s.profiles.Ensure(ctx, local, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &AuthResult{
		Session:       &model.Session{User: user},
		Profile:       profile,
		NeedsUsername: !profile.HasValidUsername(),
	}, nil
}

// RequestPasswordReset mails a reset link pointing at redirectTo.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email, redirectTo string) error {
	if email == "" {
		return apperror.ValidationFailed("email", "email is required")
	}
	return s.auth.ResetPasswordForEmail(ctx, email, redirectTo)
}

// UpdatePassword sets a new password. token is a session token or the token
// from a reset link.
func (s *AuthService) UpdatePassword(ctx context.Context, token, password string) error {
	if _, err := s.auth.UpdateUser(ctx, token, backend.UserUpdate{Password: &password}); err != nil {
		return err
	}
	s.logger.Info("password updated")
	return nil
}

// GetUser resolves a token; it satisfies auth.UserResolver for the HTTP
// middleware.
func (s *AuthService) GetUser(ctx context.Context, token string) (*model.User, error) {
	return s.auth.GetUser(ctx, token)
}
