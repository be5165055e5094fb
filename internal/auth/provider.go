package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/backend"
	"github.com/sakif/flipbook/internal/clock"
	"github.com/sakif/flipbook/internal/model"
)

// Default token lifetimes.
const (
	DefaultSessionTTL = 24 * time.Hour
	DefaultResetTTL   = time.Hour
)

// Config wires a Provider.
type Config struct {
	Users      backend.UserStore
	Passwords  *PasswordService
	Tokens     *TokenService
	OAuth      map[string]OAuthProvider
	Mailer     Mailer
	SessionTTL time.Duration
	ResetTTL   time.Duration
	Clock      clock.Clock
	Logger     *slog.Logger
}

// Provider implements backend.Auth on top of a UserStore.
//
// Signed-out and used reset tokens are kept in an in-memory revocation list
// until they would have expired anyway.
type Provider struct {
	users      backend.UserStore
	passwords  *PasswordService
	tokens     *TokenService
	oauth      map[string]OAuthProvider
	mailer     Mailer
	sessionTTL time.Duration
	resetTTL   time.Duration
	clock      clock.Clock
	logger     *slog.Logger

	mu        sync.Mutex
	revoked   map[string]time.Time // token id -> expiry
	listeners map[int]backend.AuthStateListener
	nextID    int
}

var _ backend.Auth = (*Provider)(nil)

// NewProvider creates a Provider. Users and Tokens are required.
func NewProvider(cfg Config) *Provider {
	if cfg.Passwords == nil {
		cfg.Passwords = NewPasswordService()
	}
	if cfg.Mailer == nil {
		cfg.Mailer = LogMailer{Logger: cfg.Logger}
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = DefaultResetTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.OAuth == nil {
		cfg.OAuth = map[string]OAuthProvider{}
	}
	return &Provider{
		users:      cfg.Users,
		passwords:  cfg.Passwords,
		tokens:     cfg.Tokens,
		oauth:      cfg.OAuth,
		mailer:     cfg.Mailer,
		sessionTTL: cfg.SessionTTL,
		resetTTL:   cfg.ResetTTL,
		clock:      clock.OrReal(cfg.Clock),
		logger:     cfg.Logger,
		revoked:    make(map[string]time.Time),
		listeners:  make(map[int]backend.AuthStateListener),
	}
}

// HasOAuth reports whether provider is configured.
func (p *Provider) HasOAuth(provider string) bool {
	_, ok := p.oauth[provider]
	return ok
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateCredentials(email, password string) error {
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return apperror.ValidationFailed("email", "a valid email address is required")
	}
	if len(password) < MinPasswordLength {
		return apperror.ValidationFailed("password",
			fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	return nil
}

func (p *Provider) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*model.Session, error) {
	email = normalizeEmail(email)
	if err := validateCredentials(email, password); err != nil {
		return nil, err
	}

	hash, err := p.passwords.Hash(password)
	if err != nil {
		return nil, apperror.ValidationFailed("password", err.Error())
	}

	u := &model.User{Email: email, PasswordHash: hash, Metadata: metadata}
	if err := p.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.ValidationFailed("email", "an account with this email already exists")
		}
		return nil, fmt.Errorf("auth: creating user: %w", err)
	}

	return p.startSession(u)
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	u, err := p.users.GetUserByEmail(ctx, normalizeEmail(email))
	if apperror.IsNotFound(err) {
		return nil, apperror.Unauthorized("invalid email or password")
	}
	if err != nil {
		return nil, fmt.Errorf("auth: looking up user: %w", err)
	}

	if err := p.passwords.Verify(u.PasswordHash, password); err != nil {
		if errors.Is(err, ErrWrongPassword) {
			return nil, apperror.Unauthorized("invalid email or password")
		}
		return nil, err
	}

	return p.startSession(u)
}

// SignInWithOAuth returns the provider's consent URL. redirectTo is not
// embedded in the state; callers keep it alongside the state themselves.
func (p *Provider) SignInWithOAuth(provider, redirectTo string) (string, string, error) {
	op, ok := p.oauth[provider]
	if !ok {
		return "", "", apperror.ValidationFailed("provider", fmt.Sprintf("unsupported provider %q", provider))
	}
	state := xid.New().String()
	return op.AuthURL(state), state, nil
}

// CompleteOAuth finds or creates the account for the external identity.
// An existing password account with the same email gets linked.
func (p *Provider) CompleteOAuth(ctx context.Context, provider, code string) (*model.Session, error) {
	op, ok := p.oauth[provider]
	if !ok {
		return nil, apperror.ValidationFailed("provider", fmt.Sprintf("unsupported provider %q", provider))
	}
	ext, err := op.Exchange(ctx, code)
	if err != nil {
		return nil, apperror.Unauthorized("OAuth sign-in failed")
	}

	u, err := p.users.GetUserByGitHubID(ctx, ext.ID)
	switch {
	case err == nil:
	case apperror.IsNotFound(err):
		u, err = p.linkOrCreate(ctx, ext)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("auth: looking up GitHub user: %w", err)
	}

	return p.startSession(u)
}

func (p *Provider) linkOrCreate(ctx context.Context, ext *ExternalUser) (*model.User, error) {
	email := normalizeEmail(ext.Email)
	if email != "" {
		existing, err := p.users.GetUserByEmail(ctx, email)
		if err == nil {
			existing.GitHubID = ext.ID
			if err := p.users.UpdateUser(ctx, existing); err != nil {
				return nil, fmt.Errorf("auth: linking GitHub account: %w", err)
			}
			return existing, nil
		}
		if !apperror.IsNotFound(err) {
			return nil, fmt.Errorf("auth: looking up user by email: %w", err)
		}
	} else {
		email = fmt.Sprintf("%d+%s@users.noreply.github.com", ext.ID, strings.ToLower(ext.Login))
	}

	u := &model.User{
		Email:    email,
		GitHubID: ext.ID,
		Metadata: map[string]any{"login": ext.Login, "avatar_url": ext.AvatarURL},
	}
	if err := p.users.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("auth: creating GitHub user: %w", err)
	}
	return u, nil
}

// SignOut revokes token. Signing out with an invalid token is a no-op.
func (p *Provider) SignOut(ctx context.Context, token string) error {
	c, err := p.tokens.Validate(token, PurposeSession)
	if err != nil {
		return nil
	}
	p.revoke(c)
	p.emit(model.EventSignedOut, nil)
	return nil
}

func (p *Provider) GetUser(ctx context.Context, token string) (*model.User, error) {
	c, err := p.validate(token, PurposeSession)
	if err != nil {
		return nil, err
	}
	u, err := p.users.GetUserByID(ctx, c.UserID)
	if apperror.IsNotFound(err) {
		return nil, apperror.Unauthorized("account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("auth: loading user: %w", err)
	}
	return u, nil
}

func (p *Provider) OnAuthStateChange(fn backend.AuthStateListener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// ResetPasswordForEmail mails a single-use reset link. Unknown addresses
// succeed silently so the endpoint cannot be used to discover accounts.
func (p *Provider) ResetPasswordForEmail(ctx context.Context, email, redirectTo string) error {
	u, err := p.users.GetUserByEmail(ctx, normalizeEmail(email))
	if apperror.IsNotFound(err) {
		p.logger.DebugContext(ctx, "password reset for unknown email")
		return nil
	}
	if err != nil {
		return fmt.Errorf("auth: looking up user: %w", err)
	}

	token, _, err := p.tokens.Issue(u.ID, PurposePasswordReset, p.resetTTL)
	if err != nil {
		return err
	}

	link, err := url.Parse(redirectTo)
	if err != nil {
		return apperror.ValidationFailed("redirect_to", "invalid redirect URL")
	}
	q := link.Query()
	q.Set("token", token)
	link.RawQuery = q.Encode()

	if err := p.mailer.SendPasswordReset(ctx, u.Email, link.String()); err != nil {
		return fmt.Errorf("auth: sending reset mail: %w", err)
	}
	return nil
}

// UpdateUser accepts a session token or a password reset token. A reset
// token may only change the password and is revoked once used.
func (p *Provider) UpdateUser(ctx context.Context, token string, upd backend.UserUpdate) (*model.User, error) {
	c, err := p.validate(token, PurposeSession)
	if err != nil {
		rc, rerr := p.validate(token, PurposePasswordReset)
		if rerr != nil {
			return nil, err
		}
		if upd.Password == nil {
			return nil, apperror.ValidationFailed("password", "a new password is required")
		}
		upd.Metadata = nil
		c = rc
	}

	u, err := p.users.GetUserByID(ctx, c.UserID)
	if apperror.IsNotFound(err) {
		return nil, apperror.Unauthorized("account no longer exists")
	}
	if err != nil {
		return nil, fmt.Errorf("auth: loading user: %w", err)
	}

	if upd.Password != nil {
		if len(*upd.Password) < MinPasswordLength {
			return nil, apperror.ValidationFailed("password",
				fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
		}
		hash, err := p.passwords.Hash(*upd.Password)
		if err != nil {
			return nil, apperror.ValidationFailed("password", err.Error())
		}
		u.PasswordHash = hash
	}
	if len(upd.Metadata) > 0 {
		if u.Metadata == nil {
			u.Metadata = make(map[string]any, len(upd.Metadata))
		}
		for k, v := range upd.Metadata {
			u.Metadata[k] = v
		}
	}

	if err := p.users.UpdateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("auth: updating user: %w", err)
	}
	if c.Purpose == PurposePasswordReset {
		p.revoke(c)
	}
	p.emit(model.EventUserUpdated, &model.Session{User: u})
	return u, nil
}

func (p *Provider) startSession(u *model.User) (*model.Session, error) {
	token, c, err := p.tokens.Issue(u.ID, PurposeSession, p.sessionTTL)
	if err != nil {
		return nil, err
	}
	s := &model.Session{AccessToken: token, ExpiresAt: c.ExpiresAt, User: u}
	p.emit(model.EventSignedIn, s)
	return s, nil
}

func (p *Provider) validate(token, purpose string) (Claims, error) {
	if token == "" {
		return Claims{}, apperror.Unauthorized("not signed in")
	}
	c, err := p.tokens.Validate(token, purpose)
	if errors.Is(err, ErrTokenExpired) {
		return Claims{}, apperror.Unauthorized("session expired")
	}
	if err != nil {
		return Claims{}, apperror.Unauthorized("invalid session")
	}

	p.mu.Lock()
	_, revoked := p.revoked[c.TokenID]
	p.mu.Unlock()
	if revoked {
		return Claims{}, apperror.Unauthorized("session ended")
	}
	return c, nil
}

func (p *Provider) revoke(c Claims) {
	now := p.clock.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, exp := range p.revoked {
		if now.After(exp) {
			delete(p.revoked, id)
		}
	}
	p.revoked[c.TokenID] = c.ExpiresAt
}

func (p *Provider) emit(event model.AuthEvent, s *model.Session) {
	p.mu.Lock()
	listeners := make([]backend.AuthStateListener, 0, len(p.listeners))
	for _, fn := range p.listeners {
		listeners = append(listeners, fn)
	}
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(event, s)
	}
}
