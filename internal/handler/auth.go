package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sakif/flipbook/internal/apperror"
	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/service"
)

// Browser destinations after an OAuth round trip.
const (
	oauthStateCookie    = "oauth_state"
	oauthRedirectCookie = "oauth_redirect"

	SetUsernamePath = "/settings/username"
	RegisterPath    = "/register"
)

// AuthHandler serves sign-up, sign-in, OAuth, sign-out and password reset.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp / HandleSignIn → email + password, issue the token cookie
//   - HandleGitHubLogin          → redirect the browser to GitHub's consent page
//   - HandleGitHubCallback       → verify state, exchange code, issue the cookie
//   - HandleSignOut              → revoke the token and clear the cookie
//   - HandleMe                   → the signed-in user and their profile
//   - HandlePasswordReset / HandlePasswordUpdate
//
// Every successful sign-in answers with needs_username; a client that sees
// it true must send the user to the set-username page first.
type AuthHandler struct {
	auth   *service.AuthService
	secure bool
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. secure marks cookies HTTPS-only.
func NewAuthHandler(authService *service.AuthService, secure bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, secure: secure, logger: logger}
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username,omitempty"`
}

// HandleSignUp creates an account.
//
// HTTP: POST /auth/signup
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignUp(r.Context(), st.Local, req.Email, req.Password, req.Username)
	if err != nil {
		writeError(w, err)
		return
	}
	st.Likes.Reset()
	h.setToken(w, res)
	writeJSON(w, http.StatusCreated, res)
}

// HandleSignIn signs in with email and password.
//
// HTTP: POST /auth/signin
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req credentialsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.auth.SignIn(r.Context(), st.Local, req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	st.Likes.Reset()
	h.setToken(w, res)
	writeJSON(w, http.StatusOK, res)
}

// HandleGitHubLogin redirects the user to GitHub's authorization page.
//
// HTTP: GET /auth/github/login?redirect_to=/publish
//
// CSRF PROTECTION VIA STATE:
// The state from the provider is kept in a short-lived HttpOnly cookie and
// compared on callback, proving the callback was started by this browser.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	redirectTo := localPath(r.URL.Query().Get("redirect_to"))
	consentURL, state, err := h.auth.StartOAuth(auth.ProviderGitHub, redirectTo)
	if err != nil {
		writeError(w, err)
		return
	}

	h.setShortCookie(w, oauthStateCookie, state)
	h.setShortCookie(w, oauthRedirectCookie, redirectTo)
	http.Redirect(w, r, consentURL, http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth login flow.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for an account and session
//  3. Issue the token cookie
//  4. Redirect to the set-username page or the page the user came from
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookie)
	if err != nil || stateCookie.Value == "" {
		h.logger.Warn("auth callback: missing state cookie")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}
	if r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("auth callback: state mismatch")
		http.Error(w, "invalid OAuth state", http.StatusBadRequest)
		return
	}

	// Both cookies are single-use.
	redirectTo := "/"
	if c, err := r.Cookie(oauthRedirectCookie); err == nil {
		redirectTo = localPath(c.Value)
	}
	h.clearCookie(w, oauthStateCookie)
	h.clearCookie(w, oauthRedirectCookie)

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("auth callback: user denied authorization", slog.String("error", errParam))
		http.Redirect(w, r, "/?auth=denied", http.StatusSeeOther)
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		http.Error(w, "missing OAuth code", http.StatusBadRequest)
		return
	}

	res, err := h.auth.FinishOAuth(r.Context(), st.Local, auth.ProviderGitHub, code)
	if err != nil {
		h.logger.Error("auth callback: sign-in failed", slog.String("error", err.Error()))
		http.Redirect(w, r, "/?auth=failed", http.StatusSeeOther)
		return
	}
	st.Likes.Reset()
	h.setToken(w, res)

	if res.NeedsUsername {
		redirectTo = SetUsernamePath
	}
	http.Redirect(w, r, redirectTo, http.StatusSeeOther)
}

// HandleSignOut revokes the current token and clears the cookie.
//
// HTTP: POST /auth/signout
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := h.auth.SignOut(r.Context(), st.Local, auth.TokenFromRequest(r)); err != nil {
		writeError(w, err)
		return
	}
	st.Likes.Reset()
	h.clearCookie(w, auth.CookieName)
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleMe returns the signed-in user with their profile.
//
// HTTP: GET /api/me
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	st, ok := requireSession(w, r)
	if !ok {
		return
	}
	res, err := h.auth.CurrentUser(r.Context(), st.Local, auth.TokenFromRequest(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type resetRequest struct {
	Email      string `json:"email"`
	RedirectTo string `json:"redirect_to,omitempty"`
}

// HandlePasswordReset mails a reset link. The answer is the same whether or
// not the address has an account.
//
// HTTP: POST /auth/password/reset
func (h *AuthHandler) HandlePasswordReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	redirectTo := absoluteURL(r, localPath(req.RedirectTo))
	if err := h.auth.RequestPasswordReset(r.Context(), req.Email, redirectTo); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message": "if that address has an account, a reset link is on its way",
	})
}

type passwordUpdateRequest struct {
	// Token is the reset token from the emailed link. Signed-in users can
	// leave it empty and rely on their session.
	Token    string `json:"token,omitempty"`
	Password string `json:"password"`
}

// HandlePasswordUpdate sets a new password.
//
// HTTP: POST /auth/password/update
func (h *AuthHandler) HandlePasswordUpdate(w http.ResponseWriter, r *http.Request) {
	var req passwordUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	token := req.Token
	if token == "" {
		token = auth.TokenFromRequest(r)
	}
	if token == "" {
		writeError(w, apperror.Unauthorized("sign in or use the link from your email"))
		return
	}
	if err := h.auth.UpdatePassword(r.Context(), token, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "password updated"})
}

// setToken stores the access token in an HttpOnly cookie.
// HttpOnly = JavaScript cannot read this cookie (XSS protection).
// SameSite=Lax = sent on top-level navigations but not cross-site POSTs.
func (h *AuthHandler) setToken(w http.ResponseWriter, res *service.AuthResult) {
	if res == nil || res.Session == nil || res.Session.AccessToken == "" {
		return
	}
	maxAge := int(time.Until(res.Session.ExpiresAt).Seconds())
	if maxAge <= 0 {
		maxAge = int(auth.DefaultSessionTTL.Seconds())
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    res.Session.AccessToken,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) setShortCookie(w http.ResponseWriter, name, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   600, // 10 minutes to approve on the provider's page
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// localPath keeps redirect targets on this site. Anything that is not an
// absolute path (or is protocol-relative) becomes "/".
func localPath(p string) string {
	if p == "" || !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	u, err := url.Parse(p)
	if err != nil || u.Host != "" || u.Scheme != "" {
		return "/"
	}
	return p
}

func absoluteURL(r *http.Request, p string) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host + p
}

// requireSession fetches the session attached by the session middleware.
// Its absence is a wiring bug, answered with 500.
func requireSession(w http.ResponseWriter, r *http.Request) (*clientstate.State, bool) {
	st, ok := clientstate.FromContext(r.Context())
	if !ok {
		writeError(w, errNoSession)
		return nil, false
	}
	return st, true
}
