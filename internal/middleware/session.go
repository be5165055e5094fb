package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/sakif/flipbook/internal/clientstate"
)

// SessionCookie names the cookie holding the browser session id.
const SessionCookie = "sid"

// SessionOptions configures Session.
type SessionOptions struct {
	// MaxAge of the cookie. Zero makes it a browser-session cookie.
	MaxAge time.Duration
	Secure bool
}

// Session attaches the caller's clientstate.State to the request context,
// minting a new sid cookie when the request has none or an invalid one.
//
// The cookie is re-issued on every response so its expiry slides.
func Session(sessions *clientstate.Manager, opts SessionOptions, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := ""
			if c, err := r.Cookie(SessionCookie); err == nil && clientstate.ValidSessionID(c.Value) {
				id = c.Value
			}
			if id == "" {
				id = clientstate.NewSessionID()
			}

			st, err := sessions.Get(id)
			if err != nil {
				logger.Error("session unavailable",
					slog.String("session", id),
					slog.String("error", err.Error()),
				)
				http.Error(w, `{"error":"internal_error","message":"session unavailable"}`, http.StatusInternalServerError)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     SessionCookie,
				Value:    id,
				Path:     "/",
				MaxAge:   int(opts.MaxAge.Seconds()),
				HttpOnly: true,
				Secure:   opts.Secure,
				SameSite: http.SameSiteLaxMode,
			})

			next.ServeHTTP(w, r.WithContext(clientstate.WithState(r.Context(), st)))
		})
	}
}
