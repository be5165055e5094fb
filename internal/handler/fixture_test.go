package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/handler"
	"github.com/sakif/flipbook/internal/middleware"
	"github.com/sakif/flipbook/internal/model"
	"github.com/sakif/flipbook/internal/render"
	"github.com/sakif/flipbook/internal/service"
	"github.com/sakif/flipbook/internal/testutil"
	"github.com/sakif/flipbook/web"
)

const testPDF = "%PDF-1.7\n1 0 obj << >> endobj\n%%EOF\n"

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeOAuth struct {
	user *auth.ExternalUser
	err  error
}

func (f *fakeOAuth) AuthURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + state
}

func (f *fakeOAuth) Exchange(ctx context.Context, code string) (*auth.ExternalUser, error) {
	return f.user, f.err
}

// fixture is one browser talking to a router built from the real handlers
// over in-memory tables and storage. Cookies persist between requests.
type fixture struct {
	t        *testing.T
	router   http.Handler
	tables   *testutil.MemoryTables
	store    *testutil.MemoryStorage
	oauth    *fakeOAuth
	sessions *clientstate.Manager
	cookies  map[string]*http.Cookie
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:       t,
		tables:  testutil.NewMemoryTables(),
		store:   testutil.NewMemoryStorage(),
		oauth:   &fakeOAuth{},
		cookies: make(map[string]*http.Cookie),
	}

	tokens, err := auth.NewTokenService("handler-test-secret-0123456789abcdef", nil)
	require.NoError(t, err)
	provider := auth.NewProvider(auth.Config{
		Users:     f.tables,
		Passwords: auth.NewPasswordServiceWithCost(bcrypt.MinCost),
		Tokens:    tokens,
		OAuth:     map[string]auth.OAuthProvider{auth.ProviderGitHub: f.oauth},
		Logger:    testLogger,
	})
	profiles := service.NewProfileService(f.tables, f.store, testLogger)
	authSvc := service.NewAuthService(provider, profiles, testLogger)
	pubs := service.NewPublicationService(f.tables, f.store, render.Disabled{}, testLogger,
		service.WithDeleteVerification(2, time.Millisecond))
	likes := service.NewLikeService(f.tables, testLogger)

	f.sessions = clientstate.NewManager(clientstate.Options{Logger: testLogger})
	t.Cleanup(f.sessions.Close)

	ah := handler.NewAuthHandler(authSvc, false, testLogger)
	ph := handler.NewProfileHandler(profiles, testLogger)
	pub := handler.NewPublicationHandler(pubs, testutil.FixedClock(), testLogger)
	lh := handler.NewLikeHandler(likes, pubs, testLogger)
	sh := handler.NewSessionHandler()
	vh, err := handler.NewViewerHandler(web.FS, pubs, likes, profiles, testLogger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Use(middleware.Session(f.sessions, middleware.SessionOptions{}, testLogger))
	r.Post("/auth/signup", ah.HandleSignUp)
	r.Post("/auth/signin", ah.HandleSignIn)
	r.Post("/auth/signout", ah.HandleSignOut)
	r.Get("/auth/github/login", ah.HandleGitHubLogin)
	r.Get("/auth/github/callback", ah.HandleGitHubCallback)
	r.Post("/auth/password/reset", ah.HandlePasswordReset)
	r.Post("/auth/password/update", ah.HandlePasswordUpdate)

	r.Group(func(r chi.Router) {
		r.Use(auth.OptionalAuth(authSvc))
		r.Get("/api/me", ah.HandleMe)
		r.Get("/api/profiles/{username}", ph.HandleGetByUsername)
		r.Get("/api/usernames/{username}/available", ph.HandleUsernameAvailable)
		r.Get("/api/feed", pub.HandleFeed)
		r.Get("/api/publications/{id}", pub.HandleGet)
		r.Get("/api/publications/{id}/likes", lh.HandleState)
		r.Get("/api/users/{id}/publications", pub.HandleListByUser)
		r.Post("/api/publications", pub.HandleCreate)
		r.Post("/api/handoff", pub.HandleStashHandoff)
		r.Get("/api/handoff", pub.HandleGetHandoff)
		r.Delete("/api/handoff", pub.HandleClearHandoff)
		r.Post("/api/session/navigate", sh.HandleNavigate)
		r.Get("/api/session/status", sh.HandleStatus)
		r.Get("/", vh.HandleHome)
		r.Get(handler.RegisterPath, vh.HandleRegisterForm)
		r.Get(handler.SetUsernamePath, vh.HandleUsernameForm)
		r.Get("/u/{username}", vh.HandleProfile)
		r.Get("/view/{id}", vh.HandleView)
	})
	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(authSvc))
		r.Get("/api/me/publications", pub.HandleListMine)
		r.Put("/api/profile", ph.HandleUpdate)
		r.Put("/api/profile/username", ph.HandleSetUsername)
		r.Post("/api/profile/avatar", ph.HandleUploadAvatar)
		r.Put("/api/publications/{id}", pub.HandleUpdate)
		r.Delete("/api/publications/{id}", pub.HandleDelete)
		r.Post("/api/publications/{id}/like", lh.HandleToggle)
		r.Post("/api/handoff/publish", pub.HandlePublishHandoff)
	})
	r.NotFound(vh.NotFound)
	f.router = r
	return f
}

// do sends req with the fixture's cookies and remembers the cookies set by
// the response.
func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	f.t.Helper()
	for _, c := range f.cookies {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(f.cookies, c.Name)
			continue
		}
		f.cookies[c.Name] = c
	}
	return rec
}

func (f *fixture) json(method, path, body string) *httptest.ResponseRecorder {
	f.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return f.do(req)
}

// upload posts a multipart form. An empty filename sends no file part.
func (f *fixture) upload(path, field, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(f.t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile(field, filename)
		require.NoError(f.t, err)
		_, err = fw.Write(content)
		require.NoError(f.t, err)
	}
	require.NoError(f.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return f.do(req)
}

// signUp creates an account with a username and keeps its token cookie.
func (f *fixture) signUp(email, username string) *service.AuthResult {
	f.t.Helper()
	rec := f.json(http.MethodPost, "/auth/signup",
		`{"email":"`+email+`","password":"secret1","username":"`+username+`"}`)
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var res service.AuthResult
	decodeBody(f.t, rec, &res)
	return &res
}

// signOutLocally drops the token cookie, leaving the session cookie alone.
func (f *fixture) signOutLocally() {
	delete(f.cookies, auth.CookieName)
}

// publish creates a publication owned by the signed-in user.
func (f *fixture) publish(title string) model.Publication {
	f.t.Helper()
	rec := f.upload("/api/publications", "file", "book.pdf", []byte(testPDF), map[string]string{"title": title})
	require.Equal(f.t, http.StatusCreated, rec.Code, rec.Body.String())
	var pub model.Publication
	decodeBody(f.t, rec, &pub)
	return pub
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

type errorBody struct {
	Error   string          `json:"error"`
	Message string          `json:"message"`
	Field   string          `json:"field"`
	Detail  json.RawMessage `json:"detail"`
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var e errorBody
	decodeBody(t, rec, &e)
	return e
}
