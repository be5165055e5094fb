package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/flipbook/internal/auth"
	"github.com/sakif/flipbook/internal/clientstate"
	"github.com/sakif/flipbook/internal/navigation"
	"github.com/sakif/flipbook/internal/render"
	"github.com/sakif/flipbook/internal/service"
	"github.com/sakif/flipbook/internal/testutil"
	"github.com/sakif/flipbook/web"
)

const testPDF = "%PDF-1.7\n1 0 obj << >> endobj\n%%EOF\n"

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// newTestServer runs the full router over in-memory tables and storage.
// The returned client keeps cookies between requests like a browser.
func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	tables := testutil.NewMemoryTables()
	store := testutil.NewMemoryStorage()

	tokens, err := auth.NewTokenService("server-test-secret-0123456789abcdef", nil)
	require.NoError(t, err)
	provider := auth.NewProvider(auth.Config{
		Users:     tables,
		Passwords: auth.NewPasswordServiceWithCost(bcrypt.MinCost),
		Tokens:    tokens,
		Logger:    testLogger,
	})
	profiles := service.NewProfileService(tables, store, testLogger)
	sessions := clientstate.NewManager(clientstate.Options{
		// Long enough that a navigation is still settling on the next request.
		Navigation: navigation.Options{Settle: time.Minute},
		Logger:     testLogger,
	})
	t.Cleanup(sessions.Close)

	srv, err := New(Config{}, Deps{
		Sessions:     sessions,
		Auth:         service.NewAuthService(provider, profiles, testLogger),
		Profiles:     profiles,
		Publications: service.NewPublicationService(tables, store, render.Disabled{}, testLogger),
		Likes:        service.NewLikeService(tables, testLogger),
		Assets:       web.FS,
	}, testLogger)
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return ts, &http.Client{
		Jar: jar,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func multipartBody(t *testing.T, fields map[string]string, filename, content string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = io.WriteString(fw, content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestAnonymousUploadSurvivesSignUp(t *testing.T) {
	ts, client := newTestServer(t)

	// 1. Anonymous upload is stashed and answered with 401 + redirect.
	body, ctype := multipartBody(t, map[string]string{"last_modified": "1740819600000"}, "deck.pdf", testPDF)
	resp, err := client.Post(ts.URL+"/api/publications", ctype, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	var rejected struct {
		Error  string `json:"error"`
		Detail struct {
			Redirect string `json:"redirect"`
			Pending  struct {
				Name string `json:"name"`
				Size int64  `json:"size"`
			} `json:"pending"`
		} `json:"detail"`
	}
	decode(t, resp, &rejected)
	assert.Equal(t, "unauthorized", rejected.Error)
	assert.Equal(t, "/register", rejected.Detail.Redirect)
	assert.Equal(t, "deck.pdf", rejected.Detail.Pending.Name)
	assert.Equal(t, int64(len(testPDF)), rejected.Detail.Pending.Size)

	// 2. The session reports the pending file.
	resp, err = client.Get(ts.URL + "/api/handoff")
	require.NoError(t, err)
	var status struct {
		Pending       bool `json:"pending"`
		NeedsReselect bool `json:"needs_reselect"`
	}
	decode(t, resp, &status)
	assert.True(t, status.Pending)
	assert.False(t, status.NeedsReselect)

	// 3. Sign up on the same browser session.
	resp, err = client.Post(ts.URL+"/auth/signup", "application/json",
		strings.NewReader(`{"email":"ada@example.com","password":"secret1","username":"ada"}`))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	// 4. Publish the stashed file without re-sending it.
	body, ctype = multipartBody(t, map[string]string{"title": "Spring catalogue"}, "", "")
	resp, err = client.Post(ts.URL+"/api/handoff/publish", ctype, body)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var pub struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		PDFURL string `json:"pdf_url"`
	}
	location := resp.Header.Get("Location")
	decode(t, resp, &pub)
	assert.Equal(t, "Spring catalogue", pub.Title)
	assert.Equal(t, "/view/"+pub.ID, location)

	// 5. The handoff is gone and the book is in the user's list and viewer.
	resp, err = client.Get(ts.URL + "/api/handoff")
	require.NoError(t, err)
	status.Pending = true
	decode(t, resp, &status)
	assert.False(t, status.Pending)

	resp, err = client.Get(ts.URL + "/api/me/publications")
	require.NoError(t, err)
	var mine struct {
		Publications []struct {
			ID string `json:"id"`
		} `json:"publications"`
	}
	decode(t, resp, &mine)
	require.Len(t, mine.Publications, 1)
	assert.Equal(t, pub.ID, mine.Publications[0].ID)

	resp, err = client.Get(ts.URL + location)
	require.NoError(t, err)
	defer resp.Body.Close()
	page, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "Spring catalogue")
	assert.Contains(t, string(page), pub.PDFURL)
}

func TestViewerMissingPublicationRendersErrorPage(t *testing.T) {
	ts, client := newTestServer(t)

	resp, err := client.Get(ts.URL + "/view/does-not-exist")
	require.NoError(t, err)
	defer resp.Body.Close()
	page, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, string(page), "This flipbook doesn")
}

func TestRedirectTargetsServePages(t *testing.T) {
	ts, client := newTestServer(t)

	for _, path := range []string{"/", "/?auth=denied", "/?auth=failed", "/register", "/settings/username"} {
		resp, err := client.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html", path)
	}

	resp, err := client.Post(ts.URL+"/auth/signup", "application/json",
		strings.NewReader(`{"email":"ada@example.com","password":"secret1","username":"ada"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = client.Get(ts.URL + "/u/ada")
	require.NoError(t, err)
	page, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(page), "@ada")

	resp, err = client.Get(ts.URL + "/u/nobody")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUnknownAPIRouteIsJSON(t *testing.T) {
	ts, client := newTestServer(t)

	resp, err := client.Get(ts.URL + "/api/nope")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body struct {
		Error string `json:"error"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "not_found", body.Error)
}

func TestProtectedRouteNeedsToken(t *testing.T) {
	ts, client := newTestServer(t)

	resp, err := client.Get(ts.URL + "/api/me/publications")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSessionStatusAndCookie(t *testing.T) {
	ts, client := newTestServer(t)

	resp, err := client.Post(ts.URL+"/api/session/navigate", "application/json", strings.NewReader(`{"path":"/feed"}`))
	require.NoError(t, err)
	var nav struct {
		IsNavigating bool   `json:"isNavigating"`
		LastPath     string `json:"lastPath"`
	}
	decode(t, resp, &nav)
	assert.True(t, nav.IsNavigating)
	assert.Equal(t, "/feed", nav.LastPath)

	var sid string
	for _, c := range resp.Cookies() {
		if c.Name == "sid" {
			sid = c.Value
		}
	}
	require.True(t, clientstate.ValidSessionID(sid), "session cookie issued")

	// Same browser, same session: the navigation is still in flight.
	resp, err = client.Get(ts.URL + "/api/session/status")
	require.NoError(t, err)
	var status struct {
		Loading struct {
			IsLoading    bool `json:"isLoading"`
			IsNavigating bool `json:"isNavigating"`
		} `json:"loading"`
		Navigation struct {
			LastPath string `json:"lastPath"`
		} `json:"navigation"`
	}
	decode(t, resp, &status)
	assert.Equal(t, "/feed", status.Navigation.LastPath)
	assert.True(t, status.Loading.IsNavigating)
	assert.True(t, status.Loading.IsLoading)
}

func TestStaticAssets(t *testing.T) {
	ts, client := newTestServer(t)

	resp, err := client.Get(ts.URL + "/static/viewer.js")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
