package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/common"
	"github.com/dmitrijs2005/artistdir/internal/logging"
	"github.com/dmitrijs2005/artistdir/internal/server/auth"
	"github.com/dmitrijs2005/artistdir/internal/server/services"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret = "test-secret"
	testCookie = "artistdir.session-token"
	testWallet = "0xabcdef0123456789abcdef0123456789abcdef01"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func strp(s string) *string { return &s }
func boolp(b bool) *bool    { return &b }

type fakeIdentity struct {
	out *services.Identity
	err error
}

func (f *fakeIdentity) Authorize(context.Context, string) (*services.Identity, error) {
	return f.out, f.err
}

// fakeClaims issues and projects like the real service; refreshes are
// recorded and advance LastRefresh.
type fakeClaims struct {
	refreshes []bool
	advance   bool
	patch     func(*auth.SessionClaims)
}

func (f *fakeClaims) Issue(id *services.Identity) auth.SessionClaims {
	c := auth.SessionClaims{
		ExternalIdentityID: id.ExternalIdentityID,
		WalletAddress:      id.Wallet,
		Email:              id.Email,
		IsAdmin:            boolp(id.IsAdmin),
		IsSuperAdmin:       boolp(id.IsSuperAdmin),
		IsWhiteListed:      boolp(id.IsWhiteListed),
		IsHidden:           boolp(id.IsHidden),
		NeedsSecondaryLink: id.NeedsSecondaryLink,
		LastRefresh:        1,
	}
	c.Subject = id.ID
	return c
}

func (f *fakeClaims) RefreshIfStale(_ context.Context, c auth.SessionClaims, force bool) auth.SessionClaims {
	f.refreshes = append(f.refreshes, force)
	if force || f.advance {
		if f.patch != nil {
			f.patch(&c)
		}
		c.LastRefresh++
	}
	return c
}

func (f *fakeClaims) Project(c auth.SessionClaims) services.SessionView {
	return (&services.ClaimsService{}).Project(c)
}

type fakeAccounts struct {
	res   *services.LinkResult
	err   error
	calls int
	extID string
}

func (f *fakeAccounts) LinkWallet(_ context.Context, externalID, _ string) (*services.LinkResult, error) {
	f.calls++
	f.extID = externalID
	return f.res, f.err
}

func newTestServer(t *testing.T, is identityService, cs claimsService, as accountService) *HTTPServer {
	t.Helper()
	s, err := NewHTTPServer(":0", logging.Nop{}, is, cs, as, Options{
		SecretKey:       testSecret,
		BaseURL:         "https://artistdir.example",
		CookieName:      testCookie,
		MaxAge:          time.Hour,
		SignInPerMinute: 60,
		SignInBurst:     2,
	})
	require.NoError(t, err)
	return s
}

func sessionCookie(t *testing.T, c auth.SessionClaims) *http.Cookie {
	t.Helper()
	tok, err := auth.SignSession(c, []byte(testSecret), time.Hour)
	require.NoError(t, err)
	return &http.Cookie{Name: testCookie, Value: tok}
}

func claimsFor(id string, ext *string) auth.SessionClaims {
	c := auth.SessionClaims{
		ExternalIdentityID: ext,
		IsAdmin:            boolp(false),
		IsSuperAdmin:       boolp(false),
		IsWhiteListed:      boolp(false),
		IsHidden:           boolp(false),
		NeedsSecondaryLink: true,
		LastRefresh:        1,
	}
	c.Subject = id
	return c
}

func do(t *testing.T, h http.Handler, method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewHTTPServer_Validation(t *testing.T) {
	_, err := NewHTTPServer(":0", logging.Nop{}, nil, nil, nil, Options{CookieName: testCookie})
	require.Error(t, err)
	_, err = NewHTTPServer(":0", logging.Nop{}, nil, nil, nil, Options{SecretKey: "k"})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})
	w := do(t, s.Router(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestSignIn_OK(t *testing.T) {
	id := &services.Identity{ID: "u1", ExternalIdentityID: strp("ext-1"), Email: strp("a@b.com"), NeedsSecondaryLink: true}
	s := newTestServer(t, &fakeIdentity{out: id}, &fakeClaims{}, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodPost, "/api/auth/signin", `{"authToken":"tok"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	session := body["session"].(map[string]any)
	assert.Equal(t, "u1", session["id"])
	assert.Equal(t, "ext-1", session["externalIdentityId"])
	assert.Equal(t, true, session["needsSecondaryLink"])
	assert.Nil(t, session["walletAddress"])

	c := findCookie(w, testCookie)
	require.NotNil(t, c)
	assert.True(t, c.HttpOnly)
	assert.False(t, c.Secure)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, body["token"], c.Value)

	parsed, err := auth.ParseSession(c.Value, []byte(testSecret))
	require.NoError(t, err)
	assert.Equal(t, "u1", parsed.Subject)
}

func TestSignIn_InvalidCredentials(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{err: common.ErrorUnauthorized}, &fakeClaims{}, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodPost, "/api/auth/signin", `{"authToken":"bad"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", decode(t, w)["error"])
	assert.Nil(t, findCookie(w, testCookie))
}

func TestSignIn_BadBody(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodPost, "/api/auth/signin", `{`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSignIn_RateLimited(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{err: common.ErrorUnauthorized}, &fakeClaims{}, &fakeAccounts{})
	h := s.Router()

	codes := []int{}
	for i := 0; i < 3; i++ {
		codes = append(codes, do(t, h, http.MethodPost, "/api/auth/signin", `{"authToken":"x"}`).Code)
	}
	assert.Equal(t, []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}, codes)
}

func signInFrom(t *testing.T, h http.Handler, peer, forwardedFor string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(`{"authToken":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = peer
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestSignIn_RateLimitIgnoresForwardedFor(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{err: common.ErrorUnauthorized}, &fakeClaims{}, &fakeAccounts{})
	h := s.Router()

	codes := []int{}
	for i := 0; i < 10; i++ {
		codes = append(codes, signInFrom(t, h, "203.0.113.7:5000", fmt.Sprintf("10.0.0.%d", i)))
	}

	assert.Equal(t, http.StatusUnauthorized, codes[0])
	assert.Equal(t, http.StatusUnauthorized, codes[1])
	for i, code := range codes[2:] {
		assert.Equal(t, http.StatusTooManyRequests, code, "request %d", i+2)
	}
}

func TestSignIn_RateLimitTrustedProxy(t *testing.T) {
	s, err := NewHTTPServer(":0", logging.Nop{}, &fakeIdentity{err: common.ErrorUnauthorized}, &fakeClaims{}, &fakeAccounts{}, Options{
		SecretKey:       testSecret,
		CookieName:      testCookie,
		MaxAge:          time.Hour,
		SignInPerMinute: 60,
		SignInBurst:     1,
		TrustedProxies:  []string{"10.1.0.0/16"},
	})
	require.NoError(t, err)
	h := s.Router()

	// behind the proxy each forwarded client has its own bucket
	assert.Equal(t, http.StatusUnauthorized, signInFrom(t, h, "10.1.0.5:4000", "198.51.100.1"))
	assert.Equal(t, http.StatusUnauthorized, signInFrom(t, h, "10.1.0.5:4000", "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, signInFrom(t, h, "10.1.0.5:4000", "198.51.100.1"))

	// a peer outside the trusted range cannot pick its bucket
	assert.Equal(t, http.StatusUnauthorized, signInFrom(t, h, "203.0.113.9:4000", "198.51.100.3"))
	assert.Equal(t, http.StatusTooManyRequests, signInFrom(t, h, "203.0.113.9:4000", "198.51.100.4"))
}

func TestNewHTTPServer_BadTrustedProxy(t *testing.T) {
	_, err := NewHTTPServer(":0", logging.Nop{}, nil, nil, nil, Options{
		SecretKey:      testSecret,
		CookieName:     testCookie,
		TrustedProxies: []string{"not-an-ip"},
	})
	require.Error(t, err)
}

func TestSession_RequiresToken(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodGet, "/api/auth/session", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, s.Router(), http.MethodGet, "/api/auth/session", "", &http.Cookie{Name: testCookie, Value: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSession_FreshNoReissue(t *testing.T) {
	cs := &fakeClaims{}
	s := newTestServer(t, &fakeIdentity{}, cs, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodGet, "/api/auth/session", "", sessionCookie(t, claimsFor("u1", strp("ext-1"))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", decode(t, w)["id"])
	assert.Equal(t, []bool{false}, cs.refreshes)
	assert.Nil(t, findCookie(w, testCookie))
}

func TestSession_StaleReissuesCookie(t *testing.T) {
	cs := &fakeClaims{advance: true, patch: func(c *auth.SessionClaims) { c.IsAdmin = boolp(true) }}
	s := newTestServer(t, &fakeIdentity{}, cs, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodGet, "/api/auth/session", "", sessionCookie(t, claimsFor("u1", strp("ext-1"))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["isAdmin"])

	c := findCookie(w, testCookie)
	require.NotNil(t, c)
	parsed, err := auth.ParseSession(c.Value, []byte(testSecret))
	require.NoError(t, err)
	assert.True(t, *parsed.IsAdmin)
}

func TestSession_PostForcesRefresh(t *testing.T) {
	cs := &fakeClaims{}
	s := newTestServer(t, &fakeIdentity{}, cs, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodPost, "/api/auth/session", "", sessionCookie(t, claimsFor("u1", strp("ext-1"))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []bool{true}, cs.refreshes)
}

func TestSession_BearerHeader(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})

	tok, err := auth.SignSession(claimsFor("u1", nil), []byte(testSecret), time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestSignOut_ClearsCookie(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodPost, "/api/auth/signout", "")
	require.Equal(t, http.StatusOK, w.Code)
	c := findCookie(w, testCookie)
	require.NotNil(t, c)
	assert.Equal(t, "", c.Value)
	assert.True(t, c.MaxAge < 0)
}

func TestRedirect(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})

	w := do(t, s.Router(), http.MethodGet, "/api/auth/redirect?callbackUrl=/artists", "")
	assert.Equal(t, http.StatusFound, w.Code)
	assert.Equal(t, "https://artistdir.example/artists", w.Header().Get("Location"))

	w = do(t, s.Router(), http.MethodGet, "/api/auth/redirect?callbackUrl=https://evil.example/", "")
	assert.Equal(t, "https://artistdir.example", w.Header().Get("Location"))
}

func TestLinkWallet_Responses(t *testing.T) {
	tests := []struct {
		name     string
		res      *services.LinkResult
		err      error
		wantCode int
		want     map[string]any
	}{
		{"direct link", &services.LinkResult{}, nil, http.StatusOK,
			map[string]any{"success": true, "merged": false, "message": "Wallet linked successfully!"}},
		{"merged", &services.LinkResult{Merged: true}, nil, http.StatusOK,
			map[string]any{"success": true, "merged": true, "message": "Account merged successfully! Your contribution history has been restored."}},
		{"invalid", nil, common.ErrInvalidWallet, http.StatusBadRequest,
			map[string]any{"error": "Invalid wallet address"}},
		{"conflict", nil, common.ErrWalletConflict, http.StatusConflict,
			map[string]any{"error": "This wallet is already linked to another account"}},
		{"user not found", nil, common.ErrMergeUserNotFound, http.StatusInternalServerError,
			map[string]any{"success": false, "error": "User not found"}},
		{"merge failed", nil, common.ErrMergeFailed, http.StatusInternalServerError,
			map[string]any{"success": false, "error": "Merge failed"}},
		{"other", nil, common.ErrorNotFound, http.StatusInternalServerError,
			map[string]any{"success": false, "error": "Failed to link wallet"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := &fakeClaims{}
			as := &fakeAccounts{res: tt.res, err: tt.err}
			s := newTestServer(t, &fakeIdentity{}, cs, as)

			w := do(t, s.Router(), http.MethodPost, "/api/link-wallet",
				`{"walletAddress":"`+testWallet+`"}`, sessionCookie(t, claimsFor("u1", strp("ext-1"))))

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, tt.want, decode(t, w))
			assert.Equal(t, "ext-1", as.extID)

			if tt.err == nil {
				// middleware check plus forced refresh after linking
				assert.Equal(t, []bool{false, true}, cs.refreshes)
				assert.NotNil(t, findCookie(w, testCookie))
			}
		})
	}
}

func TestLinkWallet_Unauthenticated(t *testing.T) {
	as := &fakeAccounts{}
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, as)

	w := do(t, s.Router(), http.MethodPost, "/api/link-wallet", `{"walletAddress":"`+testWallet+`"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// wallet-only session has no external identity
	w = do(t, s.Router(), http.MethodPost, "/api/link-wallet", `{"walletAddress":"`+testWallet+`"}`,
		sessionCookie(t, claimsFor("u1", nil)))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Not authenticated", decode(t, w)["error"])
	assert.Equal(t, 0, as.calls)
}

func TestLinkWallet_BadBody(t *testing.T) {
	as := &fakeAccounts{}
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, as)

	w := do(t, s.Router(), http.MethodPost, "/api/link-wallet", `not json`,
		sessionCookie(t, claimsFor("u1", strp("ext-1"))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid request body", decode(t, w)["error"])
	assert.Equal(t, 0, as.calls)
}

func TestSession_ExpiredToken(t *testing.T) {
	s := newTestServer(t, &fakeIdentity{}, &fakeClaims{}, &fakeAccounts{})

	c := claimsFor("u1", strp("ext-1"))
	tok, err := auth.SignSession(c, []byte(testSecret), -time.Minute)
	require.NoError(t, err)

	w := do(t, s.Router(), http.MethodGet, "/api/auth/session", "", &http.Cookie{Name: testCookie, Value: tok})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

