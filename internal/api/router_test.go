package api

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"consentido_auth/internal/app/service"
	"consentido_auth/internal/common/security"
	"consentido_auth/internal/domain/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestServer(t *testing.T, cfg RouterConfig) (*httptest.Server, repository.UserRepository) {
	t.Helper()

	users := repository.NewMemoryUserRepository()
	tokens, err := security.NewTokenService(security.TokenConfig{
		Key:      []byte("0123456789abcdef0123456789abcdef"),
		Lifetime: time.Hour,
	})
	require.NoError(t, err)
	creds, err := service.NewCredentialService(users, security.NewPasswordHasher(bcrypt.MinCost))
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authService := service.NewAuthService(users, creds, tokens, service.WithLogger(logger))

	srv := httptest.NewServer(NewRouter(authService, cfg))
	t.Cleanup(srv.Close)
	return srv, users
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func get(t *testing.T, url string, header http.Header) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, vs := range header {
		req.Header[k] = vs
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func readBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return out
}

func TestAuthFlow_EndToEnd(t *testing.T) {
	srv, _ := newTestServer(t, RouterConfig{})

	resp, body := postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username": "ana", "secret": "s3cret", "email": "a@x.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "ana", body["username"])
	assert.Equal(t, "a@x.com", body["email"])
	assert.Equal(t, "user", body["role"])
	assert.NotEmpty(t, body["message"])
	assert.NotContains(t, body, "secret")
	registeredID := body["id"]

	resp, body = postJSON(t, srv.URL+"/api/auth/login", map[string]string{
		"username": "ana", "secret": "s3cret",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, float64(3600), body["expires_in"])
	profile, ok := body["profile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, registeredID, profile["id"])

	resp, body = get(t, srv.URL+"/api/auth/verify?token="+url.QueryEscape(token), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "ana", body["username"])
	assert.Equal(t, registeredID, body["id"])

	resp, body = get(t, srv.URL+"/api/auth/verify?token="+url.QueryEscape(token[:len(token)-1]), nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["error"])

	resp, body = get(t, srv.URL+"/api/auth/me", http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ana", body["username"])
}

func TestLogin_Statuses(t *testing.T) {
	srv, _ := newTestServer(t, RouterConfig{})
	postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username": "ana", "secret": "s3cret", "email": "a@x.com",
	})

	resp, body := postJSON(t, srv.URL+"/api/auth/login", map[string]string{"username": "ana"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.NotEmpty(t, body["error"])

	resp, wrong := postJSON(t, srv.URL+"/api/auth/login", map[string]string{"username": "ana", "secret": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, wrong["message"])

	resp, unknown := postJSON(t, srv.URL+"/api/auth/login", map[string]string{"username": "ghost", "secret": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, wrong, unknown)

	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", bytes.NewBufferString("{not json"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegister_Statuses(t *testing.T) {
	srv, _ := newTestServer(t, RouterConfig{})

	resp, body := postJSON(t, srv.URL+"/api/auth/register", map[string]string{"username": "ana", "secret": "s3cret"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "email is required", body["message"])

	resp, _ = postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username": "ana", "secret": "s3cret", "email": "a@x.com",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username": "ana", "secret": "other", "email": "b@x.com",
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.NotEmpty(t, body["error"])
	assert.NotEmpty(t, body["message"])
}

func TestVerify_Statuses(t *testing.T) {
	srv, users := newTestServer(t, RouterConfig{})
	postJSON(t, srv.URL+"/api/auth/register", map[string]string{
		"username": "ana", "secret": "s3cret", "email": "a@x.com",
	})
	_, body := postJSON(t, srv.URL+"/api/auth/login", map[string]string{"username": "ana", "secret": "s3cret"})
	token := body["token"].(string)

	resp, body := get(t, srv.URL+"/api/auth/verify", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["valid"])

	resp, body = get(t, srv.URL+"/api/auth/verify", http.Header{"Authorization": {"Bearer " + token}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["valid"])

	require.NoError(t, users.Delete(t.Context(), "ana"))
	resp, body = get(t, srv.URL+"/api/auth/verify?token="+url.QueryEscape(token), nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, false, body["valid"])
}

func TestMe_RequiresBearer(t *testing.T) {
	srv, _ := newTestServer(t, RouterConfig{})

	resp, _ := get(t, srv.URL+"/api/auth/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = get(t, srv.URL+"/api/auth/me", http.Header{"Authorization": {"Bearer not-a-token"}})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, RouterConfig{})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(raw))
}

func TestCORS_Preflight(t *testing.T) {
	srv, _ := newTestServer(t, RouterConfig{
		AllowedOrigins:   []string{"https://app.example.com"},
		AllowCredentials: true,
	})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/auth/login", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))

	req.Header.Set("Origin", "https://evil.example.com")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestRouterConfig_RequestTimeout(t *testing.T) {
	assert.Equal(t, DefaultRequestTimeout, RouterConfig{}.requestTimeout())
	assert.Equal(t, 5*time.Second, RouterConfig{RequestTimeout: 5 * time.Second}.requestTimeout())
}
