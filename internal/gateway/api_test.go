// ABOUTME: Tests for the HTTP API: account creation gate, key upload and user-plane checks
// ABOUTME: Drives the full handler stack through httptest against the memory and Redis-backed stores

package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/scheduler-gateway/internal/auth"
	"github.com/2389/scheduler-gateway/internal/config"
	"github.com/2389/scheduler-gateway/internal/keycache"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func memoryConfig() *config.Config {
	return &config.Config{
		Server:   config.ServerConfig{HTTPAddr: "127.0.0.1:0"},
		Database: config.DatabaseConfig{Driver: "memory"},
		Auth:     config.AuthConfig{AccountCreation: "open"},
		Logging:  config.LoggingConfig{Level: "info"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// newTestServer builds a gateway from cfg and serves its handler.
func newTestServer(t *testing.T, cfg *config.Config) (*Gateway, *httptest.Server) {
	t.Helper()
	gw, err := New(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = gw.Shutdown(context.Background())
	})
	return gw, srv
}

type client struct {
	t    *testing.T
	base string
}

func (c client) do(method, path string, body any, headers map[string]string) (*http.Response, map[string]any) {
	c.t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(c.t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	require.NoError(c.t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	var out map[string]any
	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &out)
	}
	return resp, out
}

func rsaKeyPair(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	return key, string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

func createAccount(t *testing.T, c client) (id, apiKey string) {
	t.Helper()
	resp, body := c.do(http.MethodPost, "/api/v1/account", nil, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	acct := body["account"].(map[string]any)
	return acct["id"].(string), body["secretApiKey"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	_, srv := newTestServer(t, memoryConfig())
	c := client{t: t, base: srv.URL}

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(raw))

	createAccount(t, c)

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	raw, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", string(raw))
}

func TestMetricsEndpoint(t *testing.T) {
	_, srv := newTestServer(t, memoryConfig())

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), "scheduler_gateway_accounts_created_total")
}

func TestMetricsEndpoint_Disabled(t *testing.T) {
	cfg := memoryConfig()
	cfg.Metrics.Enabled = false
	_, srv := newTestServer(t, cfg)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateAccount_Gate(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Auth.AccountCreation = "disabled"
		_, srv := newTestServer(t, cfg)
		c := client{t: t, base: srv.URL}

		resp, body := c.do(http.MethodPost, "/api/v1/account", CreateAccountRequest{Code: "x"}, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.NotContains(t, body, "secretApiKey")
	})

	t.Run("code", func(t *testing.T) {
		cfg := memoryConfig()
		cfg.Auth = config.AuthConfig{AccountCreation: "code", AccountCreationCode: "sesame"}
		_, srv := newTestServer(t, cfg)
		c := client{t: t, base: srv.URL}

		resp, _ := c.do(http.MethodPost, "/api/v1/account", CreateAccountRequest{Code: "wrong"}, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, _ = c.do(http.MethodPost, "/api/v1/account", nil, nil)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

		resp, body := c.do(http.MethodPost, "/api/v1/account", CreateAccountRequest{Code: "sesame"}, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		assert.True(t, strings.HasPrefix(body["secretApiKey"].(string), "sk_"))
	})

	t.Run("invalid json", func(t *testing.T) {
		_, srv := newTestServer(t, memoryConfig())
		resp, err := http.Post(srv.URL+"/api/v1/account", "application/json", strings.NewReader("{"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestAPIFlow(t *testing.T) {
	_, srv := newTestServer(t, memoryConfig())
	c := client{t: t, base: srv.URL}

	// Step 1: create an account and read it back with the API key
	id, apiKey := createAccount(t, c)
	mgmt := map[string]string{auth.HeaderAPIKey: apiKey}

	resp, body := c.do(http.MethodGet, "/api/v1/account", nil, mgmt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])
	assert.Nil(t, body["publicJwtKey"])

	// Step 2: a user token before any key is registered is rejected
	priv, pubPEM := rsaKeyPair(t)
	token, err := auth.NewIssuer(priv).Issue(auth.TokenRequest{
		Subject:      "user-1",
		Capabilities: []string{string(auth.OpCreateCalendar)},
		TTL:          time.Hour,
	})
	require.NoError(t, err)
	user := map[string]string{auth.HeaderAccountID: id, auth.HeaderAuthorization: "Bearer " + token}

	resp, body = c.do(http.MethodGet, "/api/v1/me", nil, user)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthenticated", body["error"])
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	// Step 3: upload the key
	resp, body = c.do(http.MethodPut, "/api/v1/account/pubkey", SetPublicKeyRequest{PublicJWTKey: &pubPEM}, mgmt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, body["publicJwtKey"])
	assert.True(t, strings.HasPrefix(body["keyFingerprint"].(string), "SHA256:"))
	assert.Equal(t, float64(1), body["keyVersion"])

	// Step 4: the token now authenticates
	resp, body = c.do(http.MethodGet, "/api/v1/me", nil, user)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["accountId"])
	assert.Equal(t, "user-1", body["userId"])
	assert.Equal(t, []any{"CreateCalendar"}, body["capabilities"])

	// Step 5: capability checks
	resp, body = c.do(http.MethodPost, "/api/v1/authorize", AuthorizeRequest{Operation: "CreateCalendar"}, user)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["allowed"])

	resp, body = c.do(http.MethodPost, "/api/v1/authorize", AuthorizeRequest{Operation: "DeleteCalendar"}, user)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "forbidden", body["error"])

	resp, _ = c.do(http.MethodPost, "/api/v1/authorize", AuthorizeRequest{Operation: "LaunchRockets"}, user)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Step 6: anonymous user within the account is admitted but holds nothing
	anon := map[string]string{auth.HeaderAccountID: id}
	resp, _ = c.do(http.MethodPost, "/api/v1/authorize", AuthorizeRequest{Operation: "CreateCalendar"}, anon)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = c.do(http.MethodGet, "/api/v1/me", nil, anon)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 7: the API key is not accepted on the user plane
	resp, _ = c.do(http.MethodPost, "/api/v1/authorize", AuthorizeRequest{Operation: "CreateCalendar"}, mgmt)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Step 8: removing the key revokes outstanding tokens immediately
	resp, body = c.do(http.MethodPut, "/api/v1/account/pubkey", map[string]any{"publicJwtKey": nil}, mgmt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["publicJwtKey"])
	assert.Equal(t, float64(2), body["keyVersion"])

	resp, _ = c.do(http.MethodGet, "/api/v1/me", nil, user)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAPI_Rejections(t *testing.T) {
	_, srv := newTestServer(t, memoryConfig())
	c := client{t: t, base: srv.URL}
	id, apiKey := createAccount(t, c)

	tests := []struct {
		name    string
		method  string
		path    string
		headers map[string]string
		status  int
	}{
		{"no credential on management", http.MethodGet, "/api/v1/account", nil, http.StatusUnauthorized},
		{"bad api key", http.MethodGet, "/api/v1/account", map[string]string{auth.HeaderAPIKey: "sk_nope"}, http.StatusUnauthorized},
		{"account id on management", http.MethodGet, "/api/v1/account", map[string]string{auth.HeaderAccountID: id}, http.StatusUnauthorized},
		{"api key on user plane", http.MethodGet, "/api/v1/me", map[string]string{auth.HeaderAPIKey: apiKey}, http.StatusUnauthorized},
		{"unknown account", http.MethodGet, "/api/v1/me", map[string]string{auth.HeaderAccountID: "missing", auth.HeaderAuthorization: "Bearer x.y.z"}, http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/v1/me", map[string]string{auth.HeaderAccountID: id, auth.HeaderAuthorization: "Bearer garbage"}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := c.do(tt.method, tt.path, nil, tt.headers)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, map[string]any{"error": "unauthenticated"}, body)
		})
	}
}

func TestSetPublicKey_Malformed(t *testing.T) {
	_, srv := newTestServer(t, memoryConfig())
	c := client{t: t, base: srv.URL}
	_, apiKey := createAccount(t, c)
	mgmt := map[string]string{auth.HeaderAPIKey: apiKey}

	bad := "-----BEGIN PUBLIC KEY-----\nAAAA\n-----END PUBLIC KEY-----\n"
	resp, body := c.do(http.MethodPut, "/api/v1/account/pubkey", SetPublicKeyRequest{PublicJWTKey: &bad}, mgmt)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "malformed public key", body["error"])

	resp, body = c.do(http.MethodGet, "/api/v1/account", nil, mgmt)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["publicJwtKey"])
}

func redisConfig(mr *miniredis.Miniredis) *config.Config {
	cfg := memoryConfig()
	cfg.Cache.Redis = config.RedisConfig{Enabled: true, Addr: mr.Addr(), KeyPrefix: "test:"}
	return cfg
}

func TestAPI_RedisKeyCache(t *testing.T) {
	mr := miniredis.RunT(t)
	_, srv := newTestServer(t, redisConfig(mr))
	c := client{t: t, base: srv.URL}

	id, apiKey := createAccount(t, c)
	mgmt := map[string]string{auth.HeaderAPIKey: apiKey}

	priv, pubPEM := rsaKeyPair(t)
	resp, _ := c.do(http.MethodPut, "/api/v1/account/pubkey", SetPublicKeyRequest{PublicJWTKey: &pubPEM}, mgmt)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cached, err := mr.Get("test:{" + id + "}")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(cached, "1:"), "cached value %q", cached)

	token, err := auth.NewIssuer(priv).Issue(auth.TokenRequest{Subject: "u", TTL: time.Hour})
	require.NoError(t, err)
	user := map[string]string{auth.HeaderAccountID: id, auth.HeaderAuthorization: "Bearer " + token}

	resp, _ = c.do(http.MethodGet, "/api/v1/me", nil, user)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// With Redis gone the key update is refused and the old key stays active.
	mr.Close()

	resp, body := c.do(http.MethodPut, "/api/v1/account/pubkey", map[string]any{"publicJwtKey": nil}, mgmt)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "unavailable", body["error"])

	resp, _ = c.do(http.MethodGet, "/api/v1/me", nil, user)
	assert.Equal(t, http.StatusOK, resp.StatusCode, "reads fall back to the account store")

	resp, err = http.Get(srv.URL + "/health/ready")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := redisConfig(mr)
	mr.Close()

	_, err := New(context.Background(), cfg, testLogger())
	assert.Error(t, err)
}

func TestWriteStoreError(t *testing.T) {
	gw := &Gateway{logger: testLogger()}

	rec := httptest.NewRecorder()
	gw.writeStoreError(rec, "acct", keycache.ErrCacheWrite)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	gw.writeStoreError(rec, "acct", io.ErrUnexpectedEOF)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
