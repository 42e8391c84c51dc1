package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"channelhub/backend/internal/domain"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, "nosniff", res.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", res.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, res.Header().Get("Referrer-Policy"))
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/work-orders", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Less(t, res.Code, 300)
	assert.NotEmpty(t, res.Header().Get("Access-Control-Allow-Origin"))
}

func TestLoginRateLimitReturns429(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "admin", Password: "wrong-pass"})

	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		api.Handler().ServeHTTP(res, req)

		if i < 5 {
			require.Equal(t, http.StatusUnauthorized, res.Code, "attempt %d", i+1)
		} else {
			require.Equal(t, http.StatusTooManyRequests, res.Code, "attempt %d", i+1)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, res.Code)
}

func TestUnknownFieldsRejected(t *testing.T) {
	api := newTestAPI(t)
	c := &client{t: t, api: api}

	res := c.do(http.MethodPost, "/api/v1/auth/login", `{"username":"admin","password":"changeme123","pin":"1"}`)

	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestStateChangingRequestsNeedCSRFToken(t *testing.T) {
	api := newTestAPI(t)
	admin := newClient(t, api, "admin")
	payload := domain.OperatorCreateRequest{Name: "BSNL"}

	admin.csrf = ""
	requireStatus(t, admin.do(http.MethodPost, "/api/v1/operators", payload), http.StatusForbidden)

	admin.csrf = "forged"
	requireStatus(t, admin.do(http.MethodPost, "/api/v1/operators", payload), http.StatusForbidden)

	admin.csrf = fetchCSRFToken(t, api)
	requireStatus(t, admin.do(http.MethodPost, "/api/v1/operators", payload), http.StatusCreated)

	admin.csrf = ""
	requireStatus(t, admin.do(http.MethodGet, "/api/v1/operators", nil), http.StatusOK)
}

func TestParsePositiveLimitCaps(t *testing.T) {
	assert.Equal(t, 200, parsePositiveLimit("9999", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("invalid", 50, 200))
	assert.Equal(t, 50, parsePositiveLimit("-3", 50, 200))
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	tok := payload["csrf_token"]
	require.NotEmpty(t, strings.TrimSpace(tok))
	return tok
}

func login(t *testing.T, api *API, username string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: seedPassword})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, "%s login failed: %s", username, res.Body.String())

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}
