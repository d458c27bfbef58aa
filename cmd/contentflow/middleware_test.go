package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contentflow/contentflow/config"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders()(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "default-src 'self'", w.Header().Get("Content-Security-Policy"))
}

func TestChain_AppliesAllMiddleware(t *testing.T) {
	handler := Chain(okHandler(), SecurityHeaders(), RequestID())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRequestID_PreservesClientID(t *testing.T) {
	var seen string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	})
	handler := RequestID()(inner)

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Request-ID", "req-fixed")
	handler.ServeHTTP(httptest.NewRecorder(), r)

	assert.Equal(t, "req-fixed", seen)
}

func TestNormalizePath(t *testing.T) {
	assert.Equal(t, "/generate", normalizePath("/generate"))
	assert.Equal(t, "/projects/:id", normalizePath("/projects/7f3a21b0-9c4d-4e8f-a1b2-3c4d5e6f7a8b"))
	assert.Equal(t, "/projects/:id/events", normalizePath("/projects/deadbeef01/events"))
	assert.Equal(t, "/projects/:id", normalizePath("/projects/12345"))
	assert.Equal(t, "/budget", normalizePath("/budget"))
}

func TestAuth_APIKey(t *testing.T) {
	cfg := config.AuthConfig{APIKeys: []string{"secret-key"}}
	handler := Auth(cfg, []string{"/healthz"}, zap.NewNop())(okHandler())

	// 无凭证被拒绝
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正确的 API Key 放行
	w = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/generate", nil)
	r.Header.Set("X-API-Key", "secret-key")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// 错误的 API Key 被拒绝
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/generate", nil)
	r.Header.Set("X-API-Key", "wrong")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 健康检查路径跳过认证
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_JWT(t *testing.T) {
	cfg := config.AuthConfig{JWTSecret: "hmac-secret"}

	var userID string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID = UserIDFromContext(r.Context())
	})
	handler := Auth(cfg, nil, zap.NewNop())(inner)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("hmac-secret"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/generate", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42", userID)

	// 错误签名被拒绝
	bad, err := token.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodPost, "/generate", nil)
	r.Header.Set("Authorization", "Bearer "+bad)
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuth_DisabledWithoutCredentials(t *testing.T) {
	handler := Auth(config.AuthConfig{}, nil, zap.NewNop())(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORS_DeniesWhenUnconfigured(t *testing.T) {
	handler := CORS(nil)(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/generate", nil)
	r.Header.Set("Origin", "https://evil.example")
	handler.ServeHTTP(w, r)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestCORS_AllowsConfiguredOrigin(t *testing.T) {
	handler := CORS([]string{"https://app.example"})(okHandler())

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/budget", nil)
	r.Header.Set("Origin", "https://app.example")
	handler.ServeHTTP(w, r)
	assert.Equal(t, "https://app.example", w.Header().Get("Access-Control-Allow-Origin"))
}
