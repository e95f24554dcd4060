package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/easyash/trustedby/internal/config"
	"github.com/easyash/trustedby/internal/types"
)

type fakeAuthenticator struct {
	actor types.Actor
	err   error
	seen  []string
}

func (f *fakeAuthenticator) Verify(_ context.Context, token string) (types.Actor, error) {
	f.seen = append(f.seen, token)
	if f.err != nil {
		return types.Actor{}, f.err
	}
	return f.actor, nil
}

type fakeRateLimitStore struct {
	result types.RateLimitResult
	err    error
	keys   []string
	limits []int
}

func (f *fakeRateLimitStore) IncrementAndCheck(_ context.Context, key string, limit int, _ time.Duration) (types.RateLimitResult, error) {
	f.keys = append(f.keys, key)
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return types.RateLimitResult{}, f.err
	}
	return f.result, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.RequestTimeout = 30 * time.Second
	cfg.Security.CorsAllowedOrigins = []string{"*"}
	cfg.Security.RateLimitPerMinute = 120
	cfg.Security.WebhookRateLimitPerMinute = 600

	srv, err := NewServer(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return srv
}

func okHandler(t *testing.T) (http.Handler, *bool) {
	t.Helper()
	called := false
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}), &called
}

func TestIsPublicPath(t *testing.T) {
	assert.True(t, isPublicPath("/health"))
	assert.True(t, isPublicPath("/v1/analytics/track"))
	assert.True(t, isPublicPath("/v1/webhooks/razorpay"))
	assert.True(t, isPublicPath("/v1/webhooks/dodo"))
	assert.False(t, isPublicPath("/v1/billing/subscription"))
	assert.False(t, isPublicPath("/v1/analytics"))
}

func TestAuthMiddlewarePublicPathBypassesVerify(t *testing.T) {
	srv := newTestServer(t)
	auth := &fakeAuthenticator{}
	srv.Authenticator = auth

	next, called := okHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/webhooks/razorpay", nil)

	srv.AuthMiddleware(next).ServeHTTP(w, r)

	assert.True(t, *called)
	assert.Empty(t, auth.seen)
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	srv := newTestServer(t)
	srv.Authenticator = &fakeAuthenticator{}

	next, called := okHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)

	srv.AuthMiddleware(next).ServeHTTP(w, r)

	assert.False(t, *called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "auth_unauthorized")
}

func TestAuthMiddlewareVerifyFailure(t *testing.T) {
	srv := newTestServer(t)
	srv.Authenticator = &fakeAuthenticator{
		err: types.NewAppError(types.ErrCodeAuthUnauthorized, "invalid API token", nil),
	}

	next, called := okHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	r.Header.Set("Authorization", "Bearer tb_bad.token")

	srv.AuthMiddleware(next).ServeHTTP(w, r)

	assert.False(t, *called)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAuthMiddlewareInjectsActor(t *testing.T) {
	srv := newTestServer(t)
	auth := &fakeAuthenticator{
		actor: types.Actor{ID: "tok_1", CustomerID: "cus_1", Source: types.ActorSourceAPIToken},
	}
	srv.Authenticator = auth

	var got *types.Actor
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = types.GetActor(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	r.Header.Set("Authorization", "Bearer tb_abc.secret")

	srv.AuthMiddleware(next).ServeHTTP(w, r)

	require.NotNil(t, got)
	assert.Equal(t, "cus_1", got.CustomerID)
	assert.Equal(t, []string{"tb_abc.secret"}, auth.seen)
}

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"Bearer tb_abc.secret", "tb_abc.secret"},
		{"bearer tb_abc.secret", "tb_abc.secret"},
		{"BEARER tb_abc.secret", "tb_abc.secret"},
		{"Basic dXNlcjpwYXNz", ""},
		{"Bearer", ""},
		{"", ""},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractBearerToken(tc.header), tc.header)
	}
}

func TestRequireActor(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)

	_, ok := RequireActor(w, r)
	assert.False(t, ok)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r = r.WithContext(types.WithActor(r.Context(), &types.Actor{ID: "tok_1", CustomerID: "cus_1"}))

	actor, ok := RequireActor(w, r)
	require.True(t, ok)
	assert.Equal(t, "cus_1", actor.CustomerID)
}

func TestRateLimitAllowed(t *testing.T) {
	srv := newTestServer(t)
	store := &fakeRateLimitStore{
		result: types.RateLimitResult{Allowed: true, Remaining: 100, ResetAt: time.Now().Add(time.Minute)},
	}
	srv.RateLimitStore = store

	next, called := okHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	r = r.WithContext(types.WithActor(r.Context(), &types.Actor{ID: "tok_1", CustomerID: "cus_1"}))

	srv.RateLimit(next).ServeHTTP(w, r)

	assert.True(t, *called)
	assert.Equal(t, []string{"cus:cus_1"}, store.keys)
	assert.Equal(t, []int{120}, store.limits)
	assert.Equal(t, "120", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Remaining"))
}

func TestRateLimitBlocked(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &fakeRateLimitStore{
		result: types.RateLimitResult{Allowed: false, Remaining: 0, ResetAt: time.Now().Add(30 * time.Second)},
	}

	next, called := okHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	r = r.WithContext(types.WithActor(r.Context(), &types.Actor{ID: "tok_1", CustomerID: "cus_1"}))

	srv.RateLimit(next).ServeHTTP(w, r)

	assert.False(t, *called)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), "rate_limited")
}

func TestRateLimitFailsOpenOnStoreError(t *testing.T) {
	srv := newTestServer(t)
	srv.RateLimitStore = &fakeRateLimitStore{err: errors.New("redis: connection refused")}

	next, called := okHandler(t)
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	r = r.WithContext(types.WithActor(r.Context(), &types.Actor{ID: "tok_1", CustomerID: "cus_1"}))

	srv.RateLimit(next).ServeHTTP(w, r)

	assert.True(t, *called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitKeySelection(t *testing.T) {
	srv := newTestServer(t)

	webhook := httptest.NewRequest(http.MethodPost, "/v1/webhooks/razorpay", nil)
	webhook.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	key, limit := srv.rateLimitKey(webhook)
	assert.Equal(t, "ip:203.0.113.7", key)
	assert.Equal(t, 600, limit)

	track := httptest.NewRequest(http.MethodPost, "/v1/analytics/track", nil)
	track.RemoteAddr = "198.51.100.4:51234"
	key, limit = srv.rateLimitKey(track)
	assert.Equal(t, "ip:198.51.100.4", key)
	assert.Equal(t, 120, limit)

	anon := httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	key, _ = srv.rateLimitKey(anon)
	assert.Empty(t, key)
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = types.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	RequestIDMiddleware(next).ServeHTTP(w, r)

	assert.NotEmpty(t, got)
	assert.Equal(t, got, w.Header().Get("X-Request-Id"))

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/health", nil)
	r.Header.Set("X-Request-Id", "upstream-id")
	RequestIDMiddleware(next).ServeHTTP(w, r)

	assert.Equal(t, "upstream-id", got)
	assert.Equal(t, "upstream-id", w.Header().Get("X-Request-Id"))
}

func TestSecurityHeadersMiddleware(t *testing.T) {
	srv := newTestServer(t)
	next, _ := okHandler(t)

	w := httptest.NewRecorder()
	srv.SecurityHeadersMiddleware(next).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}

func TestCORSMiddlewarePreflight(t *testing.T) {
	mw := NewCORSMiddleware([]string{"https://app.trustedby.dev"})
	next, called := okHandler(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodOptions, "/v1/access", nil)
	r.Header.Set("Origin", "https://app.trustedby.dev")
	mw(next).ServeHTTP(w, r)

	assert.False(t, *called)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://app.trustedby.dev", w.Header().Get("Access-Control-Allow-Origin"))

	w = httptest.NewRecorder()
	r = httptest.NewRequest(http.MethodGet, "/v1/access", nil)
	r.Header.Set("Origin", "https://evil.example")
	mw(next).ServeHTTP(w, r)

	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
	assert.True(t, *called)
}

func TestRecovererConvertsPanicTo500(t *testing.T) {
	srv := newTestServer(t)
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/access", nil)

	require.NotPanics(t, func() {
		srv.Recoverer(next).ServeHTTP(w, r)
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_error")
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	srv := newTestServer(t)

	type call struct {
		method, endpoint, status string
	}
	var calls []call
	srv.Metrics = metricsFunc(func(method, endpoint, status string, _ time.Duration) {
		calls = append(calls, call{method, endpoint, status})
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	w := httptest.NewRecorder()
	srv.MetricsMiddleware(next).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/billing/subscription", nil))

	require.Len(t, calls, 1)
	assert.Equal(t, call{"POST", "/v1/billing/subscription", "201"}, calls[0])
}

type metricsFunc func(method, endpoint, status string, duration time.Duration)

func (f metricsFunc) RecordRequest(method, endpoint, status string, duration time.Duration) {
	f(method, endpoint, status, duration)
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	w := httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	srv.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "database", Fn: func(context.Context) error { return nil }},
		ProbeFunc{ProbeName: "redis", Fn: func(context.Context) error { return errors.New("dial tcp: refused") }},
	}

	w = httptest.NewRecorder()
	srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"database":{"status":"healthy"}`)
	assert.Contains(t, w.Body.String(), "unhealthy")
}

func TestHandleHealthRecoversProbePanic(t *testing.T) {
	srv := newTestServer(t)
	srv.HealthProbes = []HealthProbe{
		ProbeFunc{ProbeName: "flaky", Fn: func(context.Context) error { panic("probe bug") }},
	}

	w := httptest.NewRecorder()
	require.NotPanics(t, func() {
		srv.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
