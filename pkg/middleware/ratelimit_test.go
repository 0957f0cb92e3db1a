package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/contextkeys"
	"github.com/platinummonkey/tenantgate/pkg/observability"
)

func TestRateLimiter_Allow(t *testing.T) {
	config := &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Second,
		BurstSize:         2,
	}
	limiter := NewRateLimiter(config)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }

	ctx := context.Background()
	allowedCount := 0
	for i := 0; i < config.RequestsPerWindow+config.BurstSize+5; i++ {
		if ok, _ := limiter.Allow(ctx, "k"); ok {
			allowedCount++
		}
	}

	expected := config.RequestsPerWindow + config.BurstSize
	if allowedCount != expected {
		t.Errorf("Allowed %d requests, want %d", allowedCount, expected)
	}

	now = now.Add(200 * time.Millisecond)
	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Error("Should allow request after partial refill")
	}
	if ok, _ := limiter.Allow(ctx, "k"); !ok {
		t.Error("Should allow second request after partial refill")
	}
	if ok, _ := limiter.Allow(ctx, "k"); ok {
		t.Error("Refill must not exceed elapsed rate")
	}
}

func TestRateLimiter_Remaining(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 5, WindowDuration: time.Minute})

	if got := limiter.Remaining("k"); got != 5 {
		t.Errorf("Initial remaining = %d, want 5", got)
	}
	_, _ = limiter.Allow(context.Background(), "k")
	if got := limiter.Remaining("k"); got != 4 {
		t.Errorf("Remaining = %d, want 4", got)
	}
}

func TestRateLimiter_BoundedKeys(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute, MaxKeys: 3})
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_, _ = limiter.Allow(context.Background(), k)
	}
	if got := limiter.Len(); got != 3 {
		t.Errorf("Len = %d, want 3", got)
	}
}

func TestRateLimiter_Concurrency(t *testing.T) {
	limiter := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 50, WindowDuration: time.Hour})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := limiter.Allow(context.Background(), "shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestDistributedRateLimiter(t *testing.T) {
	mr, client := newRedis(t)
	limiter := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute}, "test")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := limiter.Allow(ctx, "ip:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := limiter.Remaining(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Zero(t, remaining)

	ttl := mr.TTL("test:ip:1.2.3.4")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "ttl = %v", ttl)

	// The window does not slide with each request.
	mr.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, limiter.Reset(ctx, "ip:1.2.3.4"))
	remaining, err = limiter.Remaining(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.Equal(t, 3, remaining)
}

func TestDistributedRateLimiter_RedisDown(t *testing.T) {
	mr, client := newRedis(t)
	limiter := NewDistributedRateLimiter(client, nil, "")
	mr.Close()

	ok, err := limiter.Allow(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimit_Handler(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	local := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute})
	h := NewRateLimit("setup", local, time.Minute, WithRateLimitMetrics(metrics, nil)).Handler(okHandler())

	send := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:1111").Code)
	assert.Equal(t, http.StatusNoContent, send("10.0.0.1:2222").Code)

	rec := send("10.0.0.1:3333")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "rate_limited", body["error"])

	assert.Equal(t, http.StatusNoContent, send("10.0.0.2:1111").Code, "other IPs are independent")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RateLimitRejectionsTotal.WithLabelValues("setup")))
}

func TestRateLimit_KeysByPrincipal(t *testing.T) {
	local := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
	h := NewRateLimit("redeem", local, time.Minute).Handler(okHandler())

	send := func(userID string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/invitations/x/redeem", nil)
		req = req.WithContext(auth.WithPrincipal(req.Context(), &auth.Principal{ID: userID}))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, send("u1"))
	assert.Equal(t, http.StatusTooManyRequests, send("u1"))
	assert.Equal(t, http.StatusNoContent, send("u2"))
}

func TestRateLimit_RedisFailure(t *testing.T) {
	mr, client := newRedis(t)
	distributed := NewDistributedRateLimiter(client, nil, "")
	mr.Close()

	t.Run("fails closed without fallback", func(t *testing.T) {
		h := NewRateLimit("setup", distributed, time.Minute).Handler(okHandler())
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("uses local fallback", func(t *testing.T) {
		local := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute})
		h := NewRateLimit("setup", distributed, time.Minute, WithFallback(local)).Handler(okHandler())

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)

		rec = httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/setup", nil))
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	})
}

func TestRequestIDMiddlewareBasic(t *testing.T) {
	var seen string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = contextkeys.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, seen)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", seen)
}

func TestLoggingMiddlewareForbidden(t *testing.T) {
	var buf bytes.Buffer
	logger := observability.NewLogger(observability.InfoLevel, &buf)

	h := RequestIDMiddleware(LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})))

	req := httptest.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	h.ServeHTTP(httptest.NewRecorder(), req)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed", entry["message"])
	assert.Equal(t, "/admin", entry["path"])
	assert.EqualValues(t, http.StatusForbidden, entry["status"])
	assert.Equal(t, "req-1", entry["request_id"])
}
