package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxpipe-server/pkg/config"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func TestLimiterAllowsWithinBurst(t *testing.T) {
	limiter := NewLimiter(quietLogger(), &config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             3,
	})
	defer limiter.Close()

	for i := 0; i < 3; i++ {
		assert.True(t, limiter.Allow("10.0.0.1"), "request %d within burst should pass", i)
	}
	assert.False(t, limiter.Allow("10.0.0.1"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	limiter := NewLimiter(quietLogger(), &config.RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             1,
	})
	defer limiter.Close()

	assert.True(t, limiter.Allow("10.0.0.1"))
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.True(t, limiter.Allow("10.0.0.2"))
}

func TestLimiterRefillsOverTime(t *testing.T) {
	limiter := NewLimiter(quietLogger(), &config.RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             1,
	})
	defer limiter.Close()

	require.True(t, limiter.Allow("10.0.0.1"))
	time.Sleep(30 * time.Millisecond)
	assert.True(t, limiter.Allow("10.0.0.1"))
}

func TestLimiterBlockPenalty(t *testing.T) {
	limiter := NewLimiter(quietLogger(), &config.RateLimitConfig{
		RequestsPerSecond: 100,
		Burst:             1,
		BlockDuration:     time.Minute,
	})
	defer limiter.Close()

	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.1"))

	// Blocked clients stay blocked even after tokens would have refilled
	time.Sleep(30 * time.Millisecond)
	assert.False(t, limiter.Allow("10.0.0.1"))
	assert.Greater(t, limiter.RetryAfter("10.0.0.1"), 50*time.Second)
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	middleware := NewMiddleware(quietLogger(), &config.RateLimitConfig{Enabled: false})
	defer middleware.Close()

	handler := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 20; i++ {
		recorder := httptest.NewRecorder()
		handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/api/voice/jobs/x", nil))
		assert.Equal(t, http.StatusOK, recorder.Code)
	}
}

func TestMiddlewareRejectsWithRetryAfter(t *testing.T) {
	middleware := NewMiddleware(quietLogger(), &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
		BlockDuration:     time.Minute,
	})
	defer middleware.Close()

	handler := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := httptest.NewRequest(http.MethodPost, "/api/voice/submit", nil)
	request.RemoteAddr = "10.0.0.1:40000"

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)

	recorder = httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusTooManyRequests, recorder.Code)
	assert.NotEmpty(t, recorder.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, recorder.Body.String())
}

func TestMiddlewareExemptsHealthEndpoints(t *testing.T) {
	middleware := NewMiddleware(quietLogger(), &config.RateLimitConfig{
		Enabled:           true,
		RequestsPerSecond: 1,
		Burst:             1,
	})
	defer middleware.Close()

	handler := middleware.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 10; i++ {
		recorder := httptest.NewRecorder()
		request := httptest.NewRequest(http.MethodGet, "/health", nil)
		request.RemoteAddr = "10.0.0.1:40000"
		handler.ServeHTTP(recorder, request)
		assert.Equal(t, http.StatusOK, recorder.Code)
	}
}

func TestClientKeyPrefersForwardedHeader(t *testing.T) {
	request := httptest.NewRequest(http.MethodGet, "/", nil)
	request.RemoteAddr = "127.0.0.1:9999"
	request.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientKey(request))

	request.Header.Del("X-Forwarded-For")
	assert.Equal(t, "127.0.0.1", clientKey(request))
}
