package http

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voxpipe-server/pkg/config"
	"voxpipe-server/pkg/metrics"
)

func newTestServer(t *testing.T, cfg *config.HTTPConfig) *Server {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	metrics.Init(logger)
	return NewServer(logger, cfg, nil, nil, nil)
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	server := newTestServer(t, &config.HTTPConfig{Port: 8080, EnableMetrics: true})

	rec := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "voxpipe_jobs_created_total")
}

func TestHealthEndpointsRespond(t *testing.T) {
	server := newTestServer(t, &config.HTTPConfig{Port: 8080})

	for _, path := range []string{"/health", "/health/live", "/status"} {
		rec := httptest.NewRecorder()
		server.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("Server"), path)
	}
}
