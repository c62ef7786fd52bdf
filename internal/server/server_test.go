package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rubenvitt/r-gone-sub007/pkg/config"
	"github.com/rubenvitt/r-gone-sub007/pkg/logger"
)

type failingHealth struct{ err error }

func (f failingHealth) Health() error { return f.err }

// One server per test binary: the Prometheus collectors register globally.
func TestHealthEndpointReflectsDependencyState(t *testing.T) {
	srv := NewServer(nil, nil, nil, nil, nil,
		config.ServerConfig{},
		config.MonitoringConfig{HealthPath: "/health"},
		logger.New("error"))

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		srv.Router().ServeHTTP(rec, req)
		return rec
	}

	// Without a checker the endpoint reports healthy
	rec := get()
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	// A failing dependency turns the endpoint degraded
	srv.WithHealthCheck(failingHealth{err: errors.New("connection refused")})
	rec = get()
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "degraded", body["status"])
	assert.Contains(t, body["error"], "connection refused")

	// And a passing one restores it
	srv.WithHealthCheck(failingHealth{})
	rec = get()
	assert.Equal(t, http.StatusOK, rec.Code)
}
