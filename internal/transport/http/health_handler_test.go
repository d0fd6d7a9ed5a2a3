package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func newHealthServer(t *testing.T, ping pingFunc) *httptest.Server {
	t.Helper()
	h := NewHealthHandler(ping, "1.0.0", "2026-09-01T00:00:00Z")
	r := chi.NewRouter()
	r.Get("/api/health", h.Liveness)
	r.Get("/api/health/ready", h.Readiness)
	r.Get("/api/version", h.Version)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func TestLiveness(t *testing.T) {
	srv := newHealthServer(t, func(ctx context.Context) error { return errors.New("db down") })

	// Liveness ignores the store entirely.
	resp, err := http.Get(srv.URL + "/api/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestReadiness(t *testing.T) {
	srv := newHealthServer(t, func(ctx context.Context) error { return nil })

	resp, err := http.Get(srv.URL + "/api/health/ready")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ready", body["status"])
}

func TestReadinessStoreDown(t *testing.T) {
	srv := newHealthServer(t, func(ctx context.Context) error { return errors.New("db down") })

	resp, err := http.Get(srv.URL + "/api/health/ready")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestVersionEndpoint(t *testing.T) {
	srv := newHealthServer(t, func(ctx context.Context) error { return nil })

	resp, err := http.Get(srv.URL + "/api/version")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "1.0.0", body["version"])
	assert.Equal(t, "2026-09-01T00:00:00Z", body["build_time"])
}
