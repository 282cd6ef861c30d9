package observability

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostuk/visibility/internal/config"
	"github.com/hostuk/visibility/internal/testsupport"
)

func testConfig() *config.ObservabilityConfig {
	return &config.ObservabilityConfig{
		Port:          "0",
		Timeout:       time.Second,
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
		MetricsPath:   "/metrics",
	}
}

func up(name string) Checker {
	return CheckerFunc{ComponentName: name, Fn: func(context.Context) error { return nil }}
}

func down(name string, err error) Checker {
	return CheckerFunc{ComponentName: name, Fn: func(context.Context) error { return err }}
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.DiscardHandler)

	t.Run("Should answer liveness without consulting checkers", func(t *testing.T) {
		t.Parallel()

		srv := NewServer(logger, testConfig(), down("postgres", errors.New("boom")))
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", rec.Body.String())
	})

	tests := []struct {
		name       string
		checkers   []Checker
		wantStatus int
		wantReady  bool
		wantComps  map[string]string
	}{
		{
			name:       "Should be ready with no dependencies",
			wantStatus: http.StatusOK,
			wantReady:  true,
			wantComps:  map[string]string{},
		},
		{
			name:       "Should be ready when every dependency is up",
			checkers:   []Checker{up("postgres"), up("redis")},
			wantStatus: http.StatusOK,
			wantReady:  true,
			wantComps:  map[string]string{"postgres": "up", "redis": "up"},
		},
		{
			name:       "Should be unavailable when one dependency is down",
			checkers:   []Checker{up("postgres"), down("redis", errors.New("connection refused"))},
			wantStatus: http.StatusServiceUnavailable,
			wantReady:  false,
			wantComps:  map[string]string{"postgres": "up", "redis": "down: connection refused"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			// Arrange
			srv := NewServer(logger, testConfig(), tt.checkers...)
			rec := httptest.NewRecorder()

			// Act
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			// Assert
			require.Equal(t, tt.wantStatus, rec.Code)
			var body ReadinessResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantReady, body.Ready)
			assert.Equal(t, tt.wantComps, body.Components)
		})
	}

	t.Run("Should give checkers a deadline", func(t *testing.T) {
		t.Parallel()

		cfg := testConfig()
		cfg.Timeout = 20 * time.Millisecond
		slow := CheckerFunc{ComponentName: "slow", Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}
		srv := NewServer(logger, cfg, slow)
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "deadline exceeded")
	})

	t.Run("Should expose prometheus metrics", func(t *testing.T) {
		t.Parallel()

		srv := NewServer(logger, testConfig())
		rec := httptest.NewRecorder()

		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

		require.Equal(t, http.StatusOK, rec.Code)
		body, err := io.ReadAll(rec.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "go_goroutines")
	})

	t.Run("Should tolerate shutdown before start", func(t *testing.T) {
		t.Parallel()

		srv := NewServer(logger, testConfig())
		assert.NoError(t, srv.Shutdown(context.Background()))
	})
}

func TestHTTPMetrics(t *testing.T) {
	// Not parallel: asserts deltas on the global registry.

	r := chi.NewRouter()
	r.Use(HTTPMetrics(ControlPlaneReqDuration, ControlPlaneReqTotal))
	r.Get("/api/v1/pages/{pageID}/targeting", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	t.Run("Should label by route pattern, not raw path", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": "/api/v1/pages/{pageID}/targeting", "code": "418"}

		testsupport.AssertMetricDelta(t, "visibility_control_plane_http_requests_total", labels, 2, func() {
			for _, id := range []string{"1", "2"} {
				rec := httptest.NewRecorder()
				r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/pages/"+id+"/targeting", nil))
			}
		})
	})

	t.Run("Should collapse unmatched routes", func(t *testing.T) {
		labels := map[string]string{"method": "GET", "route": unmatchedRoute, "code": "404"}

		testsupport.AssertMetricDelta(t, "visibility_control_plane_http_requests_total", labels, 1, func() {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
		})
	})
}
