package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"mymove-wizard/internal/shared/config"
	"mymove-wizard/internal/shared/telemetry"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	telemetry.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func testConfig() config.Config {
	return config.Config{
		Env:             "dev",
		CORSAllowOrigin: []string{"http://localhost:5173"},
		RateLimitRPS:    100,
		RateLimitBurst:  100,
	}
}

func TestHealthAndMetrics(t *testing.T) {
	r := NewRouter(RouterDeps{Config: testConfig()})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("health expected 200, got %d", resp.Code)
	}
	if resp.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header")
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("metrics expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "# TYPE") {
		t.Fatalf("expected prometheus text, got %q", resp.Body.String())
	}
}

func TestReadyReportsStoreFailure(t *testing.T) {
	r := NewRouter(RouterDeps{
		Config: testConfig(),
		Ready: func(context.Context) error {
			return errors.New("ping database: connection refused")
		},
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/api/v1/ready", nil))
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

func TestAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"}
	for in, want := range cases {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}
