package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/orderdesk/internal/config"
)

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	mr := miniredis.RunT(t)
	return &config.Config{
		Environment:       "test",
		LogLevel:          "error",
		HTTPPort:          8090,
		ShutdownTimeout:   2 * time.Second,
		CORSOrigins:       []string{"*"},
		BackendURL:        backendURL,
		BackendTimeout:    2 * time.Second,
		BackendMaxRetries: 0,
		ProductsPath:      "/products",
		OrdersPath:        "/orders",
		RedisAddr:         mr.Addr(),
		CartKeyPrefix:     "orderItem-",
		SubmitCooldown:    time.Second,
	}
}

func TestNewApp_WiresReadiness(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, "[]")
	}))
	defer api.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewApp(testConfig(t, api.URL), logger)
	require.NoError(t, err)
	defer func() { _ = a.Shutdown() }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"redis"`)
	assert.NotContains(t, rec.Body.String(), `"kafka"`)
}

func TestNewApp_BackendDownFailsReadiness(t *testing.T) {
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer api.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := NewApp(testConfig(t, api.URL), logger)
	require.NoError(t, err)
	defer func() { _ = a.Shutdown() }()

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewApp_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.RedisAddr = "127.0.0.1:1"

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewApp(cfg, logger)
	assert.Error(t, err)
}
