package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/remiges-tech/logharbour/logharbour"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiges-tech/promexporter/config"
	"github.com/remiges-tech/promexporter/metrics"
	"github.com/remiges-tech/promexporter/metrics/memstore"
)

const testConfig = `listen: ":9100"
storage:
  backend: memory
metrics:
  http_requests_total:
    type: counter
    help: The total number of HTTP requests.
    labels: [method]
  temperature:
    type: gauge
`

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logharbour.Logger {
	return logharbour.NewLogger(logharbour.NewLoggerContext(logharbour.DefaultPriority), "test", io.Discard)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv(EnableEnv, "")

	c, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultListen, c.Listen)
	assert.Equal(t, defaultPrometheusPath, c.PrometheusPath)
	assert.Equal(t, defaultShutdownTimeout, c.ShutdownTimeout)
	assert.Equal(t, BackendMemory, c.Storage.Backend)
	assert.True(t, *c.Enabled)
	assert.Empty(t, c.Metrics)
}

func TestLoadConfigFile(t *testing.T) {
	t.Setenv(EnableEnv, "")

	c, err := loadConfig(writeConfig(t, testConfig+"shutdownTimeout: 3s\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9100", c.Listen)
	assert.Equal(t, 3*time.Second, c.ShutdownTimeout)
	require.Len(t, c.Metrics, 2)
	assert.Equal(t, metrics.MetricDefinition{
		Type:   "counter",
		Help:   "The total number of HTTP requests.",
		Labels: []string{"method"},
	}, c.Metrics["http_requests_total"])
}

func TestLoadConfigRejectsInvalidFiles(t *testing.T) {
	t.Setenv(EnableEnv, "")

	tests := []struct {
		name    string
		content string
	}{
		{name: "unknown backend", content: "storage:\n  backend: sqlite\n"},
		{name: "postgres without dsn", content: "storage:\n  backend: postgres\n"},
		{name: "invalid redis port", content: "storage:\n  backend: redis\n  redis:\n    port: 70000\n"},
		{name: "invalid telemetry path", content: "exporter:\n  telemetryPath: metrics\n"},
		{name: "invalid metric name", content: "metrics:\n  1st_metric:\n    type: counter\n"},
		{name: "invalid metric type", content: "metrics:\n  a_metric:\n    type: histogram\n"},
		{name: "invalid label", content: "metrics:\n  a_metric:\n    type: gauge\n    labels: [__reserved]\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadConfig(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}
}

func TestEnableEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "enabled: true\n")

	t.Setenv(EnableEnv, "false")
	c, err := loadConfig(path)
	require.NoError(t, err)
	assert.False(t, *c.Enabled)

	t.Setenv(EnableEnv, "1")
	c, err = loadConfig(writeConfig(t, "enabled: false\n"))
	require.NoError(t, err)
	assert.True(t, *c.Enabled)

	t.Setenv(EnableEnv, "maybe")
	_, err = loadConfig(path)
	assert.Error(t, err)
}

func newTestRegistry(t *testing.T, c *ServerConfig) *metrics.CollectorRegistry {
	t.Helper()
	registry := metrics.NewCollectorRegistry(memstore.New(), nil)
	require.NoError(t, registry.RegisterMany(c.Metrics))
	return registry
}

func TestRouterServesBothEndpoints(t *testing.T) {
	t.Setenv(EnableEnv, "")
	c, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	registry := newTestRegistry(t, c)
	require.NoError(t, registry.Record("http_requests_total", 2, metrics.Labels{"method": "get"}))
	r := newRouter(c, registry, testLogger())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="get"} 2`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/prometheus", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `http_requests_total{method="get"} 2`)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestHelpStatesEnabledByDefault(t *testing.T) {
	assert.Contains(t, rootCmd.Long, "enabled by default")
	assert.Contains(t, rootCmd.Long, EnableEnv+"=false")
}

func TestRouterAfterMetricTypeChange(t *testing.T) {
	t.Setenv(EnableEnv, "")
	c, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	registry := newTestRegistry(t, c)
	require.NoError(t, registry.Record("http_requests_total", 2, metrics.Labels{"method": "get"}))
	_, err = registry.Register("http_requests_total", "gauge", "", []string{"method"})
	require.NoError(t, err)
	require.NoError(t, registry.Record("http_requests_total", 7, metrics.Labels{"method": "get"}))
	r := newRouter(c, registry, testLogger())

	for _, path := range []string{"/metrics", "/prometheus"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
		assert.Contains(t, w.Body.String(), `http_requests_total{method="get"} 7`, path)
		assert.NotContains(t, w.Body.String(), "http_requests_total counter", path)
	}
}

func TestRouterWhenDisabled(t *testing.T) {
	t.Setenv(EnableEnv, "false")
	c, err := loadConfig(writeConfig(t, testConfig))
	require.NoError(t, err)

	r := newRouter(c, newTestRegistry(t, c), testLogger())
	for _, path := range []string{"/metrics", "/prometheus"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

func TestReloadMetrics(t *testing.T) {
	t.Setenv(EnableEnv, "")
	path := writeConfig(t, testConfig)
	c, err := loadConfig(path)
	require.NoError(t, err)
	registry := newTestRegistry(t, c)
	require.NoError(t, registry.Record("temperature", 21, nil))

	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  http_requests_total:\n    type: counter\n  queue_length:\n    type: gauge\n"), 0o600))
	reloadMetrics(path, registry, testLogger())
	assert.Equal(t, []string{"http_requests_total", "queue_length"}, registry.Names())

	// An invalid file keeps the current definitions.
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  broken:\n    type: summary\n"), 0o600))
	reloadMetrics(path, registry, testLogger())
	assert.Equal(t, []string{"http_requests_total", "queue_length"}, registry.Names())
}

func TestWatchMetricsReloadsOnChange(t *testing.T) {
	t.Setenv(EnableEnv, "")
	path := writeConfig(t, testConfig)
	c, err := loadConfig(path)
	require.NoError(t, err)
	registry := newTestRegistry(t, c)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchMetrics(ctx, path, registry, testLogger()) }()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("metrics:\n  queue_length:\n    type: gauge\n"), 0o600))

	assert.Eventually(t, func() bool {
		names := registry.Names()
		return len(names) == 1 && names[0] == "queue_length"
	}, 5*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestNewStorage(t *testing.T) {
	storage, closeStorage, err := newStorage(context.Background(), StorageConfig{Backend: BackendMemory}, testLogger())
	require.NoError(t, err)
	defer closeStorage()
	assert.IsType(t, &memstore.Storage{}, storage)

	_, _, err = newStorage(context.Background(), StorageConfig{Backend: "sqlite"}, testLogger())
	assert.Error(t, err)
}

func TestValidationErrorNamesFields(t *testing.T) {
	t.Setenv(EnableEnv, "")
	_, err := loadConfig(writeConfig(t, "storage:\n  backend: postgres\n"))
	var verr *config.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"ServerConfig.Storage.Postgres.DSN (required)"}, verr.Fields)
}
