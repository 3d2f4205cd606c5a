package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/remiges-tech/promexporter/config"
	"github.com/remiges-tech/promexporter/exporter"
	"github.com/remiges-tech/promexporter/metrics"
	"github.com/remiges-tech/promexporter/metrics/pgstore"
	"github.com/remiges-tech/promexporter/metrics/redisstore"
)

// EnableEnv switches the exporter on or off regardless of the configuration file.
const EnableEnv = "FLOWNATIVE_PROMETHEUS_ENABLE"

const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"

	defaultListen          = ":8080"
	defaultPrometheusPath  = "/prometheus"
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig is the configuration file of the exporter server.
//
//	listen: ":8080"
//	storage:
//	  backend: redis
//	  redis:
//	    hostname: redis.local
//	exporter:
//	  telemetryPath: /metrics
//	  basicAuth:
//	    username: prometheus
//	    password: secret
//	metrics:
//	  http_requests_total:
//	    type: counter
//	    help: The total number of HTTP requests.
//	    labels: [method, code]
type ServerConfig struct {
	Listen          string                              `json:"listen" yaml:"listen" validate:"required"`
	Enabled         *bool                               `json:"enabled" yaml:"enabled"`
	Debug           bool                                `json:"debug" yaml:"debug"`
	PrometheusPath  string                              `json:"prometheusPath" yaml:"prometheusPath" validate:"omitempty,startswith=/"`
	ShutdownTimeout time.Duration                       `json:"shutdownTimeout" yaml:"shutdownTimeout"`
	Storage         StorageConfig                       `json:"storage" yaml:"storage"`
	Exporter        exporter.Options                    `json:"exporter" yaml:"exporter"`
	Metrics         map[string]metrics.MetricDefinition `json:"metrics" yaml:"metrics"`
}

// StorageConfig selects the storage backend. The Redis options are checked by
// redisstore only when the redis backend is selected.
type StorageConfig struct {
	Backend  string             `json:"backend" yaml:"backend" validate:"oneof=memory redis postgres"`
	Redis    redisstore.Options `json:"redis" yaml:"redis" validate:"-"`
	Postgres PostgresConfig     `json:"postgres" yaml:"postgres"`
}

type PostgresConfig struct {
	DSN     string          `json:"dsn" yaml:"dsn"`
	Options pgstore.Options `json:"options" yaml:"options"`
}

func (c *ServerConfig) applyDefaults() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.PrometheusPath == "" {
		c.PrometheusPath = defaultPrometheusPath
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaultShutdownTimeout
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Enabled == nil {
		enabled := true
		c.Enabled = &enabled
	}
}

// applyEnv lets EnableEnv override the enabled setting of the file.
func (c *ServerConfig) applyEnv(lookup func(string) (string, bool)) error {
	value, ok := lookup(EnableEnv)
	if !ok || value == "" {
		return nil
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value %q for %s: %w", value, EnableEnv, err)
	}
	c.Enabled = &enabled
	return nil
}

func (c *ServerConfig) validate() error {
	if err := config.Validate(c); err != nil {
		return err
	}
	if c.Storage.Backend == BackendPostgres && c.Storage.Postgres.DSN == "" {
		return &config.ValidationError{Fields: []string{"ServerConfig.Storage.Postgres.DSN (required)"}}
	}
	if c.Storage.Backend == BackendRedis {
		if err := c.Storage.Redis.Validate(); err != nil {
			return err
		}
	}
	for name, def := range c.Metrics {
		if !metrics.ValidMetricName(name) {
			return &metrics.ConfigurationError{Field: "name", Value: name, Reason: "invalid metric name"}
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("metric %s: %w", name, err)
		}
	}
	return nil
}

// loadConfig reads the configuration file at path. An empty path yields the
// defaults.
func loadConfig(path string) (*ServerConfig, error) {
	c := &ServerConfig{}
	if path != "" {
		file, err := config.NewFile(path)
		if err != nil {
			return nil, err
		}
		if err := config.Load(file, c); err != nil {
			return nil, err
		}
	}
	c.applyDefaults()
	if err := c.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}
