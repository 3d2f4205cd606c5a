// Package exporter serves the metrics of a registry over HTTP in the
// Prometheus text exposition format, optionally behind HTTP Basic
// authentication.
//
// Usage:
//
//	exp := exporter.New(registry, exporter.Options{}, logger)
//	engine := exporter.NewRouter(exp, exporter.NewLogHarbourAdapter(logger))
//	engine.Run(":8080")
package exporter

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/promexporter/metrics"
)

const (
	DefaultTelemetryPath = "/metrics"
	DefaultRealm         = "Flownative Prometheus Plugin"

	// NoCollectorsMessage is served when the registry has no collectors.
	NoCollectorsMessage = "# Flownative Prometheus Metrics Exporter: There are no collectors registered at the registry.\n"
	// NoDataMessage is served when no collector has samples.
	NoDataMessage = "# Flownative Prometheus Metrics Exporter: There are currently no metrics with data to export.\n"
)

// BasicAuth is enabled when both Username and Password are set.
type BasicAuth struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Realm    string `json:"realm" yaml:"realm"`
}

func (b BasicAuth) enabled() bool { return b.Username != "" && b.Password != "" }

type Options struct {
	TelemetryPath string    `json:"telemetryPath" yaml:"telemetryPath" validate:"omitempty,startswith=/"`
	BasicAuth     BasicAuth `json:"basicAuth" yaml:"basicAuth"`
}

func (o Options) withDefaults() Options {
	if o.TelemetryPath == "" {
		o.TelemetryPath = DefaultTelemetryPath
	}
	if o.BasicAuth.Realm == "" {
		o.BasicAuth.Realm = DefaultRealm
	}
	return o
}

// Exporter renders the samples of a metrics.Gatherer for scrapes.
type Exporter struct {
	gatherer metrics.Gatherer
	opts     Options
	logger   *logharbour.Logger
}

// New creates an exporter. A nil logger discards log output.
func New(gatherer metrics.Gatherer, opts Options, logger *logharbour.Logger) *Exporter {
	if logger == nil {
		logger = logharbour.NewLogger(logharbour.NewLoggerContext(logharbour.DefaultPriority), "exporter", io.Discard)
	}
	return &Exporter{
		gatherer: gatherer,
		opts:     opts.withDefaults(),
		logger:   logger.WithModule("exporter"),
	}
}

func (e *Exporter) TelemetryPath() string { return e.opts.TelemetryPath }

// Register adds the telemetry path to r. When basic authentication is
// configured the handler is guarded by BasicAuthMiddleware.
func (e *Exporter) Register(r gin.IRoutes) {
	handlers := []gin.HandlerFunc{e.Handler()}
	if e.opts.BasicAuth.enabled() {
		handlers = append([]gin.HandlerFunc{e.BasicAuthMiddleware()}, handlers...)
	}
	r.GET(e.opts.TelemetryPath, handlers...)
}

// Body returns the response body for a scrape.
func (e *Exporter) Body() (string, error) {
	if !e.gatherer.HasCollectors() {
		return NoCollectorsMessage, nil
	}
	collections, err := e.gatherer.Collect()
	if err != nil {
		return "", err
	}
	output := metrics.Render(collections)
	if output == "" {
		return NoDataMessage, nil
	}
	return output, nil
}

// Handler serves the rendered metrics. A failing storage results in a 500
// response without a body.
func (e *Exporter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := e.Body()
		if err != nil {
			e.logger.WithOp("scrape").Error(err).LogActivity("Failed collecting metrics for scrape", map[string]any{
				"scrape_id": c.GetString(CtxKeyScrapeID),
			})
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Data(http.StatusOK, metrics.ContentType, []byte(body))
	}
}

// NewRouter returns a gin engine serving the exporter with request logging
// and panic recovery. A nil requestLogger disables request logging.
func NewRouter(e *Exporter, requestLogger RequestLogger) *gin.Engine {
	r := gin.New()
	if requestLogger != nil {
		r.Use(LogRequest(requestLogger))
	}
	r.Use(gin.Recovery())
	e.Register(r)
	return r
}
