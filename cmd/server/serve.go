package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/remiges-tech/logharbour/logharbour"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/remiges-tech/promexporter/config"
	"github.com/remiges-tech/promexporter/exporter"
	"github.com/remiges-tech/promexporter/metrics"
)

func newLogger(c *ServerConfig) *logharbour.Logger {
	priority := logharbour.DefaultPriority
	if c.Debug {
		priority = logharbour.Debug2
	}
	return logharbour.NewLogger(logharbour.NewLoggerContext(priority), "promexporter", os.Stdout)
}

func runServe(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	logger := newLogger(c)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, closeStorage, err := newStorage(ctx, c.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	registry := metrics.NewCollectorRegistry(storage, logger)
	if err := registry.RegisterMany(c.Metrics); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:    c.Listen,
		Handler: newRouter(c, registry, logger),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithModule("server").Info().LogActivity("Starting metrics exporter", map[string]any{
			"listen":  c.Listen,
			"storage": c.Storage.Backend,
			"enabled": *c.Enabled,
			"metrics": len(c.Metrics),
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		logger.WithModule("server").Info().LogActivity("Shutting down metrics exporter", nil)
		return srv.Shutdown(shutdownCtx)
	})
	if cfgFile != "" {
		g.Go(func() error {
			return watchMetrics(ctx, cfgFile, registry, logger)
		})
	}
	return g.Wait()
}

// newRouter serves the registry on the telemetry path and, through the
// client_golang registry, together with the Go runtime and process metrics on
// the prometheus path. Nothing is served when the exporter is disabled.
func newRouter(c *ServerConfig, registry *metrics.CollectorRegistry, logger *logharbour.Logger) *gin.Engine {
	exp := exporter.New(registry, c.Exporter, logger)
	r := gin.New()
	r.Use(exporter.LogRequest(exporter.NewLogHarbourAdapter(logger)), gin.Recovery())

	if !*c.Enabled {
		logger.WithModule("server").Warn().LogActivity("Metrics exporter disabled, telemetry endpoint not served", map[string]any{
			"env": EnableEnv,
		})
		return r
	}
	exp.Register(r)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		metrics.NewPrometheusCollector(registry),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	r.GET(c.PrometheusPath, gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	return r
}

// watchMetrics registers the metric definitions again whenever they change in
// the configuration file. Metrics removed from the file are unregistered,
// their stored values are kept.
func watchMetrics(ctx context.Context, path string, registry *metrics.CollectorRegistry, logger *logharbour.Logger) error {
	file, err := config.NewFile(path)
	if err != nil {
		return err
	}

	events := make(chan config.Event)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return file.Watch(ctx, "metrics", events)
	})
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-events:
				reloadMetrics(path, registry, logger)
			}
		}
	})
	return g.Wait()
}

func reloadMetrics(path string, registry *metrics.CollectorRegistry, logger *logharbour.Logger) {
	l := logger.WithModule("server").WithOp("reload")

	c, err := loadConfig(path)
	if err != nil {
		l.Error(err).LogActivity("Failed reloading metric definitions, keeping the current ones", nil)
		return
	}

	for _, name := range registry.Names() {
		if _, ok := c.Metrics[name]; !ok {
			registry.Unregister(name)
		}
	}
	if err := registry.RegisterMany(c.Metrics); err != nil {
		l.Error(err).LogActivity("Failed registering reloaded metric definitions", nil)
		return
	}
	l.Info().LogActivity("Reloaded metric definitions", map[string]any{"metrics": len(c.Metrics)})
}

func runFlush(cmd *cobra.Command, args []string) error {
	c, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	logger := newLogger(c)

	storage, closeStorage, err := newStorage(cmd.Context(), c.Storage, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	if err := storage.Flush(); err != nil {
		return err
	}
	logger.WithModule("server").WithOp("flush").Info().LogActivity("Flushed metrics storage", map[string]any{
		"storage":   c.Storage.Backend,
		"keyPrefix": storage.KeyPrefix(),
	})
	return nil
}
