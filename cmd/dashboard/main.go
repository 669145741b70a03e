package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/datastore"
	httpadapter "github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/hawaii-climate-dashboard/internal/adapter/kafka"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/boundary"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/colormap"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/compositor"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/config"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/dashboard"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/domain"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/observability"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/pipeline"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/projection"
	"github.com/couchcryptid/hawaii-climate-dashboard/internal/raster"
)

const (
	preloadInitialBackoff = 500 * time.Millisecond
	preloadMaxBackoff     = 30 * time.Second
)

// readiness reports ready once the island outlines are loaded and, when the
// ingestion pipeline runs, once it has published a layer.
type readiness struct {
	boundaries atomic.Bool
	pipeline   *pipeline.Pipeline
}

func (r *readiness) CheckReadiness(ctx context.Context) error {
	if !r.boundaries.Load() {
		return errors.New("boundaries not loaded")
	}
	if r.pipeline != nil {
		return r.pipeline.CheckReadiness(ctx)
	}
	return nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	// Data host: a remote base URL takes precedence over the local directory.
	var src domain.Source
	if cfg.DataBaseURL != "" {
		src = datastore.NewHTTPSource(cfg.DataBaseURL, cfg.DataTimeout, cfg.DataRateLimit, logger, metrics)
		logger.Info("reading data over http", "base_url", cfg.DataBaseURL, "rate_limit", cfg.DataRateLimit)
	} else {
		src = datastore.NewFileSource(cfg.DataDir, metrics)
		logger.Info("reading data from directory", "dir", cfg.DataDir)
	}
	cached := datastore.NewCachedSource(src, cfg.DataCacheSize, metrics)

	gaz := domain.DefaultGazetteer()
	catalog := boundary.NewCatalog(cached, gaz, nil, logger)
	registry := compositor.NewRegistry(metrics)
	layers := dashboard.NewLayerCache(cached, dashboard.LayerOptions{
		Raster:    raster.Options{MaxWidth: cfg.RasterMaxWidth, NoDataThreshold: cfg.NoDataThreshold},
		Colorize:  colormap.ColorizeOptions{Workers: cfg.ColorizeWorkers, Alpha: cfg.RasterAlpha},
		MaxLayers: cfg.LayerCacheSize,
		IdleTTL:   cfg.LayerIdleTTL,
		Pins:      registry,
	}, logger, metrics)

	manager := dashboard.NewManager(dashboard.Deps{
		Boundaries: catalog,
		Gazetteer:  gaz,
		Layers:     layers,
		Series:     cached,
		Registry:   registry,
		Size:       projection.Size{Width: cfg.MapWidth, Height: cfg.MapHeight},
		Logger:     logger,
		Metrics:    metrics,
	}, cfg.SessionTTL, clockwork.NewRealClock())

	ready := &readiness{}

	// Layer ingestion pipeline (feature-flagged via KAFKA_ENABLED).
	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		writer = kafkaadapter.NewWriter(cfg, logger)
		transformer := pipeline.NewTransformer(layers, manager, logger)
		ready.pipeline = pipeline.New(reader, transformer, writer, logger, metrics, cfg.BatchSize)
		logger.Info("layer pipeline enabled", "source_topic", cfg.KafkaSourceTopic, "sink_topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("layer pipeline disabled")
	}

	api := httpadapter.NewAPI(manager, registry, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, api, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Preload boundaries so the first session does not pay for it. Readiness
	// waits on the island outlines, so keep trying until they load.
	go func() {
		if err := catalog.PreloadWithRetry(ctx, preloadInitialBackoff, preloadMaxBackoff); err != nil {
			logger.Error("boundary preload abandoned", "error", err)
			return
		}
		ready.boundaries.Store(true)
		logger.Info("boundaries loaded")
	}()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Evict idle sessions.
	go manager.Run(ctx)

	// Start layer pipeline.
	if ready.pipeline != nil {
		go func() {
			if err := ready.pipeline.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}
