package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/kafka"
	"github.com/couchcryptid/air-quality-etl/internal/adapter/mapbox"
	mqttadapter "github.com/couchcryptid/air-quality-etl/internal/adapter/mqtt"
	"github.com/couchcryptid/air-quality-etl/internal/alert"
	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/hotspot"
	"github.com/couchcryptid/air-quality-etl/internal/interpolate"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
	"github.com/couchcryptid/air-quality-etl/internal/scheduler"
	"github.com/couchcryptid/air-quality-etl/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	db, err := store.OpenPostgres(cfg.DatabaseDSN, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	repo, err := store.New(db, cfg.StoreTimeout)
	if err != nil {
		logger.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}

	// Alert and hotspot events (enabled by KAFKA_BROKERS).
	var publisher *kafkaadapter.Publisher
	if cfg.KafkaEnabled() {
		publisher = kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaAlertTopic, logger, metrics)
		logger.Info("kafka event publishing enabled", "topic", cfg.KafkaAlertTopic)
	} else {
		logger.Info("kafka event publishing disabled")
	}

	// Hotspot place names (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	var alertOpts []alert.Option
	var detectorOpts []hotspot.Option
	if publisher != nil {
		alertOpts = append(alertOpts, alert.WithPublisher(publisher))
		detectorOpts = append(detectorOpts, hotspot.WithPublisher(publisher))
	}
	if geocoder != nil {
		detectorOpts = append(detectorOpts, hotspot.WithGeocoder(geocoder))
	}
	evaluator := alert.NewEvaluator(repo, logger, metrics, alertOpts...)
	detector := hotspot.NewDetector(repo, logger, metrics, detectorOpts...)

	proc := domain.NewProcessor(domain.NewStateStore(), domain.Geo{Lat: cfg.DefaultLatitude, Lon: cfg.DefaultLongitude})
	p := pipeline.New(proc, repo, logger, metrics,
		pipeline.Config{BatchSize: cfg.SweepBatchSize, Interval: cfg.SweepInterval},
		pipeline.WithObserver(func(ctx context.Context, readings []domain.CalibratedReading) {
			if _, err := evaluator.EvaluateReadings(ctx, readings); err != nil {
				logger.Warn("reading alert evaluation failed", "error", err)
			}
		}),
	)

	sched, err := scheduler.New(scheduler.Config{
		Schedule:        cfg.HotspotSchedule,
		HotspotLookback: cfg.HotspotLookback,
		AlertWindow:     cfg.AlertWindow,
		ZonePrecision:   cfg.ZonePrecision,
	}, repo, detector, evaluator, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	ready := readiness{p.CheckReadiness, repo.Ping}
	var subscriber *mqttadapter.Subscriber
	if cfg.MQTTEnabled() {
		subscriber = mqttadapter.NewSubscriber(cfg.MQTTBrokerURL, cfg.MQTTTopic, "", p, logger)
		ready = append(ready, subscriber.CheckReadiness)
	}

	api := httpadapter.NewAPI(httpadapter.APIConfig{
		ReadingWindow:   cfg.AlertWindow,
		HotspotLookback: cfg.HotspotLookback,
		ZonePrecision:   cfg.ZonePrecision,
	}, p, repo, detector, alertService{sched, evaluator},
		interpolate.NewBuilder(interpolate.DefaultOptions(), clockwork.NewRealClock(), logger),
		clockwork.NewRealClock(), logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, api, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start the sweep that processes anything ingestion left behind.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	if err := sched.Start(ctx); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	if subscriber != nil {
		if err := subscriber.Start(ctx); err != nil {
			logger.Error("mqtt subscriber failed to start", "error", err)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if subscriber != nil {
		subscriber.Close()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	sched.Stop(shutdownCtx)
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Error("kafka publisher close error", "error", err)
		}
	}
	if err := repo.Close(); err != nil {
		logger.Error("database close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// alertService joins on-demand evaluation with acknowledge and resolve.
type alertService struct {
	*scheduler.Scheduler
	*alert.Evaluator
}

// readiness is ready when every check passes.
type readiness []func(ctx context.Context) error

func (r readiness) CheckReadiness(ctx context.Context) error {
	for _, check := range r {
		if err := check(ctx); err != nil {
			return fmt.Errorf("not ready: %w", err)
		}
	}
	return nil
}
