package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/Schera-ole/trainkit/internal/config"
	"github.com/Schera-ole/trainkit/internal/handler"
	"github.com/Schera-ole/trainkit/internal/logging"
	"github.com/Schera-ole/trainkit/internal/migration"
	"github.com/Schera-ole/trainkit/internal/repository"
	"github.com/Schera-ole/trainkit/internal/service"
	"github.com/Schera-ole/trainkit/internal/sink"
	"github.com/Schera-ole/trainkit/internal/telemetry"
	"github.com/Schera-ole/trainkit/internal/tracker"
)

func main() {
	logSugar, err := logging.New("server", logging.ConfigFromEnv())
	if err != nil {
		log.Fatal("Failed to create logger: ", err)
	}
	defer logSugar.Sync()

	serverConfig, err := config.NewServerConfig(os.Args[1:])
	if err != nil {
		logSugar.Fatalf("Failed to parse configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, serverConfig, logSugar); err != nil {
		logSugar.Fatalw("server stopped", "error", err)
	}
}

func run(ctx context.Context, serverConfig *config.ServerConfig, logger *zap.SugaredLogger) error {
	storage, err := newRepository(ctx, serverConfig, logger)
	if err != nil {
		return err
	}
	defer storage.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sinks, onRunRemoved, shutdownTelemetry, err := newSinkFactory(ctx, serverConfig, registry, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warnw("telemetry shutdown failed", "error", err)
		}
	}()

	trackingService := service.NewTrackingService(storage, logger, service.Options{
		RunTTL:       serverConfig.RunTTL,
		Sinks:        sinks,
		OnRunRemoved: onRunRemoved,
	})
	if serverConfig.Restore {
		if err := trackingService.RestoreSnapshot(serverConfig.SnapshotPath); err != nil {
			return err
		}
	}

	if serverConfig.StoreInterval > 0 {
		go storeLoop(ctx, trackingService, serverConfig, logger)
	}

	server := &http.Server{
		Addr:    serverConfig.Address,
		Handler: handler.Router(trackingService, logger, serverConfig, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Infow("starting server", "address", serverConfig.Address)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warnw("http shutdown failed", "error", err)
		}
	}

	if serverConfig.SnapshotPath != "" {
		if err := trackingService.SaveSnapshot(serverConfig.SnapshotPath); err != nil {
			logger.Errorw("couldn't save snapshot", "error", err)
		}
	}
	return nil
}

// newRepository returns PostgreSQL storage when a DSN is configured and
// in-memory storage otherwise.
func newRepository(ctx context.Context, serverConfig *config.ServerConfig, logger *zap.SugaredLogger) (repository.Repository, error) {
	if serverConfig.DatabaseDSN == "" {
		logger.Info("using in-memory storage")
		return repository.NewMemStorage(), nil
	}
	if err := migration.RunMigrations(ctx, serverConfig.DatabaseDSN, logger); err != nil {
		return nil, err
	}
	storage, err := repository.NewDBStorage(serverConfig.DatabaseDSN)
	if err != nil {
		return nil, err
	}
	logger.Info("using database storage")
	return storage, nil
}

// newSinkFactory wires every run to the log, Prometheus and OpenTelemetry
// sinks. Prometheus series of a run are dropped when the run goes away.
func newSinkFactory(
	ctx context.Context,
	serverConfig *config.ServerConfig,
	registry *prometheus.Registry,
	logger *zap.SugaredLogger,
) (service.SinkFactory, func(string), func(context.Context) error, error) {
	promSink, err := sink.NewPrometheus(registry)
	if err != nil {
		return nil, nil, nil, err
	}

	var otelSink *sink.OTel
	shutdown := func(context.Context) error { return nil }
	if serverConfig.Exporter != "none" {
		provider, providerShutdown, err := telemetry.NewProvider(ctx, telemetry.Config{
			ServiceName: "trainkit-server",
			Exporter:    serverConfig.Exporter,
			OTLP: telemetry.OTLPConfig{
				Endpoint: serverConfig.OTLPEndpoint,
				Insecure: true,
			},
		}, registry)
		if err != nil {
			return nil, nil, nil, err
		}
		otelSink, err = sink.NewOTel(provider.Meter("github.com/Schera-ole/trainkit"))
		if err != nil {
			return nil, nil, nil, err
		}
		shutdown = providerShutdown
	}

	factory := func(run string) tracker.Sink {
		sinks := []sink.Sink{sink.NewLog(logger, run), promSink.ForRun(run)}
		if otelSink != nil {
			sinks = append(sinks, otelSink.With(attribute.String("run", run)))
		}
		return sink.NewMulti(sinks...)
	}
	return factory, promSink.Forget, shutdown, nil
}

func storeLoop(ctx context.Context, trackingService *service.TrackingService, serverConfig *config.ServerConfig, logger *zap.SugaredLogger) {
	ticker := time.NewTicker(time.Duration(serverConfig.StoreInterval) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := trackingService.SaveSnapshot(serverConfig.SnapshotPath); err != nil {
				logger.Errorw("couldn't save snapshot", "error", err)
			}
		}
	}
}
