// main package for the tts-service
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/tts-session-service/internal/api"
	"github.com/book-expert/tts-session-service/internal/config"
	"github.com/book-expert/tts-session-service/internal/history"
	"github.com/book-expert/tts-session-service/internal/objectstore"
	"github.com/book-expert/tts-session-service/internal/service"
	"github.com/book-expert/tts-session-service/internal/telemetry"
	"github.com/book-expert/tts-session-service/internal/tts"
	"github.com/book-expert/tts-session-service/internal/voices"
	"github.com/book-expert/tts-session-service/internal/worker"
	"github.com/gin-gonic/gin"
	"github.com/nats-io/nats.go"
)

const readHeaderTimeout = 10 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger in %s: %w", logPath, err)
	}

	return log, nil
}

// connectNATS opens the connection used by the worker and the artifact store.
// The store is nil unless artifact publishing is enabled.
func connectNATS(cfg config.NATSConfig, log *logger.Logger) (*nats.Conn, *objectstore.NatsObjectStore, error) {
	natsConnection, err := nats.Connect(cfg.URL, nats.Name("tts-session-service"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}

	log.Info("Connected to NATS at %s", natsConnection.ConnectedUrl())

	if !cfg.PublishArtifacts {
		return natsConnection, nil, nil
	}

	jetstreamContext, err := natsConnection.JetStream()
	if err != nil {
		natsConnection.Close()

		return nil, nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	store, err := objectstore.New(jetstreamContext, cfg.ArtifactBucket)
	if err != nil {
		natsConnection.Close()

		return nil, nil, err
	}

	log.Info("Publishing combined audio to bucket %s", cfg.ArtifactBucket)

	return natsConnection, store, nil
}

func run() error {
	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "tts-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	bootstrapLog.Info("Bootstrap logger created.")

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	bootstrapLog.Info("Configuration loaded successfully.")

	// 3. Initialize the final logger based on the loaded configuration
	finalLog, err := setupLogger(cfg.Paths.BaseLogsDir, "tts-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := finalLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, finalLog)
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	shutdownTelemetry, metricsHandler, err := telemetry.Setup(ctx, cfg.Telemetry, log)
	if err != nil {
		return err
	}

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		shutdownErr := shutdownTelemetry(shutdownCtx)
		if shutdownErr != nil {
			log.Warn("Telemetry shutdown failed: %v", shutdownErr)
		}
	}()

	instruments, err := telemetry.New()
	if err != nil {
		return err
	}

	catalog, err := voices.Load(cfg.Voices.CatalogPath)
	if err != nil {
		return err
	}

	historyStore, err := history.Open(ctx, cfg.History, log)
	if err != nil {
		return err
	}

	defer func() {
		closeErr := historyStore.Close()
		if closeErr != nil {
			log.Warn("Closing history failed: %v", closeErr)
		}
	}()

	registry, err := tts.NewDefaultRegistry(cfg.Providers, catalog, log)
	if err != nil {
		return err
	}

	svcConfig := service.Config{
		Registry:            registry,
		Catalog:             catalog,
		History:             historyStore,
		Publisher:           nil,
		Metrics:             instruments,
		Log:                 log,
		OutputsDir:          cfg.Storage.OutputsDir,
		SKTAPIKey:           cfg.Providers.SKTAX.APIKey,
		CombineSweepMinutes: cfg.Storage.CombineSweepMinutes,
		CleanupSweepMinutes: cfg.Storage.CleanupSweepMinutes,
		SampleCacheSize:     cfg.Storage.SampleCacheSize,
	}

	var natsConnection *nats.Conn

	if cfg.NATS.Enabled {
		conn, store, connErr := connectNATS(cfg.NATS, log)
		if connErr != nil {
			return connErr
		}

		defer conn.Close()

		natsConnection = conn
		if store != nil {
			svcConfig.Publisher = store
		}
	}

	svc, err := service.New(svcConfig)
	if err != nil {
		return err
	}

	readyErr := svc.Ready()
	if readyErr != nil {
		return readyErr
	}

	gin.SetMode(gin.ReleaseMode)

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.NewRouter(api.NewHandler(svc, log), metricsHandler, log),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errChan := make(chan error, 2)

	go func() {
		log.System("TTS session service listening on %s with providers %v", cfg.Server.Addr, svc.Providers())

		listenErr := server.ListenAndServe()
		if listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", listenErr)
		}
	}()

	if natsConnection != nil {
		natsWorker := worker.NewNatsWorker(natsConnection, worker.Subjects{
			Synthesize: cfg.NATS.SynthesizeSubject,
			Combine:    cfg.NATS.CombineSubject,
			QueueGroup: cfg.NATS.QueueGroup,
		}, svc, log)

		go func() {
			workerErr := natsWorker.Run(ctx)
			if workerErr != nil {
				errChan <- fmt.Errorf("nats worker: %w", workerErr)
			}
		}()
	}

	var runErr error

	select {
	case <-ctx.Done():
		log.System("Shutdown signal received")
	case runErr = <-errChan:
		log.Error("Service component failed: %v", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	shutdownErr := server.Shutdown(shutdownCtx)
	if shutdownErr != nil {
		log.Warn("HTTP shutdown failed: %v", shutdownErr)
	}

	log.System("TTS session service stopped")

	return runErr
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
