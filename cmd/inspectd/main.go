package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stackinspect/inspectd/internal/api"
	"github.com/stackinspect/inspectd/internal/clock/system"
	"github.com/stackinspect/inspectd/internal/config"
	"github.com/stackinspect/inspectd/internal/dockerfile"
	"github.com/stackinspect/inspectd/internal/id/uuid"
	"github.com/stackinspect/inspectd/internal/inspection"
	"github.com/stackinspect/inspectd/internal/logging"
	"github.com/stackinspect/inspectd/internal/orchestrator/kube"
	memoryPublisher "github.com/stackinspect/inspectd/internal/publisher/memory"
	noopPublisher "github.com/stackinspect/inspectd/internal/publisher/noop"
	pubsubPublisher "github.com/stackinspect/inspectd/internal/publisher/pubsub"
	noopStore "github.com/stackinspect/inspectd/internal/store/noop"
	postgresStore "github.com/stackinspect/inspectd/internal/store/postgres"
	"github.com/stackinspect/inspectd/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	telemetry.Init()

	orch, err := kube.New(kube.Config{
		Namespace:  cfg.Kubernetes.Namespace,
		Kubeconfig: cfg.Kubernetes.Kubeconfig,
	}, logger.Named("kube"))
	if err != nil {
		logger.Fatal("cluster client init failed", zap.Error(err))
	}

	events, err := newEventStore(ctx, cfg)
	if err != nil {
		logger.Fatal("event store init failed", zap.Error(err))
	}
	defer events.Close()

	publisher, closePublisher, err := newPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer closePublisher()

	scriptClient := &http.Client{
		Timeout: time.Duration(cfg.Inspection.ScriptTimeoutSeconds) * time.Second,
	}
	generator := dockerfile.New(scriptClient, logger.Named("dockerfile"))

	apiServer := api.NewServer(
		orch,
		events,
		publisher,
		generator,
		uuid.New(),
		system.New(),
		cfg,
		logger,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newEventStore(ctx context.Context, cfg config.Config) (inspection.EventStore, error) {
	switch cfg.Events.Provider {
	case "postgres":
		store, err := postgresStore.NewEventStore(ctx, postgresStore.EventStoreConfig{
			DSN:   cfg.Events.DSN,
			Table: cfg.Events.Table,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres event store: %w", err)
		}
		return store, nil
	default:
		return noopStore.New(), nil
	}
}

func newPublisher(ctx context.Context, cfg config.Config) (inspection.Publisher, func(), error) {
	switch cfg.Publisher.Provider {
	case "memory":
		return memoryPublisher.New(), func() {}, nil
	case "pubsub":
		pub, err := pubsubPublisher.New(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		closer := func() {
			if err := pub.Close(); err != nil {
				zap.L().Warn("pubsub publisher close failed", zap.Error(err))
			}
		}
		return pub, closer, nil
	default:
		return noopPublisher.New(), func() {}, nil
	}
}
