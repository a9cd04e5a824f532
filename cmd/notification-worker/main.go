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

	"github.com/spf13/cobra"

	"github.com/nifyacorp/notification-worker/pkg/broker"
	"github.com/nifyacorp/notification-worker/pkg/config"
	"github.com/nifyacorp/notification-worker/pkg/dedup"
	"github.com/nifyacorp/notification-worker/pkg/dispatch"
	"github.com/nifyacorp/notification-worker/pkg/events"
	"github.com/nifyacorp/notification-worker/pkg/health"
	"github.com/nifyacorp/notification-worker/pkg/ingest"
	"github.com/nifyacorp/notification-worker/pkg/log"
	"github.com/nifyacorp/notification-worker/pkg/processor"
	"github.com/nifyacorp/notification-worker/pkg/status"
	"github.com/nifyacorp/notification-worker/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notification-worker",
	Short: "Notification worker - turns subscription matches into user notifications",
	Long: `The notification worker consumes document-matching results produced by
upstream subscription processors, persists at most one notification per
matching document and fans each one out to email and realtime channels.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"notification-worker version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	serveCmd.Flags().String("config", "", "Optional YAML config file (environment wins)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")

		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.LogLevel),
			JSONOutput: cfg.LogJSON || cfg.IsProduction(),
		})

		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	logger := log.WithComponent("main")
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Lifecycle event bus and the status monitor watching it.
	bus := events.NewBroker()
	bus.Start()
	defer bus.Stop()

	monitor := status.NewMonitor()
	statusSub := bus.Subscribe()
	go monitor.Watch(statusSub)
	defer bus.Unsubscribe(statusSub)

	// Database.
	pg, err := store.NewPostgres(ctx, cfg.DatabaseURL())
	if err != nil {
		return fmt.Errorf("failed to connect database: %w", err)
	}
	defer pg.Close()
	monitor.SetDatabaseActive(true)
	logger.Info().Str("host", cfg.DBHost).Str("database", cfg.DBName).Msg("database connected")

	// Broker.
	ps, err := broker.NewPubSub(ctx, cfg.GCPProjectID, cfg.DLQTopic)
	if err != nil {
		return fmt.Errorf("failed to connect pub/sub: %w", err)
	}
	defer ps.Close()
	monitor.SetBrokerActive(true)
	logger.Info().Str("project", cfg.GCPProjectID).Msg("pub/sub connected")

	// Processors.
	registry, err := processor.NewRegistry(processor.NewBOE(), processor.NewRealEstate())
	if err != nil {
		return fmt.Errorf("failed to build processor registry: %w", err)
	}
	logger.Info().Strs("processors", registry.Types()).Msg("processor registry ready")

	gate := dedup.NewGate(pg, cfg.DedupWindow())
	dispatcher := dispatch.NewDispatcher(ps, pg, dispatch.Topics{
		EmailImmediate: cfg.EmailImmediateTopic,
		EmailDaily:     cfg.EmailDailyTopic,
		Realtime:       cfg.RealtimeTopic,
	})

	controller := ingest.NewController(ingest.Config{
		Broker:          ps,
		Registry:        registry,
		Gate:            gate,
		Store:           pg,
		Dispatcher:      dispatcher,
		Bus:             bus,
		TopicID:         cfg.SubscriptionTopic,
		SubscriptionID:  cfg.SubscriptionID,
		MessageDeadline: cfg.MessageDeadline(),
	})

	// HTTP diagnostics surface.
	server := health.NewServer(cfg.Port, health.Options{
		Version:        Version,
		Environment:    cfg.Environment,
		Monitor:        monitor,
		Controller:     controller,
		Registry:       registry,
		Store:          pg,
		SubscriptionID: cfg.SubscriptionID,
		Topics: map[string]string{
			"dlq":             cfg.DLQTopic,
			"email_immediate": cfg.EmailImmediateTopic,
			"email_daily":     cfg.EmailDailyTopic,
			"realtime":        cfg.RealtimeTopic,
		},
		DedupWindow: cfg.DedupWindow(),
	})

	httpErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	// Periodic dependency probe so the status monitor reflects reality even
	// when no messages are flowing.
	go probeLoop(ctx, pg, ps, bus)

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		if err := controller.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("consumer loop ended with error")
		}
	}()

	logger.Info().Str("subscription", cfg.SubscriptionID).Msg("worker started")

	select {
	case err := <-httpErr:
		stop()
		<-consumerDone
		return fmt.Errorf("http listener failed: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown: stop pulling, drain in-flight work, then release
	// the broker and the pool (both via defers above).
	logger.Info().Msg("shutdown signal received, draining")
	<-consumerDone

	if !controller.Drain(cfg.ShutdownGrace()) {
		logger.Warn().
			Int64("in_flight", controller.InFlight()).
			Msg("drain grace expired, remaining messages will be redelivered")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown incomplete")
	}

	logger.Info().Msg("worker stopped")
	return nil
}

const probeInterval = 30 * time.Second

func probeLoop(ctx context.Context, pg *store.Postgres, ps *broker.PubSub, bus *events.Broker) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := pg.Ping(probeCtx); err != nil {
				bus.Emit(events.EventDatabaseDown, err.Error())
			} else {
				bus.Emit(events.EventDatabaseUp, "")
			}
			if err := ps.Status(probeCtx); err != nil {
				bus.Emit(events.EventBrokerDown, err.Error())
			} else {
				bus.Emit(events.EventBrokerUp, "")
			}
			cancel()
		case <-ctx.Done():
			return
		}
	}
}
