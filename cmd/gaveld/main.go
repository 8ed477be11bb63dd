package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jensholdgaard/gavel/internal/admission"
	"github.com/jensholdgaard/gavel/internal/authz"
	"github.com/jensholdgaard/gavel/internal/clock"
	"github.com/jensholdgaard/gavel/internal/config"
	"github.com/jensholdgaard/gavel/internal/engine"
	"github.com/jensholdgaard/gavel/internal/fanout"
	"github.com/jensholdgaard/gavel/internal/httpapi"
	"github.com/jensholdgaard/gavel/internal/notify"
	"github.com/jensholdgaard/gavel/internal/store"
	"github.com/jensholdgaard/gavel/internal/telemetry"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/gavel/internal/store/memory"
	_ "github.com/jensholdgaard/gavel/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.Sentry.Environment,
			Release:     version,
		}); err != nil {
			return fmt.Errorf("initializing sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	broker := fanout.NewBroker(logger)
	resolver := authz.NewResolver(repos.Teams, repos.Access)
	eng := engine.New(repos, broker, logger, tp.TracerProvider, clk, cfg.Server.HistoryTail)
	adm := admission.NewService(repos, resolver, broker, logger, tp.TracerProvider, clk)

	announcer, err := notify.New(cfg.Discord, logger)
	if err != nil {
		return fmt.Errorf("starting announcer: %w", err)
	}
	if announcer != nil {
		broker.AddTap(announcer.Tap())
		defer func() {
			if closeErr := announcer.Close(); closeErr != nil {
				logger.Error("announcer shutdown error", slog.Any("error", closeErr))
			}
		}()
		logger.InfoContext(ctx, "settlement announcer enabled")
	}

	api := httpapi.NewServer(eng, adm, resolver, broker, repos, logger, cfg.Server)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "gaveld is running",
			slog.Int("port", cfg.Server.Port),
			slog.String("version", version),
		)
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
