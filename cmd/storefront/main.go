package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jensholdgaard/lot-storefront/internal/broadcast"
	"github.com/jensholdgaard/lot-storefront/internal/catalog"
	"github.com/jensholdgaard/lot-storefront/internal/clock"
	"github.com/jensholdgaard/lot-storefront/internal/config"
	"github.com/jensholdgaard/lot-storefront/internal/event"
	"github.com/jensholdgaard/lot-storefront/internal/health"
	"github.com/jensholdgaard/lot-storefront/internal/session"
	"github.com/jensholdgaard/lot-storefront/internal/telemetry"
	"github.com/jensholdgaard/lot-storefront/internal/web"

	// Register catalog drivers so they are available via catalog.Open.
	_ "github.com/jensholdgaard/lot-storefront/internal/catalog/entstore"
	_ "github.com/jensholdgaard/lot-storefront/internal/catalog/httpapi"
	_ "github.com/jensholdgaard/lot-storefront/internal/catalog/postgres"
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

	tp, err := telemetry.Setup(ctx, cfg.Telemetry,
		attribute.String("storefront.catalog.driver", cfg.Catalog.Driver),
		attribute.String("storefront.broadcast.driver", cfg.Broadcast.Driver),
	)
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
	slog.SetDefault(logger)
	clk := clock.Real{}

	backend, err := catalog.Open(ctx, cfg.Catalog, clk)
	if err != nil {
		return fmt.Errorf("opening catalog (driver=%s): %w", cfg.Catalog.Driver, err)
	}
	defer backend.Closer.Close()
	logger.InfoContext(ctx, "catalog opened", slog.String("driver", cfg.Catalog.Driver))

	bus := event.NewBus()
	defer telemetry.LogNotifications(bus, logger)()

	state, err := session.New(bus, logger, tp.TracerProvider, tp.MeterProvider, cfg.Auction)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}

	checkers := []health.Checker{{Name: "catalog", Check: backend.Ping}}

	pub, err := broadcast.Open(ctx, cfg.Broadcast)
	if err != nil {
		return fmt.Errorf("opening broadcast (driver=%s): %w", cfg.Broadcast.Driver, err)
	}
	if pub != nil {
		defer pub.Close()
		fwd := broadcast.NewForwarder(pub, cfg.Broadcast.SubjectPrefix, clk, logger)
		defer fwd.Attach(bus)()
		go fwd.Run(ctx)
		logger.InfoContext(ctx, "forwarding notifications", slog.String("driver", cfg.Broadcast.Driver))
	}

	hub := web.NewHub(clk, logger)
	defer hub.Attach(bus)()
	go hub.Run(ctx)

	handler := web.New(state, backend.Source, hub, logger, tp.TracerProvider)
	healthHandler := health.NewHandler(clk, checkers...)

	router := mux.NewRouter()
	handler.Routes(router)
	healthHandler.Register(router)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	// A failed first load leaves the session empty; POST /api/lots/reload retries.
	if err := handler.Reload(ctx); err != nil {
		logger.ErrorContext(ctx, "initial catalog load failed", slog.Any("error", err))
	}
	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "storefront is running",
		slog.String("version", version),
		slog.Int("lots", len(state.Lots())),
	)

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
