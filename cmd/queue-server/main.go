package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/capd/queue/internal/config"
	"github.com/capd/queue/internal/domain/queue"
	"github.com/capd/queue/internal/platform/alerts"
	"github.com/capd/queue/internal/platform/auth"
	"github.com/capd/queue/internal/platform/backend"
	"github.com/capd/queue/internal/platform/events"
	"github.com/capd/queue/internal/platform/middleware"
	"github.com/capd/queue/internal/platform/poller"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "queue-server",
		Short: "CAPD clinic queue and triage server",
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the queue API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	// Logger
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if os.Getenv("ENV") == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Core wiring: store, backend client, operations service
	store := queue.NewStore()
	client := backend.NewClient(cfg.BackendBaseURL, cfg.BackendToken, logger)
	svc := queue.NewService(store, client, logger)
	svc.SetSkipPositions(cfg.SkipPositions)

	// Events: in-process bus fanning out to the staff alert feed and
	// registered webhooks
	bus := events.NewBus()
	notifier := events.NewNotifier(logger)
	alertCenter := alerts.NewCenter(logger)
	bus.Subscribe(notifier.HandleEvent)
	bus.Subscribe(alertCenter.HandleEvent)
	bus.Subscribe(func(evt events.Event) {
		logger.Info().Str("event", evt.Type).Str("event_id", evt.ID.String()).Msg("queue event")
	})

	// Poller keeps the store in sync with the external queue service
	pol := poller.New(store, client, bus, logger,
		poller.WithInterval(cfg.PollInterval()),
		poller.WithClinicOffset(cfg.ClinicUTCOffset()),
	)
	svc.SetRefresher(pol)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	pol.Start(ctx)

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))

	// Auth middleware
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware())
	} else {
		e.Use(auth.JWTMiddleware([]byte(cfg.AuthSigningKey)))
	}
	// Staff tokens ride along to the external queue service.
	e.Use(auth.BearerPassthrough())

	// API groups
	apiV1 := e.Group("/api/v1")

	queueHandler := queue.NewHandler(svc, pol, pol.ClinicNow)
	queueHandler.RegisterRoutes(apiV1.Group("/queue"))

	eventsHandler := events.NewHandler(notifier)
	eventsHandler.RegisterRoutes(apiV1.Group("/webhooks", auth.RequireRole("admin")))

	alertsHandler := alerts.NewHandler(alertCenter)
	alertsHandler.RegisterRoutes(apiV1.Group("/alerts", auth.RequireRole("admin", "staff")))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	pol.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
