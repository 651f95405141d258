package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/oklog/run"

	"github.com/KPaul404/Virtual-try-on/internal/credentials"
	"github.com/KPaul404/Virtual-try-on/internal/http/handlers"
	httpapi "github.com/KPaul404/Virtual-try-on/internal/http/httpapi"
	"github.com/KPaul404/Virtual-try-on/internal/infra"
	"github.com/KPaul404/Virtual-try-on/internal/session"
	"github.com/KPaul404/Virtual-try-on/pkg/sse"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load .env when present
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	if !credentials.NewSource(cfg.GeminiAPIKey).HasDefault() {
		logger.Warn().Msg("GEMINI_API_KEY is not set; runs require a session credential")
	}

	orchestrator, err := infra.NewOrchestrator(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build styling pipeline")
	}

	hub := sse.NewHub()
	app := handlers.NewApp(handlers.Deps{
		Sessions:       session.NewStore(cfg.SessionTTL),
		Runner:         orchestrator,
		Hub:            hub,
		Logger:         logger,
		RunTimeout:     cfg.RunTimeout,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             logger,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
	})
	server := infra.NewHTTPServer(cfg, router)

	var g run.Group

	// OS signals.
	g.Add(run.SignalHandler(context.Background(), syscall.SIGINT, syscall.SIGTERM))

	// Event hub.
	{
		ctx, cancel := context.WithCancel(context.Background())
		g.Add(
			func() error {
				return hub.Run(ctx)
			},
			func(error) {
				cancel()
			},
		)
	}

	// HTTP server.
	g.Add(
		func() error {
			logger.Info().Str("addr", server.Addr()).Msg("API listening")
			return server.Start()
		},
		func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Error().Err(err).Msg("failed to shutdown server")
			}
			if err := app.Wait(ctx); err != nil {
				logger.Warn().Err(err).Msg("styling runs still in progress at shutdown")
			}
		},
	)

	err = g.Run()
	var sigErr run.SignalError
	if err != nil && !errors.As(err, &sigErr) {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
