package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"quantflow/app"
	"quantflow/config"
	"quantflow/sandbox"
)

func main() {
	// The backtest worker runs as a subcommand of the same binary so the
	// sandbox has nothing extra to deploy.
	if len(os.Args) > 1 && os.Args[1] == "backtest-worker" {
		os.Exit(sandbox.WorkerMain(os.Stdout, os.Stderr))
	}

	cfg := config.LoadFromEnv()
	logger := newLogger(cfg.LogLevel)

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
		a.Shutdown()
		os.Exit(0)
	}()

	if err := a.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
