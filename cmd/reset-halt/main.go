// Command reset-halt clears a halted account's circuit breaker trip.
// This is the single explicit human action that can resume trading
// after the drawdown circuit breaker has fired; it is never wired to an
// automated job, so the caller must pass -confirm.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/krxtrader/engine/internal/config"
	"github.com/krxtrader/engine/internal/portfolio"
	"github.com/krxtrader/engine/internal/risk"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("reset-halt", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	user := fs.String("user", "default", "account/user identifier")
	confirm := fs.Bool("confirm", false, "confirm the reset (must be explicit)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	if !*confirm {
		fmt.Fprintln(os.Stderr, "this clears a halted account's circuit breaker trip and resumes trading.")
		fmt.Fprintln(os.Stderr, "rerun with -confirm to proceed:")
		fmt.Fprintf(os.Stderr, "  reset-halt -user %s -confirm\n", *user)
		return 1
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "reset-halt").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("configuration load failed")
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := portfolio.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error().Err(err).Msg("portfolio store failed")
		return 2
	}

	breaker := risk.NewCircuitBreaker(store, risk.DefaultCircuitBreakerConfig(), logger)
	if err := breaker.Reset(ctx, *user); err != nil {
		logger.Error().Err(err).Str("user", *user).Msg("reset failed")
		return 3
	}

	logger.Warn().Str("user", *user).Msg("circuit breaker manually reset, trading resumed")
	return 0
}
