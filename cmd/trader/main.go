// Package main is the entry point for the krx-trader engine.
//
// Subcommands:
//   - generate-signals:  run C6+C7 once, print approved entry signals
//   - monitor-positions: run C9+C10 once, print exit/liquidation signals
//   - run-cycle:         generate, monitor, and submit orders for one pass
//   - status:            print current market and halt status
//   - serve:             run continuously: the orchestrator drives
//     run-cycle/monitor-positions on their own schedule while the HTTP
//     server stays up, until SIGINT/SIGTERM
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/app"
	"github.com/krxtrader/engine/internal/broker"
	"github.com/krxtrader/engine/internal/clients/krxfeed"
	"github.com/krxtrader/engine/internal/config"
	"github.com/krxtrader/engine/internal/dashboard"
	"github.com/krxtrader/engine/internal/database"
	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/execution"
	"github.com/krxtrader/engine/internal/market"
	"github.com/krxtrader/engine/internal/portfolio"
	"github.com/krxtrader/engine/internal/scheduler"
	"github.com/krxtrader/engine/internal/server"
	"github.com/krxtrader/engine/internal/sizing"
	"github.com/krxtrader/engine/internal/webhook"
)

// Exit codes: 0 success, 1 usage error, 2 configuration
// error, 3 operational failure (a component returned an error).
const (
	exitOK            = 0
	exitUsage         = 1
	exitConfiguration = 2
	exitOperational   = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("trader", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.json", "path to configuration file")
	user := fs.String("user", "default", "account/user identifier")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: trader [-config path] [-user name] <generate-signals|monitor-positions|run-cycle|status|serve>")
		return exitUsage
	}
	subcommand := fs.Arg(0)

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Str("service", "krx-trader").Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error().Err(err).Msg("configuration load failed")
		return exitConfiguration
	}

	if subcommand == "serve" {
		return runServe(cfg, logger, *user)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	svc, store, _, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("service assembly failed")
		return exitConfiguration
	}

	switch subcommand {
	case "generate-signals":
		signals, err := svc.GenerateSignals(ctx, *user, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("generate-signals failed")
			return exitOperational
		}
		for _, s := range signals {
			fmt.Printf("%s %s qty=%d conviction=%s\n", s.SignalID, s.Ticker, s.RecommendedShares, s.ConvictionScore)
		}
		return exitOK

	case "monitor-positions":
		signals, err := svc.MonitorPositions(ctx, *user, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("monitor-positions failed")
			return exitOperational
		}
		for _, s := range signals {
			fmt.Printf("%s %s kind=%s urgency=%s\n", s.SignalID, s.Ticker, s.Kind, s.Urgency)
		}
		return exitOK

	case "run-cycle":
		n, err := svc.RunCycle(ctx, *user, time.Now())
		if err != nil {
			logger.Error().Err(err).Msg("run-cycle failed")
			return exitOperational
		}
		fmt.Printf("run-cycle: %d orders submitted\n", n)
		return exitOK

	case "status":
		halted, err := store.IsHalted(ctx, *user)
		if err != nil {
			logger.Error().Err(err).Msg("status failed")
			return exitOperational
		}
		now := time.Now()
		fmt.Printf("market_open=%v trading_day=%v halted=%v\n", svc.Calendar.IsOpen(now), svc.Calendar.IsTradingDay(now), halted)
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", subcommand)
		return exitUsage
	}
}

// buildService assembles an app.Service for either trading mode. Live
// mode's price source is internal/clients/krxfeed, streaming quotes from
// the upstream websocket feed into Redis in the background; paper mode
// uses an app.FilePriceSource whose price map starts empty. The returned
// broadcaster is non-nil only in live mode, where trade/position/halt
// events are available via Postgres LISTEN/NOTIFY for internal/server's
// /events stream.
func buildService(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app.Service, portfolio.Store, *dashboard.Broadcaster, error) {
	calendar := market.NewCalendar()

	fees := execution.NewCalculator(execution.DefaultFeeSchedules())

	if cfg.TradingMode == config.ModeLive {
		pool, err := database.OpenAndMigrate(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.EnsureAccount(ctx, pool, "default", cfg.Capital); err != nil {
			return nil, nil, nil, err
		}

		store, err := portfolio.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("portfolio store: %w", err)
		}

		raw, ok := cfg.BrokerConfig[cfg.ActiveBroker]
		if !ok {
			raw = []byte(`{}`)
		}
		b, err := broker.New(cfg.ActiveBroker, raw)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("broker: %w", err)
		}

		ledger := execution.NewPostgresLedger(pool)
		executor := execution.NewExecutor(b, ledger, fees, logger)

		feedCfg := krxfeed.DefaultConfig()
		feedCfg.WebsocketURL = cfg.KRXFeedURL
		feedCfg.RedisAddr = cfg.RedisURL
		feed := krxfeed.New(feedCfg, logger)
		go func() {
			if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Msg("krxfeed exited")
			}
		}()

		broadcaster := dashboard.NewBroadcaster(logger)
		go broadcaster.Run()
		listener := dashboard.NewEventListener(cfg.DatabaseURL, broadcaster, logger)
		listener.Start(ctx)

		scoreSource := &app.FileScoreSource{Dir: cfg.Paths.AIOutputDir}
		watchlistSource := &app.FileWatchlistSource{Dir: cfg.Paths.AIOutputDir}
		cashSource := &app.FileCashSource{Store: store}

		svc := app.New(calendar, store, store, watchlistSource, scoreSource, feed, cashSource, scoreSource, executor, fees, logger)
		return svc, store, broadcaster, nil
	}

	memStore := portfolio.NewMemoryStore()
	memStore.SetCash("default", cfg.Capital)
	var store portfolio.Store = memStore

	b := broker.NewPaperBroker(cfg.Capital, broker.SlippageConfig{
		BaseBps:          decimal.NewFromInt(5),
		VolumeFactor:     decimal.NewFromFloat(0.1),
		VolatilityFactor: decimal.NewFromFloat(0.5),
		Seed:             1,
	})

	ledger := execution.NewMemoryLedger(memStore)
	executor := execution.NewExecutor(b, ledger, fees, logger)

	scoreSource := &app.FileScoreSource{Dir: cfg.Paths.AIOutputDir}
	watchlistSource := &app.FileWatchlistSource{Dir: cfg.Paths.AIOutputDir}
	priceSource := &app.FilePriceSource{Dir: cfg.Paths.MarketDataDir, Prices: map[string]decimal.Decimal{}}
	cashSource := &app.FileCashSource{Store: memStore}

	svc := app.New(calendar, store, memStore, watchlistSource, scoreSource, priceSource, cashSource, scoreSource, executor, fees, logger)
	return svc, store, nil, nil
}

// runServe builds the service and runs it continuously: the
// orchestrator (internal/scheduler) drives run-cycle on a market-hours
// interval and monitor-positions more frequently, while internal/server
// stays up for operational HTTP calls, until SIGINT/SIGTERM.
func runServe(cfg *config.Config, logger zerolog.Logger, user string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, _, broadcaster, err := buildService(ctx, cfg, logger)
	if err != nil {
		logger.Error().Err(err).Msg("service assembly failed")
		return exitConfiguration
	}

	sched := scheduler.New(svc.Calendar, logger)

	_ = sched.Register(scheduler.Job{
		Name: "run-cycle",
		Trigger: scheduler.Trigger{
			Kind:       scheduler.TriggerInterval,
			Every:      5 * time.Minute,
			WindowOnly: true,
		},
		Run: func(jobCtx context.Context) error {
			n, err := svc.RunCycle(jobCtx, user, time.Now())
			if err != nil {
				return err
			}
			logger.Info().Int("orders_submitted", n).Msg("run-cycle complete")
			return nil
		},
	})

	_ = sched.Register(scheduler.Job{
		Name: "monitor-positions",
		Trigger: scheduler.Trigger{
			Kind:       scheduler.TriggerInterval,
			Every:      1 * time.Minute,
			WindowOnly: true,
		},
		Run: func(jobCtx context.Context) error {
			signals, err := svc.MonitorPositions(jobCtx, user, time.Now())
			if err != nil {
				return err
			}
			logger.Info().Int("signals", len(signals)).Msg("monitor-positions complete")
			return nil
		},
	})

	sched.Start()

	sizer := sizing.New(sizing.DefaultConfig())
	httpServer := server.New(cfg.Server.Addr(), svc, sizer, broadcaster, logger)
	httpServer.Start()

	var webhookServer *webhook.Server
	if cfg.Webhook.Enabled {
		webhookServer = webhook.NewServer(webhook.Config{
			Port:    cfg.Webhook.Port,
			Path:    cfg.Webhook.Path,
			Enabled: cfg.Webhook.Enabled,
		}, logger)
		webhookServer.OnUpdate(func(updateCtx context.Context, update webhook.Update) {
			switch update.Fill.Status {
			case domain.TradeStatusFilled, domain.TradeStatusPartiallyFilled:
				if _, err := svc.Executor.ApplyPartialFill(updateCtx, user, update.ClientOrderID,
					update.Fill.ExecutedQty, update.RemainingQuantity, update.Fill.ExecutedPrice); err != nil {
					logger.Error().Err(err).Str("order_id", update.ClientOrderID).Msg("webhook reconcile failed")
				}
			default:
				logger.Info().Str("order_id", update.ClientOrderID).
					Str("status", string(update.Fill.Status)).Msg("webhook terminal status received, no reconciliation needed")
			}
		})
		if err := webhookServer.Start(); err != nil {
			logger.Error().Err(err).Msg("webhook server failed to start")
			return exitConfiguration
		}
	}

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	sched.Stop(60 * time.Second)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
		return exitOperational
	}
	if webhookServer != nil {
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("webhook server shutdown error")
			return exitOperational
		}
	}
	return exitOK
}
