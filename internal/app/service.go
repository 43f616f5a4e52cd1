// Package app wires the scoring, sizing, signal, risk, monitor, and
// execution packages into the three operations cmd/trader and
// internal/server expose: generating entry signals, sweeping open
// positions for exits, and running one full scheduler-driven cycle.
// This wiring used to live inline in main(); this package extracts it
// so both the CLI and the HTTP server can share it.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/execution"
	"github.com/krxtrader/engine/internal/market"
	"github.com/krxtrader/engine/internal/monitor"
	"github.com/krxtrader/engine/internal/portfolio"
	"github.com/krxtrader/engine/internal/risk"
	"github.com/krxtrader/engine/internal/scoring"
	"github.com/krxtrader/engine/internal/signals"
	"github.com/krxtrader/engine/internal/sizing"
)

// WatchlistEntry is one ticker the screener/watchlist layer surfaced as
// a candidate, with the market and sector the risk checks need. The
// watchlist itself is an external collaborator;
// this repo only consumes it.
type WatchlistEntry struct {
	Ticker string
	Market domain.Market
	Sector string
}

// WatchlistSource supplies the current watchlist for a user.
type WatchlistSource interface {
	Watchlist(ctx context.Context, user string) ([]WatchlistEntry, error)
}

// Service bundles every component the orchestrator drives.
type Service struct {
	Calendar  *market.Calendar
	Store     portfolio.Store
	Snapshots portfolio.SnapshotStore
	Watchlist WatchlistSource
	Generator *signals.Generator
	Validator *risk.Validator
	Breaker   *risk.CircuitBreaker
	Monitor   *monitor.Monitor
	Executor  *execution.Executor
	Fees      *execution.Calculator
	log       zerolog.Logger
}

// New assembles a Service from its collaborators.
func New(
	calendar *market.Calendar,
	store portfolio.Store,
	snapshots portfolio.SnapshotStore,
	watchlist WatchlistSource,
	source scoring.Source,
	prices signals.PriceSource,
	cash signals.CashSource,
	technical monitor.TechnicalSource,
	executorBroker *execution.Executor,
	fees *execution.Calculator,
	log zerolog.Logger,
) *Service {
	reader := scoring.NewReader(source, calendar, 48*time.Hour)
	scorer := scoring.NewConvictionScorer(scoring.DefaultWeights())
	sizer := sizing.New(sizing.DefaultConfig())
	generator := signals.New(reader, scorer, sizer, prices, cash, signals.DefaultConfig())

	validator := risk.NewValidator(store, fees, risk.DefaultConfig())
	breaker := risk.NewCircuitBreaker(snapshots, risk.DefaultCircuitBreakerConfig(), log)
	mon := monitor.New(store, prices, technical, monitor.Config{TakeProfitUseTechnical: true}, log)

	return &Service{
		Calendar:  calendar,
		Store:     store,
		Snapshots: snapshots,
		Watchlist: watchlist,
		Generator: generator,
		Validator: validator,
		Breaker:   breaker,
		Monitor:   mon,
		Executor:  executorBroker,
		Fees:      fees,
		log:       log.With().Str("component", "app").Logger(),
	}
}

// GenerateSignals runs C6's entry path over the user's watchlist, then
// gates every proposed entry through C7's validator before returning
// only the approved signals. Rejected signals are logged, not dropped
// silently.
func (s *Service) GenerateSignals(ctx context.Context, user string, now time.Time) ([]domain.TradingSignal, error) {
	entries, err := s.Watchlist.Watchlist(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("app: watchlist: %w", err)
	}

	byTicker := make(map[string]WatchlistEntry, len(entries))
	tickers := make([]string, 0, len(entries))
	for _, e := range entries {
		byTicker[e.Ticker] = e
		tickers = append(tickers, e.Ticker)
	}

	proposed, err := s.Generator.GenerateEntries(ctx, user, tickers, now)
	if err != nil {
		return nil, fmt.Errorf("app: generate entries: %w", err)
	}

	approved := make([]domain.TradingSignal, 0, len(proposed))
	for _, sig := range proposed {
		select {
		case <-ctx.Done():
			return approved, ctx.Err()
		default:
		}

		entry := byTicker[sig.Ticker]
		dq := risk.DataQuality{AsOf: now, DataQualityScore: decimal.NewFromInt(100)}
		result, err := s.Validator.Validate(ctx, sig, dq, entry.Market, entry.Sector)
		if err != nil {
			s.log.Error().Err(err).Str("ticker", sig.Ticker).Msg("validation failed")
			continue
		}
		if !result.Approved {
			s.log.Info().Str("ticker", sig.Ticker).Interface("rejections", result.Rejections).Msg("signal rejected")
			continue
		}
		approved = append(approved, result.Signal)
	}

	return approved, nil
}

// MonitorPositions runs C9's sweep, then C10's drawdown check, over a
// user's open positions and returns every exit/liquidation signal
// produced by either.
func (s *Service) MonitorPositions(ctx context.Context, user string, now time.Time) ([]domain.TradingSignal, error) {
	exits, err := s.Monitor.Sweep(ctx, user, now)
	if err != nil {
		return nil, fmt.Errorf("app: monitor sweep: %w", err)
	}

	liquidations, err := s.Breaker.Evaluate(ctx, user, now)
	if err != nil {
		return nil, fmt.Errorf("app: circuit breaker: %w", err)
	}

	return append(exits, liquidations...), nil
}

// ExecuteSignals submits every signal in order. A submission error is
// logged and the batch continues with the next signal (a failed order
// for one ticker does not block the rest); the loop stops early only
// when ctx is cancelled.
func (s *Service) ExecuteSignals(ctx context.Context, user string, sigs []domain.TradingSignal, watchlist map[string]WatchlistEntry) []domain.Trade {
	trades := make([]domain.Trade, 0, len(sigs))
	for _, sig := range sigs {
		select {
		case <-ctx.Done():
			return trades
		default:
		}

		mkt := watchlist[sig.Ticker].Market
		if mkt == "" {
			mkt = domain.MarketKOSPI
		}
		trade, err := s.Executor.SubmitOrder(ctx, user, sig, mkt)
		if err != nil {
			s.log.Error().Err(err).Str("ticker", sig.Ticker).Msg("order submission failed")
			continue
		}
		trades = append(trades, trade)
	}
	return trades
}

// RunCycle runs one full generate -> monitor -> execute pass, the unit
// of work that serve's run-cycle job calls every 5 minutes inside the
// trading window.
func (s *Service) RunCycle(ctx context.Context, user string, now time.Time) (int, error) {
	if halted, err := s.Store.IsHalted(ctx, user); err != nil {
		return 0, fmt.Errorf("app: halt check: %w", err)
	} else if halted {
		s.log.Warn().Str("user", user).Msg("trading halted, skipping entry generation this cycle")
		exits, err := s.MonitorPositions(ctx, user, now)
		if err != nil {
			return 0, err
		}
		trades := s.ExecuteSignals(ctx, user, exits, nil)
		return len(trades), nil
	}

	entries, err := s.GenerateSignals(ctx, user, now)
	if err != nil {
		return 0, err
	}
	exits, err := s.MonitorPositions(ctx, user, now)
	if err != nil {
		return 0, err
	}

	watchlist, err := s.Watchlist.Watchlist(ctx, user)
	if err != nil {
		return 0, err
	}
	byTicker := make(map[string]WatchlistEntry, len(watchlist))
	for _, e := range watchlist {
		byTicker[e.Ticker] = e
	}

	all := append(entries, exits...)
	trades := s.ExecuteSignals(ctx, user, all, byTicker)
	return len(trades), nil
}
