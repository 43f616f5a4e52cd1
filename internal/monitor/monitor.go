// Package monitor implements the Position Monitor (C9):
// a periodic sweep over open positions that advances the trailing stop
// and evaluates exit triggers in priority order.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/portfolio"
)

// PriceSource supplies the last traded price for a ticker.
type PriceSource interface {
	LastPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// TechnicalSource supplies the indicator snapshot the take-profit
// technical trigger reads step 3.
type TechnicalSource interface {
	LatestTechnicalSnapshot(ctx context.Context, ticker string) (domain.TechnicalSnapshot, error)
}

// Config bundles C9's tunables.
type Config struct {
	TakeProfitUseTechnical bool
}

// Monitor sweeps open positions for one user, advancing trailing stops
// and emitting exit signals. Stateless beyond its collaborators; safe
// to invoke concurrently for distinct users.
type Monitor struct {
	store     portfolio.Store
	prices    PriceSource
	technical TechnicalSource
	cfg       Config
	log       zerolog.Logger
}

// New creates a Monitor.
func New(store portfolio.Store, prices PriceSource, technical TechnicalSource, cfg Config, log zerolog.Logger) *Monitor {
	return &Monitor{
		store:     store,
		prices:    prices,
		technical: technical,
		cfg:       cfg,
		log:       log.With().Str("component", "position_monitor").Logger(),
	}
}

// Sweep runs one tick for user: fetch price, advance trailing, evaluate
// triggers, one position after another. A failure evaluating a single
// position is logged and skipped rather than aborting the tick.
func (m *Monitor) Sweep(ctx context.Context, user string, now time.Time) ([]domain.TradingSignal, error) {
	positions, err := m.store.GetOpenPositions(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("monitor: open positions: %w", err)
	}

	var signals []domain.TradingSignal
	for _, pos := range positions {
		select {
		case <-ctx.Done():
			return signals, ctx.Err()
		default:
		}

		signal, err := m.evaluateOne(ctx, user, pos, now)
		if err != nil {
			m.log.Warn().Err(err).Str("ticker", pos.Ticker).Msg("skipping position this tick")
			continue
		}
		if signal != nil {
			signals = append(signals, *signal)
		}
	}
	return signals, nil
}

// evaluateOne fetches last_price, advances the trailing stop, and
// evaluates the trigger priority order against the snapshot of the
// position that UpdateTrailing returns (after the trailing-stop update),
// avoiding torn reads.
func (m *Monitor) evaluateOne(ctx context.Context, user string, pos domain.Position, now time.Time) (*domain.TradingSignal, error) {
	lastPrice, err := m.prices.LastPrice(ctx, pos.Ticker)
	if err != nil {
		return nil, fmt.Errorf("last price: %w", err)
	}
	if lastPrice.LessThanOrEqual(decimal.Zero) {
		return nil, nil
	}

	updated, err := m.store.UpdateTrailing(ctx, user, pos.Ticker, lastPrice)
	if err != nil {
		return nil, fmt.Errorf("update trailing: %w", err)
	}

	snapshot := updated
	snapshot.CurrentPrice = lastPrice

	if trigger := m.evaluateTriggers(ctx, snapshot); trigger != nil {
		return m.buildExit(snapshot, *trigger, now), nil
	}
	return nil, nil
}

type triggerKind string

const (
	triggerStopLoss          triggerKind = "stop_loss"
	triggerTrailingStop      triggerKind = "trailing_stop"
	triggerTakeProfitPrice   triggerKind = "take_profit_price"
	triggerTakeProfitTechnical triggerKind = "take_profit_technical"
)

// evaluateTriggers checks the priority-ordered list of exit conditions
// and returns the first one to fire, or nil.
func (m *Monitor) evaluateTriggers(ctx context.Context, pos domain.Position) *triggerKind {
	if pos.StopLossPrice.GreaterThan(decimal.Zero) && pos.CurrentPrice.LessThanOrEqual(pos.StopLossPrice) {
		t := triggerStopLoss
		return &t
	}
	if pos.TrailingStopEnabled && pos.TrailingStopPrice.GreaterThan(decimal.Zero) && pos.CurrentPrice.LessThanOrEqual(pos.TrailingStopPrice) {
		t := triggerTrailingStop
		return &t
	}
	if pos.TakeProfitPrice.GreaterThan(decimal.Zero) && pos.CurrentPrice.GreaterThanOrEqual(pos.TakeProfitPrice) {
		t := triggerTakeProfitPrice
		return &t
	}
	if m.cfg.TakeProfitUseTechnical && m.technical != nil {
		if m.technicalTakeProfitFires(ctx, pos) {
			t := triggerTakeProfitTechnical
			return &t
		}
	}
	return nil
}

// technicalTakeProfitFires requires at least 2 of 4 conditions: RSI>70,
// MACD bearish crossover, price>BB upper, price >= 1.1*SMA20.
func (m *Monitor) technicalTakeProfitFires(ctx context.Context, pos domain.Position) bool {
	snap, err := m.technical.LatestTechnicalSnapshot(ctx, pos.Ticker)
	if err != nil {
		return false
	}

	votes := 0
	if snap.RSI14.GreaterThan(decimal.NewFromInt(70)) {
		votes++
	}
	if snap.MACD.LessThan(snap.MACDSignal) {
		votes++
	}
	if pos.CurrentPrice.GreaterThan(snap.BollingerUp) {
		votes++
	}
	if pos.CurrentPrice.GreaterThanOrEqual(snap.SMA20.Mul(decimal.NewFromFloat(1.1))) {
		votes++
	}
	return votes >= 2
}

func (m *Monitor) buildExit(pos domain.Position, trigger triggerKind, now time.Time) *domain.TradingSignal {
	signal := domain.TradingSignal{
		SignalID:          fmt.Sprintf("EXIT_%s_%s_%s", trigger, pos.Ticker, now.Format("20060102_150405")),
		Kind:              domain.SignalExitSell,
		User:              pos.User,
		Ticker:            pos.Ticker,
		GeneratedAt:       now,
		CurrentPrice:      pos.CurrentPrice,
		RecommendedShares: pos.Quantity,
		SuggestedQuantity: pos.Quantity,
		Valid:             true,
	}

	switch trigger {
	case triggerStopLoss:
		signal.Urgency = domain.UrgencyHigh
		signal.OrderType = domain.OrderTypeMarket
		signal.Reasons = []string{"stop-loss triggered"}
	case triggerTrailingStop:
		signal.Urgency = domain.UrgencyHigh
		signal.OrderType = domain.OrderTypeMarket
		signal.Reasons = []string{"trailing-stop triggered"}
	case triggerTakeProfitPrice:
		signal.Urgency = domain.UrgencyNormal
		signal.OrderType = domain.OrderTypeLimit
		signal.LimitPrice = pos.TakeProfitPrice
		signal.Reasons = []string{"take-profit price reached"}
	case triggerTakeProfitTechnical:
		signal.Urgency = domain.UrgencyNormal
		signal.OrderType = domain.OrderTypeLimit
		signal.LimitPrice = pos.CurrentPrice
		signal.Reasons = []string{"take-profit technical confirmation (>=2 of RSI/MACD/BB/SMA)"}
	}

	return &signal
}
