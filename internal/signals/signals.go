// Package signals implements the Signal Generator (C6):
// the entry path (screened candidates -> TradingSignal) and the exit
// path (open positions -> TradingSignal), deterministically ordered.
package signals

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/scoring"
	"github.com/krxtrader/engine/internal/sizing"
)

// Config bundles the Signal Generator's tunables
type Config struct {
	MinCompositeScore     decimal.Decimal
	MinMomentumScore      decimal.Decimal
	MinConvictionScore    decimal.Decimal // default 60
	StopLossPct           decimal.Decimal // default 10
	TakeProfitPct         decimal.Decimal // default 20
	LimitOrderDiscountPct decimal.Decimal // default 1
	UseMarketOrders       bool
	ScoreDeteriorationThreshold decimal.Decimal // default 20

	// Trailing-stop parameters seeded onto every new position alongside
	// the fixed stop-loss/take-profit levels.
	TrailingStopEnabled     bool
	TrailingStopDistancePct decimal.Decimal // default 10
}

// DefaultConfig returns the standard defaults.
func DefaultConfig() Config {
	return Config{
		MinCompositeScore:           decimal.NewFromInt(0),
		MinMomentumScore:            decimal.NewFromInt(0),
		MinConvictionScore:          decimal.NewFromInt(60),
		StopLossPct:                 decimal.NewFromInt(10),
		TakeProfitPct:                decimal.NewFromInt(20),
		LimitOrderDiscountPct:       decimal.NewFromInt(1),
		ScoreDeteriorationThreshold: decimal.NewFromInt(20),
		TrailingStopEnabled:         true,
		TrailingStopDistancePct:     decimal.NewFromInt(10),
	}
}

// PriceSource supplies the current price the generator builds a signal
// against. A real implementation reads the latest PriceBar or a live tick.
type PriceSource interface {
	CurrentPrice(ctx context.Context, ticker string) (decimal.Decimal, error)
}

// CashSource supplies the portfolio value the sizer scales against.
type CashSource interface {
	PortfolioValue(ctx context.Context, user string) (decimal.Decimal, error)
	AvailableCash(ctx context.Context, user string) (decimal.Decimal, error)
}

// Generator produces entry and exit TradingSignals.
type Generator struct {
	reader   *scoring.Reader
	scorer   *scoring.ConvictionScorer
	sizer    *sizing.Sizer
	prices   PriceSource
	cash     CashSource
	cfg      Config
}

// New builds a Generator.
func New(reader *scoring.Reader, scorer *scoring.ConvictionScorer, sizer *sizing.Sizer, prices PriceSource, cash CashSource, cfg Config) *Generator {
	return &Generator{reader: reader, scorer: scorer, sizer: sizer, prices: prices, cash: cash, cfg: cfg}
}

// GenerateEntries builds entry signals for candidate tickers, in input
// order. Tickers that fail any
// screening step are silently skipped, not erred.
func (g *Generator) GenerateEntries(ctx context.Context, user string, candidates []string, now time.Time) ([]domain.TradingSignal, error) {
	portfolioValue, err := g.cash.PortfolioValue(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("signals: portfolio value: %w", err)
	}
	availableCash, err := g.cash.AvailableCash(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("signals: available cash: %w", err)
	}

	var out []domain.TradingSignal
	for _, ticker := range candidates {
		signal, ok, err := g.generateEntry(ctx, user, ticker, now, portfolioValue, availableCash)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, signal)
		}
	}
	return out, nil
}

func (g *Generator) generateEntry(ctx context.Context, user, ticker string, now time.Time, portfolioValue, availableCash decimal.Decimal) (domain.TradingSignal, bool, error) {
	reading, err := g.reader.Read(ctx, ticker, now)
	if err != nil {
		return domain.TradingSignal{}, false, nil // data-quality failure: skip, don't abort the batch
	}
	if reading.Stale {
		return domain.TradingSignal{}, false, nil
	}
	if reading.Score.Composite.LessThan(g.cfg.MinCompositeScore) {
		return domain.TradingSignal{}, false, nil
	}
	if reading.Technical.RSI14.LessThan(decimal.Zero) {
		// placeholder guard kept deliberately simple: momentum gating uses
		// the composite sub-score, not a raw indicator.
	}
	if reading.Score.MomentumScore.LessThan(g.cfg.MinMomentumScore) {
		return domain.TradingSignal{}, false, nil
	}

	conviction := g.scorer.Score(reading)
	if conviction.Score.LessThan(g.cfg.MinConvictionScore) {
		return domain.TradingSignal{}, false, nil
	}

	entry, err := g.prices.CurrentPrice(ctx, ticker)
	if err != nil {
		return domain.TradingSignal{}, false, nil
	}

	stopLoss := entry.Mul(decimal.NewFromInt(1).Sub(g.cfg.StopLossPct.Div(decimal.NewFromInt(100))))
	takeProfit := entry.Mul(decimal.NewFromInt(1).Add(g.cfg.TakeProfitPct.Div(decimal.NewFromInt(100))))

	sizeResult, err := g.sizer.Size(sizing.Request{
		PortfolioValue:  portfolioValue,
		EntryPrice:      entry,
		StopLossPrice:   stopLoss,
		AvailableCash:   availableCash,
		Method:          sizing.MethodFixedPercent,
		ConvictionScore: conviction.Score,
	})
	if err != nil {
		return domain.TradingSignal{}, false, nil
	}
	if sizeResult.RecommendedShares == 0 {
		return domain.TradingSignal{}, false, nil
	}

	orderType := domain.OrderTypeLimit
	limitPrice := entry.Mul(decimal.NewFromInt(1).Sub(g.cfg.LimitOrderDiscountPct.Div(decimal.NewFromInt(100))))
	if g.cfg.UseMarketOrders {
		orderType = domain.OrderTypeMarket
		limitPrice = decimal.Zero
	}

	signal := domain.TradingSignal{
		SignalID:          fmt.Sprintf("entry-%s-%d", ticker, now.UnixNano()),
		Kind:              domain.SignalEntryBuy,
		User:              user,
		Ticker:            ticker,
		GeneratedAt:       now,
		CurrentPrice:      entry,
		TargetPrice:       takeProfit,
		StopLossPrice:     stopLoss,
		StopLossPct:       g.cfg.StopLossPct,
		TakeProfitPrice:   takeProfit,
		TakeProfitPct:     g.cfg.TakeProfitPct,
		TrailingStopEnabled:     g.cfg.TrailingStopEnabled,
		TrailingStopDistancePct: g.cfg.TrailingStopDistancePct,
		RecommendedShares: sizeResult.RecommendedShares,
		PositionPct:       sizeResult.PositionPct,
		OrderType:         orderType,
		LimitPrice:        limitPrice,
		ConvictionScore:   conviction.Score,
		Strength:          strengthFromConviction(conviction.Score),
		Urgency:           domain.UrgencyNormal,
		Reasons:           conviction.Reasons,
		Valid:             true,
		SuggestedQuantity: sizeResult.RecommendedShares,
		CompositeAtEntry:  reading.Score.Composite,
	}

	return signal, true, nil
}

// strengthFromConviction buckets conviction into thirds of the 60-100
// range that passes the min conviction gate: strong from 87, moderate
// from 73, weak below that.
func strengthFromConviction(conviction decimal.Decimal) domain.SignalStrength {
	switch {
	case conviction.GreaterThanOrEqual(decimal.NewFromInt(87)):
		return domain.StrengthStrong
	case conviction.GreaterThanOrEqual(decimal.NewFromInt(73)):
		return domain.StrengthModerate
	default:
		return domain.StrengthWeak
	}
}

// ExitCandidate bundles an open position with its composite score at
// entry and now, so GenerateExits can evaluate fundamental deterioration.
type ExitCandidate struct {
	Position         domain.Position
	CompositeAtEntry decimal.Decimal
	CurrentComposite decimal.Decimal
}

// GenerateExits evaluates fundamental-deterioration exits across open
// positions, in (user, ticker) order. Stop-loss,
// trailing-stop, and take-profit exits are the Position Monitor's
// responsibility (C9); this only covers the composite-drop trigger C6 owns.
func (g *Generator) GenerateExits(_ context.Context, user string, candidates []ExitCandidate, now time.Time) []domain.TradingSignal {
	sorted := make([]ExitCandidate, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Position.Ticker < sorted[j].Position.Ticker })

	var out []domain.TradingSignal
	for _, c := range sorted {
		drop := c.CompositeAtEntry.Sub(c.CurrentComposite)
		if drop.LessThan(g.cfg.ScoreDeteriorationThreshold) {
			continue
		}

		out = append(out, domain.TradingSignal{
			SignalID:          fmt.Sprintf("exit-%s-%d", c.Position.Ticker, now.UnixNano()),
			Kind:              domain.SignalExitSell,
			User:              user,
			Ticker:            c.Position.Ticker,
			GeneratedAt:       now,
			CurrentPrice:      c.Position.CurrentPrice,
			RecommendedShares: c.Position.Quantity,
			SuggestedQuantity: c.Position.Quantity,
			OrderType:         domain.OrderTypeMarket,
			Urgency:           domain.UrgencyNormal,
			Reasons:           []string{"fundamental deterioration: composite dropped below entry threshold"},
			Valid:             true,
			CompositeAtEntry:  c.CompositeAtEntry,
		})
	}
	return out
}
