// circuit_breaker.go implements the portfolio drawdown breaker: it
// recomputes total loss from initial capital on every tick and at
// every fill, and when the loss ceiling is reached it sets the halt
// flag and emits one emergency_liquidation signal per open position.
//
// The circuit breaker is the single writer of the halt flag; everything
// else (the Signal Validator, in particular) only reads it.
package risk

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/portfolio"
)

// CircuitBreakerConfig bundles C10's tunables
type CircuitBreakerConfig struct {
	CheckInterval       time.Duration   // default 30 min
	MaxTotalLossPct     decimal.Decimal // default 28%
	WarningThresholdPct decimal.Decimal // fraction of the ceiling; default 80%
}

// DefaultCircuitBreakerConfig returns the standard tunables.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		CheckInterval:       30 * time.Minute,
		MaxTotalLossPct:     decimal.NewFromInt(28),
		WarningThresholdPct: decimal.NewFromInt(80),
	}
}

// CircuitBreaker monitors portfolio drawdown and halts trading when the
// loss ceiling is breached. It is thread-safe and intended to be shared
// across the position-monitor and risk-check jobs.
type CircuitBreaker struct {
	mu     sync.Mutex
	store  portfolio.SnapshotStore
	cfg    CircuitBreakerConfig
	log    zerolog.Logger
	warned map[string]bool // users already warned this drawdown episode
}

// NewCircuitBreaker creates a CircuitBreaker.
func NewCircuitBreaker(store portfolio.SnapshotStore, cfg CircuitBreakerConfig, log zerolog.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		store:  store,
		cfg:    cfg,
		log:    log.With().Str("component", "circuit_breaker").Logger(),
		warned: make(map[string]bool),
	}
}

// Evaluate recomputes drawdown for a user and, if the loss ceiling is
// breached, trips the halt and returns one emergency_liquidation signal
// per open position for the caller to route through the Validator and
// Executor. Returns nil when nothing needs to liquidate.
func (cb *CircuitBreaker) Evaluate(ctx context.Context, user string, now time.Time) ([]domain.TradingSignal, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snapshot, err := cb.store.Snapshot(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker: snapshot: %w", err)
	}
	metrics, err := cb.store.GetRiskMetrics(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("circuit breaker: risk metrics: %w", err)
	}

	portfolioValue := snapshot.TotalValue()

	if metrics.InitialCapital.IsZero() {
		metrics.InitialCapital = portfolioValue
	}
	if portfolioValue.GreaterThan(metrics.PeakValue) {
		metrics.PeakValue = portfolioValue
	}
	if metrics.PeakValue.GreaterThan(decimal.Zero) {
		metrics.CurrentDrawdown = metrics.PeakValue.Sub(portfolioValue).Div(metrics.PeakValue)
	}
	if metrics.CurrentDrawdown.GreaterThan(metrics.MaxDrawdown) {
		metrics.MaxDrawdown = metrics.CurrentDrawdown
	}

	lossPct := decimal.Zero
	if metrics.InitialCapital.GreaterThan(decimal.Zero) {
		lossPct = metrics.InitialCapital.Sub(portfolioValue).Div(metrics.InitialCapital).Mul(decimal.NewFromInt(100))
	}
	if lossPct.LessThan(decimal.Zero) {
		lossPct = decimal.Zero
	}
	metrics.TotalValue = portfolioValue
	metrics.CashBalance = snapshot.Cash
	metrics.TotalLossFromInitialPct = lossPct

	cb.warnIfApproachingCeiling(user, lossPct)

	var signals []domain.TradingSignal
	if lossPct.GreaterThanOrEqual(cb.cfg.MaxTotalLossPct) && !metrics.TradingHalted {
		reason := fmt.Sprintf("total loss %s%% reached ceiling %s%%", lossPct.Round(2), cb.cfg.MaxTotalLossPct)
		if err := cb.store.SetHaltFlag(ctx, user, true, reason); err != nil {
			return nil, fmt.Errorf("circuit breaker: setting halt flag: %w", err)
		}
		metrics.TradingHalted = true
		metrics.HaltReason = reason
		metrics.HaltStartedAt = now

		cb.log.Error().Str("user", user).Str("reason", reason).Msg("circuit breaker tripped: trading halted")

		positions, err := cb.store.GetOpenPositions(ctx, user)
		if err != nil {
			return nil, fmt.Errorf("circuit breaker: open positions: %w", err)
		}
		for _, pos := range positions {
			signals = append(signals, cb.liquidationSignal(user, pos, reason, now))
		}
	}

	if err := cb.store.UpdateRiskMetrics(ctx, metrics); err != nil {
		return nil, fmt.Errorf("circuit breaker: updating risk metrics: %w", err)
	}

	return signals, nil
}

func (cb *CircuitBreaker) liquidationSignal(user string, pos domain.Position, reason string, now time.Time) domain.TradingSignal {
	return domain.TradingSignal{
		SignalID:          fmt.Sprintf("liquidate-%s-%s-%d", user, pos.Ticker, now.UnixNano()),
		Kind:              domain.SignalEmergencyLiquidation,
		User:              user,
		Ticker:            pos.Ticker,
		GeneratedAt:       now,
		CurrentPrice:      pos.CurrentPrice,
		RecommendedShares: pos.Quantity,
		SuggestedQuantity: pos.Quantity,
		OrderType:         domain.OrderTypeMarket,
		Urgency:           domain.UrgencyCritical,
		Reasons:           []string{reason},
		Valid:             true,
	}
}

// warnIfApproachingCeiling logs once per drawdown episode when loss
// crosses 80% of the ceiling step 4. The warned flag
// clears once loss retreats below the threshold, so a later approach
// warns again.
func (cb *CircuitBreaker) warnIfApproachingCeiling(user string, lossPct decimal.Decimal) {
	warningThreshold := cb.cfg.MaxTotalLossPct.Mul(cb.cfg.WarningThresholdPct).Div(decimal.NewFromInt(100))

	if lossPct.LessThan(warningThreshold) {
		cb.warned[user] = false
		return
	}
	if lossPct.GreaterThanOrEqual(cb.cfg.MaxTotalLossPct) || cb.warned[user] {
		return
	}
	cb.log.Warn().Str("user", user).Str("loss_pct", lossPct.String()).
		Str("ceiling_pct", cb.cfg.MaxTotalLossPct.String()).
		Msg("portfolio loss approaching circuit breaker ceiling")
	cb.warned[user] = true
}

// Reset clears the halt flag. This is the only path that clears a
// trip; it must be an explicit operator action, so callers wire this to
// an authenticated admin surface, never to an automated job.
func (cb *CircuitBreaker) Reset(ctx context.Context, user string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err := cb.store.SetHaltFlag(ctx, user, false, ""); err != nil {
		return fmt.Errorf("circuit breaker: clearing halt flag: %w", err)
	}

	metrics, err := cb.store.GetRiskMetrics(ctx, user)
	if err != nil {
		return fmt.Errorf("circuit breaker: risk metrics: %w", err)
	}
	metrics.TradingHalted = false
	metrics.HaltReason = ""
	if err := cb.store.UpdateRiskMetrics(ctx, metrics); err != nil {
		return fmt.Errorf("circuit breaker: updating risk metrics: %w", err)
	}

	cb.log.Info().Str("user", user).Msg("circuit breaker manually reset")
	delete(cb.warned, user)
	return nil
}
