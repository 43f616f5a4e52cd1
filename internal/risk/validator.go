// Package risk implements the two hard guardrails that sit between a
// TradingSignal and an order reaching the broker: the Signal Validator
// and the portfolio drawdown circuit breaker.
//
// Design rules:
//   - Risk rules are implemented in Go. They cannot be overridden by the
//     strategy or scoring layers.
//   - Every BUY must have a stop loss.
//   - Capital preservation outranks returns: prefer not trading over a
//     bad trade.
package risk

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/execution"
)

// Config bundles the Signal Validator's tunables
type Config struct {
	RequireRecentDataHours    time.Duration
	MinDataQualityScore       decimal.Decimal
	MaxPositions              int
	MaxConcentrationPct       decimal.Decimal
	MaxSectorConcentrationPct decimal.Decimal
	MaxTotalLossPct           decimal.Decimal // default 28-30, see CircuitBreakerConfig
}

// DefaultConfig returns the standard tunables.
func DefaultConfig() Config {
	return Config{
		RequireRecentDataHours:    48 * time.Hour,
		MinDataQualityScore:       decimal.NewFromInt(75),
		MaxPositions:              20,
		MaxConcentrationPct:       decimal.NewFromInt(30),
		MaxSectorConcentrationPct: decimal.NewFromInt(40),
		MaxTotalLossPct:           decimal.NewFromInt(28),
	}
}

// RejectionReason explains why a signal failed validation. A signal can
// accumulate more than one.
type RejectionReason struct {
	Rule    string
	Message string
}

func (r RejectionReason) Error() string {
	return fmt.Sprintf("risk rejected [%s]: %s", r.Rule, r.Message)
}

// ValidationResult is the validator's verdict on a single signal.
type ValidationResult struct {
	Approved         bool
	Signal           domain.TradingSignal
	Rejections       []RejectionReason
	SuggestedQuantity int64
}

// DataQuality is the subset of the C3 reading the validator needs to
// check recency and quality without depending on the scoring package.
type DataQuality struct {
	AsOf             time.Time
	DataQualityScore decimal.Decimal
	Stale            bool
}

// Validator is the final gatekeeper before a signal reaches the
// executor. It is deliberately strict: any failing rule rejects the
// signal outright, even a high-conviction one.
type Validator struct {
	store Store
	fees  *execution.Calculator
	cfg   Config
}

// Store is the subset of portfolio.Store the validator reads.
type Store interface {
	GetOpenPositions(ctx context.Context, user string) ([]domain.Position, error)
	GetCashBalance(ctx context.Context, user string) (decimal.Decimal, error)
	GetRiskMetrics(ctx context.Context, user string) (domain.PortfolioRiskMetrics, error)
	IsHalted(ctx context.Context, user string) (bool, error)
	SectorWeights(ctx context.Context, user string) (map[string]decimal.Decimal, error)
}

// NewValidator creates a Validator.
func NewValidator(store Store, fees *execution.Calculator, cfg Config) *Validator {
	return &Validator{store: store, fees: fees, cfg: cfg}
}

// Validate checks a TradingSignal against every configured rule.
// market selects the fee schedule used to estimate the cash check; dq
// is the data-quality reading the signal was generated from. sector, if
// non-empty, is the ticker's sector for the sector-concentration check.
func (v *Validator) Validate(ctx context.Context, signal domain.TradingSignal, dq DataQuality, market domain.Market, sector string) (ValidationResult, error) {
	result := ValidationResult{Approved: true, Signal: signal}

	if signal.Kind == domain.SignalEmergencyLiquidation {
		return result, nil // emergency liquidation always proceeds; halt is already set
	}

	halted, err := v.store.IsHalted(ctx, signal.User)
	if err != nil {
		return ValidationResult{}, fmt.Errorf("risk: checking halt flag: %w", err)
	}
	if halted && signal.Kind != domain.SignalExitSell {
		v.reject(&result, "TRADING_HALTED", "trading-halt flag is set; only SELL and emergency liquidation proceed")
	}

	if signal.Kind == domain.SignalExitSell || signal.Kind == domain.SignalEmergencyLiquidation {
		return result, nil // SELL is always allowed through the remaining checks
	}

	// Everything below only applies to BUY (entry) signals.
	v.checkDataRecency(&result, dq)
	v.checkDataQuality(&result, dq)

	if err := v.checkPositionCount(ctx, &result, signal); err != nil {
		return ValidationResult{}, err
	}
	if err := v.checkConcentration(ctx, &result, signal); err != nil {
		return ValidationResult{}, err
	}
	if sector != "" {
		if err := v.checkSectorConcentration(ctx, &result, signal, sector); err != nil {
			return ValidationResult{}, err
		}
	}
	if err := v.checkCash(ctx, &result, signal, market); err != nil {
		return ValidationResult{}, err
	}
	if err := v.checkTotalLossCeiling(ctx, &result, signal); err != nil {
		return ValidationResult{}, err
	}

	return result, nil
}

func (v *Validator) checkDataRecency(result *ValidationResult, dq DataQuality) {
	if dq.Stale {
		v.reject(result, "STALE_DATA", fmt.Sprintf(
			"data as of %s exceeds the %s recency requirement", dq.AsOf.Format(time.RFC3339), v.cfg.RequireRecentDataHours))
	}
}

func (v *Validator) checkDataQuality(result *ValidationResult, dq DataQuality) {
	if dq.DataQualityScore.LessThan(v.cfg.MinDataQualityScore) {
		v.reject(result, "LOW_DATA_QUALITY", fmt.Sprintf(
			"data quality %s below minimum %s", dq.DataQualityScore, v.cfg.MinDataQualityScore))
	}
}

func (v *Validator) checkPositionCount(ctx context.Context, result *ValidationResult, signal domain.TradingSignal) error {
	positions, err := v.store.GetOpenPositions(ctx, signal.User)
	if err != nil {
		return fmt.Errorf("risk: open positions: %w", err)
	}

	count := len(positions)
	for _, p := range positions {
		if p.Ticker == signal.Ticker {
			count-- // already holding this ticker: this order adds to it, not a new slot
			break
		}
	}
	if count+1 > v.cfg.MaxPositions {
		v.reject(result, "MAX_POSITIONS", fmt.Sprintf(
			"position count %d would exceed max %d", count+1, v.cfg.MaxPositions))
	}
	return nil
}

func (v *Validator) checkConcentration(ctx context.Context, result *ValidationResult, signal domain.TradingSignal) error {
	metrics, err := v.store.GetRiskMetrics(ctx, signal.User)
	if err != nil {
		return fmt.Errorf("risk: risk metrics: %w", err)
	}
	if metrics.TotalValue.IsZero() {
		return nil
	}

	positionValue := signal.CurrentPrice.Mul(decimal.NewFromInt(signal.RecommendedShares))
	projectedTotal := metrics.TotalValue.Add(positionValue)
	weight := positionValue.Div(projectedTotal).Mul(decimal.NewFromInt(100))

	if weight.GreaterThan(v.cfg.MaxConcentrationPct) {
		maxValue := v.cfg.MaxConcentrationPct.Div(decimal.NewFromInt(100)).Mul(projectedTotal)
		result.SuggestedQuantity = floorDiv(maxValue, signal.CurrentPrice)
		v.reject(result, "MAX_CONCENTRATION", fmt.Sprintf(
			"position weight %s%% exceeds max %s%%", weight.Round(2), v.cfg.MaxConcentrationPct))
	}
	return nil
}

func (v *Validator) checkSectorConcentration(ctx context.Context, result *ValidationResult, signal domain.TradingSignal, sector string) error {
	metrics, err := v.store.GetRiskMetrics(ctx, signal.User)
	if err != nil {
		return fmt.Errorf("risk: risk metrics: %w", err)
	}
	if metrics.TotalValue.IsZero() {
		return nil
	}

	weights, err := v.store.SectorWeights(ctx, signal.User)
	if err != nil {
		return fmt.Errorf("risk: sector weights: %w", err)
	}

	positionValue := signal.CurrentPrice.Mul(decimal.NewFromInt(signal.RecommendedShares))
	projectedTotal := metrics.TotalValue.Add(positionValue)
	current := weights[sector].Div(decimal.NewFromInt(100)).Mul(metrics.TotalValue)
	projectedSectorWeight := current.Add(positionValue).Div(projectedTotal).Mul(decimal.NewFromInt(100))

	if projectedSectorWeight.GreaterThan(v.cfg.MaxSectorConcentrationPct) {
		v.reject(result, "MAX_SECTOR_CONCENTRATION", fmt.Sprintf(
			"sector %q weight %s%% would exceed max %s%%", sector, projectedSectorWeight.Round(2), v.cfg.MaxSectorConcentrationPct))
	}
	return nil
}

func (v *Validator) checkCash(ctx context.Context, result *ValidationResult, signal domain.TradingSignal, market domain.Market) error {
	cash, err := v.store.GetCashBalance(ctx, signal.User)
	if err != nil {
		return fmt.Errorf("risk: cash balance: %w", err)
	}

	price := signal.CurrentPrice
	if signal.OrderType == domain.OrderTypeLimit && !signal.LimitPrice.IsZero() {
		price = signal.LimitPrice
	}
	schedule := v.fees.Schedule(market)
	positionValue := price.Mul(decimal.NewFromInt(signal.RecommendedShares))
	estimatedFees := schedule.CommissionOnNotional(positionValue)
	required := positionValue.Add(estimatedFees)

	if cash.LessThan(required) {
		feeRate := schedule.CommissionPct.Div(decimal.NewFromInt(100))
		affordableShares := floorDiv(cash, price.Mul(decimal.NewFromInt(1).Add(feeRate)))
		result.SuggestedQuantity = affordableShares
		v.reject(result, "INSUFFICIENT_CASH", fmt.Sprintf(
			"cash %s below required %s (position %s + fees %s)", cash, required, positionValue, estimatedFees))
	}
	return nil
}

func (v *Validator) checkTotalLossCeiling(ctx context.Context, result *ValidationResult, signal domain.TradingSignal) error {
	metrics, err := v.store.GetRiskMetrics(ctx, signal.User)
	if err != nil {
		return fmt.Errorf("risk: risk metrics: %w", err)
	}
	if metrics.TotalLossFromInitialPct.GreaterThanOrEqual(v.cfg.MaxTotalLossPct) {
		v.reject(result, "TOTAL_LOSS_CEILING", fmt.Sprintf(
			"total loss %s%% at or above ceiling %s%%", metrics.TotalLossFromInitialPct, v.cfg.MaxTotalLossPct))
	}
	return nil
}

func (v *Validator) reject(result *ValidationResult, rule, message string) {
	result.Approved = false
	result.Rejections = append(result.Rejections, RejectionReason{Rule: rule, Message: message})
}

func floorDiv(numerator, denominator decimal.Decimal) int64 {
	if denominator.IsZero() {
		return 0
	}
	return numerator.Div(denominator).Floor().IntPart()
}
