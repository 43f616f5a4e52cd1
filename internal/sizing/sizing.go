// Package sizing implements the Position Sizer (C5): five
// sizing policies producing a share count from portfolio value, entry
// and stop prices, and conviction, each clamped by the per-position cap
// and by available cash.
package sizing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Method selects one of the five sizing policies.
type Method string

const (
	MethodFixedPercent       Method = "fixed_percent"
	MethodFixedRisk          Method = "fixed_risk"
	MethodVolatilityAdjusted Method = "volatility_adjusted"
	MethodKellyFull          Method = "kelly_full"
	MethodKellyHalf          Method = "kelly_half"
	MethodKellyQuarter       Method = "kelly_quarter"
)

// HistoricalStats feeds the Kelly methods: win rate and the average
// win/loss ratio computed over the strategy's trade history.
type HistoricalStats struct {
	WinRate decimal.Decimal // p, 0..1
	AvgWin  decimal.Decimal
	AvgLoss decimal.Decimal // positive magnitude
}

// Config bundles the tunables every method reads from.
type Config struct {
	MaxPositionSizePct decimal.Decimal // default 10
	RiskTolerancePct   decimal.Decimal // default 2, used by fixed_risk
	MedianVolatility   decimal.Decimal // annualised, used by volatility_adjusted normalisation
}

// DefaultConfig returns the standard default tunables.
func DefaultConfig() Config {
	return Config{
		MaxPositionSizePct: decimal.NewFromInt(10),
		RiskTolerancePct:   decimal.NewFromInt(2),
		MedianVolatility:   decimal.NewFromFloat(0.30),
	}
}

// Request is the sizer's input for a single sizing decision.
type Request struct {
	PortfolioValue  decimal.Decimal
	EntryPrice      decimal.Decimal
	StopLossPrice   decimal.Decimal
	AvailableCash   decimal.Decimal
	Method          Method
	ConvictionScore decimal.Decimal // 0-100; below 60 zeroes out the position
	Volatility30d   decimal.Decimal // annualised, for volatility_adjusted
	Stats           HistoricalStats // for kelly_*
}

// Result is the sizer's output
type Result struct {
	RecommendedShares int64
	PositionValue     decimal.Decimal
	PositionPct       decimal.Decimal
	Notes             []string
}

// Sizer computes position sizes. Stateless beyond its Config; safe for
// concurrent use across goroutines.
type Sizer struct {
	cfg Config
}

// New creates a Sizer.
func New(cfg Config) *Sizer {
	return &Sizer{cfg: cfg}
}

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

// Size computes recommended_shares, position_value, position_pct, and
// explanatory notes for req using the method named on req.Method.
func (s *Sizer) Size(req Request) (Result, error) {
	if req.PortfolioValue.LessThanOrEqual(zero) {
		return Result{}, fmt.Errorf("sizing: portfolio value must be positive, got %s", req.PortfolioValue)
	}
	if req.EntryPrice.LessThanOrEqual(zero) {
		return Result{}, fmt.Errorf("sizing: entry price must be positive, got %s", req.EntryPrice)
	}

	var notes []string

	f, err := s.fraction(req, &notes)
	if err != nil {
		return Result{}, err
	}

	// Conviction scaling: final_f <- f * clamp((conviction-60)/40, 0, 1).
	convictionMultiplier := clamp01(req.ConvictionScore.Sub(decimal.NewFromInt(60)).Div(decimal.NewFromInt(40)))
	if convictionMultiplier.IsZero() {
		notes = append(notes, "conviction below 60: position sized to zero")
	}
	f = f.Mul(convictionMultiplier)

	// Cap by max_position_size_pct.
	maxFraction := s.cfg.MaxPositionSizePct.Div(hundred)
	if f.GreaterThan(maxFraction) {
		f = maxFraction
		notes = append(notes, "clamped to max_position_size_pct")
	}
	if f.LessThan(zero) {
		f = zero
	}

	positionValue := req.PortfolioValue.Mul(f)

	// Cap by available cash.
	if req.AvailableCash.GreaterThan(zero) && positionValue.GreaterThan(req.AvailableCash) {
		positionValue = req.AvailableCash
		notes = append(notes, "clamped to available cash")
	}

	shares := positionValue.Div(req.EntryPrice).Floor().IntPart()
	if shares < 0 {
		shares = 0
	}

	actualValue := req.EntryPrice.Mul(decimal.NewFromInt(shares))
	positionPct := zero
	if req.PortfolioValue.GreaterThan(zero) {
		positionPct = actualValue.Div(req.PortfolioValue).Mul(hundred)
	}

	if shares == 0 {
		notes = append(notes, "recommended shares is zero")
	}

	return Result{
		RecommendedShares: shares,
		PositionValue:     actualValue,
		PositionPct:       positionPct.Round(4),
		Notes:             notes,
	}, nil
}

// fraction computes the pre-conviction, pre-cap fraction of portfolio
// for the selected method.
func (s *Sizer) fraction(req Request, notes *[]string) (decimal.Decimal, error) {
	switch req.Method {
	case MethodFixedPercent:
		return s.cfg.MaxPositionSizePct.Div(hundred), nil

	case MethodFixedRisk:
		return s.fixedRiskFraction(req, notes)

	case MethodVolatilityAdjusted:
		return s.volatilityAdjustedFraction(req, notes)

	case MethodKellyFull:
		kelly, err := kellyFraction(req.Stats)
		if err != nil {
			*notes = append(*notes, err.Error())
			return zero, nil
		}
		return clampFraction(kelly, s.cfg.MaxPositionSizePct.Div(hundred), notes), nil

	case MethodKellyHalf:
		kelly, err := kellyFraction(req.Stats)
		if err != nil {
			*notes = append(*notes, err.Error())
			return zero, nil
		}
		return clampFraction(kelly.Mul(decimal.NewFromFloat(0.5)), s.cfg.MaxPositionSizePct.Div(hundred), notes), nil

	case MethodKellyQuarter:
		kelly, err := kellyFraction(req.Stats)
		if err != nil {
			*notes = append(*notes, err.Error())
			return zero, nil
		}
		return clampFraction(kelly.Mul(decimal.NewFromFloat(0.25)), s.cfg.MaxPositionSizePct.Div(hundred), notes), nil

	default:
		return zero, fmt.Errorf("sizing: unknown method %q", req.Method)
	}
}

// fixedRiskFraction: risk = risk_tolerance/100; per-share-risk = entry -
// stop; shares = floor(portfolio*risk / per-share-risk); expressed back
// as a fraction of portfolio value so the shared cap/cash logic applies
// uniformly across methods.
func (s *Sizer) fixedRiskFraction(req Request, notes *[]string) (decimal.Decimal, error) {
	perShareRisk := req.EntryPrice.Sub(req.StopLossPrice)
	if perShareRisk.LessThanOrEqual(zero) {
		return zero, fmt.Errorf("sizing: fixed_risk requires stop below entry, got entry=%s stop=%s", req.EntryPrice, req.StopLossPrice)
	}

	risk := s.cfg.RiskTolerancePct.Div(hundred)
	riskAmount := req.PortfolioValue.Mul(risk)
	shares := riskAmount.Div(perShareRisk).Floor()
	positionValue := shares.Mul(req.EntryPrice)

	return positionValue.Div(req.PortfolioValue), nil
}

// volatilityAdjustedFraction scales max_position_size_pct inversely to
// the ticker's 30-day annualised volatility relative to the configured
// median, so a median-vol stock receives exactly max_position_size_pct.
func (s *Sizer) volatilityAdjustedFraction(req Request, notes *[]string) (decimal.Decimal, error) {
	if req.Volatility30d.LessThanOrEqual(zero) || s.cfg.MedianVolatility.LessThanOrEqual(zero) {
		*notes = append(*notes, "volatility unavailable: falling back to fixed_percent")
		return s.cfg.MaxPositionSizePct.Div(hundred), nil
	}

	maxFraction := s.cfg.MaxPositionSizePct.Div(hundred)
	scaled := maxFraction.Mul(s.cfg.MedianVolatility).Div(req.Volatility30d)
	return scaled, nil
}

// kellyFraction computes f* = p - (1-p)/b, p=win_rate, b=avg_win/avg_loss.
func kellyFraction(stats HistoricalStats) (decimal.Decimal, error) {
	if stats.AvgLoss.LessThanOrEqual(zero) {
		return zero, fmt.Errorf("kelly: avg_loss must be positive, historical stats unavailable")
	}

	p := stats.WinRate
	b := stats.AvgWin.Div(stats.AvgLoss)
	if b.IsZero() {
		return zero, fmt.Errorf("kelly: win/loss ratio is zero")
	}

	return p.Sub(decimal.NewFromInt(1).Sub(p).Div(b)), nil
}

func clampFraction(f, cap decimal.Decimal, notes *[]string) decimal.Decimal {
	if f.LessThan(zero) {
		return zero
	}
	if f.GreaterThan(cap) {
		*notes = append(*notes, "clamped to max_position_size_pct")
		return cap
	}
	return f
}

func clamp01(d decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if d.LessThan(zero) {
		return zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
