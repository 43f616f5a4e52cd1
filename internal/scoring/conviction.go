package scoring

import (
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// Weights is the weight vector the conviction scorer combines sub-scores
// with. Must sum to 1.0 within 1e-6.
type Weights struct {
	Value    decimal.Decimal
	Momentum decimal.Decimal
	Volume   decimal.Decimal
	Quality  decimal.Decimal
}

// DefaultWeights returns the standard default weight vector.
func DefaultWeights() Weights {
	return Weights{
		Value:    decimal.NewFromFloat(0.30),
		Momentum: decimal.NewFromFloat(0.30),
		Volume:   decimal.NewFromFloat(0.20),
		Quality:  decimal.NewFromFloat(0.20),
	}
}

// Sum adds the four weights. The scorer validates this against 1.0.
func (w Weights) Sum() decimal.Decimal {
	return w.Value.Add(w.Momentum).Add(w.Volume).Add(w.Quality)
}

var weightTolerance = decimal.New(1, -6) // 1e-6

// ConvictionScorer combines the composite sub-scores and a volume ratio
// into a single 0-100 conviction score plus human-readable reasons.
type ConvictionScorer struct {
	weights Weights
}

// NewConvictionScorer builds a scorer with the given weights. Panics if
// the weights do not sum to 1.0 within tolerance: a misconfigured weight
// vector is a startup-time configuration error, not a runtime one.
func NewConvictionScorer(weights Weights) *ConvictionScorer {
	diff := weights.Sum().Sub(decimal.NewFromInt(1)).Abs()
	if diff.GreaterThan(weightTolerance) {
		panic("scoring: conviction weights must sum to 1.0, got " + weights.Sum().String())
	}
	return &ConvictionScorer{weights: weights}
}

// Result is the scorer's output: the 0-100 score plus the reasons that
// justify it, ready to attach to a TradingSignal.
type Result struct {
	Score   decimal.Decimal
	Reasons []string
}

// Score combines the reading's composite sub-scores and volume ratio
// into a conviction score:
//
//	volume_component = piecewise linear mapping of current_volume/volume_ma_20
//	conviction = value*w.Value + momentum*w.Momentum + volume*w.Volume + quality*w.Quality
func (s *ConvictionScorer) Score(reading Reading) Result {
	composite := reading.Score
	tech := reading.Technical

	volumeComponent := volumeRatioComponent(tech.Volume, tech.VolumeMA20)

	weighted := composite.ValueScore.Mul(s.weights.Value).
		Add(composite.MomentumScore.Mul(s.weights.Momentum)).
		Add(volumeComponent.Mul(s.weights.Volume)).
		Add(composite.QualityScore.Mul(s.weights.Quality))

	score := clamp0to100(weighted.Round(2))

	return Result{
		Score:   score,
		Reasons: reasons(composite, volumeComponent, score),
	}
}

// volumeRatioComponent maps current_volume/volume_ma_20 to a 0-100
// component via the piecewise-linear rule:
//
//	ratio < 0.5          -> 0
//	0.5  <= ratio < 1.0  -> linear 0..50
//	1.0  <= ratio < 1.5  -> linear 50..100
//	ratio >= 1.5         -> 100
func volumeRatioComponent(volume int64, volumeMA20 decimal.Decimal) decimal.Decimal {
	if volumeMA20.IsZero() {
		return decimal.NewFromInt(50) // no baseline: treat as neutral
	}

	ratio := decimal.NewFromInt(volume).Div(volumeMA20)

	switch {
	case ratio.LessThan(decimal.NewFromFloat(0.5)):
		return decimal.Zero
	case ratio.LessThan(decimal.NewFromFloat(1.0)):
		return lerp(ratio, decimal.NewFromFloat(0.5), decimal.NewFromFloat(1.0), decimal.Zero, decimal.NewFromInt(50))
	case ratio.LessThan(decimal.NewFromFloat(1.5)):
		return lerp(ratio, decimal.NewFromFloat(1.0), decimal.NewFromFloat(1.5), decimal.NewFromInt(50), decimal.NewFromInt(100))
	default:
		return decimal.NewFromInt(100)
	}
}

// lerp linearly interpolates x from [x0,x1] to [y0,y1].
func lerp(x, x0, x1, y0, y1 decimal.Decimal) decimal.Decimal {
	span := x1.Sub(x0)
	if span.IsZero() {
		return y0
	}
	frac := x.Sub(x0).Div(span)
	return y0.Add(frac.Mul(y1.Sub(y0))).Round(2)
}

func clamp0to100(d decimal.Decimal) decimal.Decimal {
	zero, hundred := decimal.Zero, decimal.NewFromInt(100)
	if d.LessThan(zero) {
		return zero
	}
	if d.GreaterThan(hundred) {
		return hundred
	}
	return d
}

var threshold70 = decimal.NewFromInt(70)
var threshold30 = decimal.NewFromInt(30)

func reasons(composite domain.CompositeScore, volumeComponent, total decimal.Decimal) []string {
	var out []string

	if composite.ValueScore.GreaterThanOrEqual(threshold70) {
		out = append(out, "Strong value opportunity")
	}
	if composite.MomentumScore.GreaterThanOrEqual(threshold70) {
		out = append(out, "Strong positive momentum")
	}
	if composite.QualityScore.GreaterThanOrEqual(threshold70) {
		out = append(out, "High quality fundamentals")
	}
	if volumeComponent.GreaterThanOrEqual(decimal.NewFromInt(90)) {
		out = append(out, "Volume surge confirms interest")
	}
	if composite.MomentumScore.LessThanOrEqual(threshold30) {
		out = append(out, "Momentum weak, proceed with caution")
	}
	if total.GreaterThanOrEqual(decimal.NewFromInt(80)) {
		out = append(out, "Overall conviction very high")
	}

	if len(out) == 0 {
		out = append(out, "No standout sub-score")
	}

	return out
}
