// Package scoring implements the read-only score/indicator lookup (C3)
// and the conviction scorer.
//
// Design rule: screening, indicator computation, and fundamentals are
// external collaborators. This package only reads the
// values they produced; it never computes RSI/MACD/BB/ATR itself.
package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/errs"
	"github.com/krxtrader/engine/internal/market"
)

// Source is the external collaborator that stores composite scores and
// technical/fundamental snapshots. A concrete implementation typically
// reads from the same Postgres database the screener writes to.
type Source interface {
	LatestCompositeScore(ctx context.Context, ticker string) (domain.CompositeScore, error)
	LatestTechnicalSnapshot(ctx context.Context, ticker string) (domain.TechnicalSnapshot, error)
}

// Reading bundles a composite score with the data-quality assessment C3
// is responsible for computing.
type Reading struct {
	Score            domain.CompositeScore
	Technical        domain.TechnicalSnapshot
	DataQualityScore decimal.Decimal // 0-100
	Stale            bool
}

// Reader is the read-only lookup. A reading
// older than MaxDataAge (default 48 market hours, computed via the
// calendar so weekends/holidays don't count against freshness) is
// treated as absent.
type Reader struct {
	source   Source
	calendar *market.Calendar
	maxAge   time.Duration
}

// NewReader creates a Reader. maxAge of zero uses the standard default
// of 48 market hours.
func NewReader(source Source, calendar *market.Calendar, maxAge time.Duration) *Reader {
	if maxAge <= 0 {
		maxAge = 48 * time.Hour
	}
	return &Reader{source: source, calendar: calendar, maxAge: maxAge}
}

// Read fetches the latest composite score and technical snapshot for a
// ticker and evaluates staleness as of `now`. A stale reading is still
// returned (Stale=true) so callers can decide whether to skip or log; a
// reading older than the bound is treated as absent, which the signal
// generator enforces by checking Stale.
func (r *Reader) Read(ctx context.Context, ticker string, now time.Time) (Reading, error) {
	score, err := r.source.LatestCompositeScore(ctx, ticker)
	if err != nil {
		return Reading{}, fmt.Errorf("scoring: read composite score for %s: %w: %v", ticker, errs.ErrDataQuality, err)
	}

	technical, err := r.source.LatestTechnicalSnapshot(ctx, ticker)
	if err != nil {
		return Reading{}, fmt.Errorf("scoring: read technical snapshot for %s: %w: %v", ticker, errs.ErrDataQuality, err)
	}

	age := r.calendar.MarketHoursBetween(score.Date, now)
	stale := age > r.maxAge

	return Reading{
		Score:            score,
		Technical:        technical,
		DataQualityScore: dataQuality(score, technical),
		Stale:            stale,
	}, nil
}

// dataQuality derives a 0-100 score from the fraction of non-null inputs
// across the composite sub-scores and the technical snapshot fields that
// feed the conviction scorer and the signal validator.
func dataQuality(score domain.CompositeScore, tech domain.TechnicalSnapshot) decimal.Decimal {
	fields := []decimal.Decimal{
		score.ValueScore, score.GrowthScore, score.QualityScore, score.MomentumScore,
		tech.RSI14, tech.MACD, tech.SMA20, tech.VolumeMA20,
	}

	nonNull := 0
	for _, f := range fields {
		if !f.IsZero() {
			nonNull++
		}
	}

	pct := decimal.NewFromInt(int64(nonNull)).Div(decimal.NewFromInt(int64(len(fields))))
	return pct.Mul(decimal.NewFromInt(100)).Round(2)
}
