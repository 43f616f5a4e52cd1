// Package portfolio implements the Portfolio Store (C2): the durable
// record of positions, cash, and portfolio-wide risk metrics, plus the
// trading-halt flag the circuit breaker owns.
package portfolio

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// Store is the durable persistence surface every other component reads
// and writes positions and risk metrics through. A Postgres-backed
// implementation lives in postgres.go.
type Store interface {
	// GetPosition returns the (user, ticker) position, or ErrNotFound if none exists.
	GetPosition(ctx context.Context, user, ticker string) (domain.Position, error)

	// GetOpenPositions returns every position with quantity > 0 for a user.
	GetOpenPositions(ctx context.Context, user string) ([]domain.Position, error)

	// UpsertPosition writes a position, creating it if absent.
	UpsertPosition(ctx context.Context, pos domain.Position) error

	// UpdateTrailing advances HighestPriceSincePurchase and
	// TrailingStopPrice for a position given the latest price, never
	// letting the trailing stop price regress.
	UpdateTrailing(ctx context.Context, user, ticker string, lastPrice decimal.Decimal) (domain.Position, error)

	// InitializeLimits seeds a position's protective levels off its
	// current AvgPrice: StopLossPrice/TakeProfitPrice relative to
	// avg-price, and if trailingEnabled, HighestPriceSincePurchase =
	// avg-price and TrailingStopPrice = avg-price * (1 -
	// trailingDistancePct/100). Called once, right after the fill that
	// opens a position (the quantity was zero immediately before it).
	InitializeLimits(ctx context.Context, user, ticker string, stopLossPct, takeProfitPct decimal.Decimal, trailingEnabled bool, trailingDistancePct decimal.Decimal) error

	// GetCashBalance returns the user's available cash.
	GetCashBalance(ctx context.Context, user string) (decimal.Decimal, error)

	// GetRiskMetrics returns the latest PortfolioRiskMetrics snapshot.
	GetRiskMetrics(ctx context.Context, user string) (domain.PortfolioRiskMetrics, error)

	// UpdateRiskMetrics persists a recomputed PortfolioRiskMetrics snapshot.
	UpdateRiskMetrics(ctx context.Context, metrics domain.PortfolioRiskMetrics) error

	// SetHaltFlag sets or clears the trading-halt flag. The circuit
	// breaker is the only caller that should ever invoke this with halted=true.
	SetHaltFlag(ctx context.Context, user string, halted bool, reason string) error

	// IsHalted reads the current halt flag. Tolerates up to 5s staleness
	//: implementations may cache behind a short TTL.
	IsHalted(ctx context.Context, user string) (bool, error)

	// SectorWeights returns the percentage (0-100) of position value held in each
	// sector, used by the concentration checks in the signal validator.
	SectorWeights(ctx context.Context, user string) (map[string]decimal.Decimal, error)
}

// Snapshot is a consistent read of (cash, positions) taken inside a
// single transaction, used by the circuit breaker so it never computes
// drawdown against a torn read of cash vs. positions.
type Snapshot struct {
	User          string
	Cash          decimal.Decimal
	Positions     []domain.Position
	CapturedAt    time.Time
}

// SnapshotStore is implemented by stores that can take a Snapshot inside
// one transaction. The Postgres implementation satisfies this via one
// SERIALIZABLE read-only transaction that reads cash and then positions;
// an in-memory implementation can satisfy it
// by holding its lock across both reads.
type SnapshotStore interface {
	Store
	Snapshot(ctx context.Context, user string) (Snapshot, error)
}

// TotalValue sums a snapshot's cash and every position's current value.
func (s Snapshot) TotalValue() decimal.Decimal {
	total := s.Cash
	for _, p := range s.Positions {
		total = total.Add(p.CurrentValue)
	}
	return total
}

// LargestPositionPct returns the largest single position's share of
// total portfolio value, 0-100.
func (s Snapshot) LargestPositionPct() decimal.Decimal {
	total := s.TotalValue()
	if total.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero
	}
	largest := decimal.Zero
	for _, p := range s.Positions {
		if p.CurrentValue.GreaterThan(largest) {
			largest = p.CurrentValue
		}
	}
	return largest.Div(total).Mul(decimal.NewFromInt(100))
}
