package portfolio

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// MemoryStore is an in-process SnapshotStore for tests and single-user
// paper-mode runs, mirroring the mutex-protected map pattern the paper
// broker uses for its own in-memory state.
type MemoryStore struct {
	mu        sync.RWMutex
	positions map[string]map[string]domain.Position // user -> ticker -> position
	cash      map[string]decimal.Decimal
	metrics   map[string]domain.PortfolioRiskMetrics
	sectors   map[string]string // ticker -> sector, for SectorWeights
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		positions: make(map[string]map[string]domain.Position),
		cash:      make(map[string]decimal.Decimal),
		metrics:   make(map[string]domain.PortfolioRiskMetrics),
		sectors:   make(map[string]string),
	}
}

// SetSector registers a ticker's sector for SectorWeights computation.
func (s *MemoryStore) SetSector(ticker, sector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sectors[ticker] = sector
}

// SetCash sets a user's available cash directly (test/bootstrap helper).
func (s *MemoryStore) SetCash(user string, cash decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cash[user] = cash
}

func (s *MemoryStore) GetPosition(_ context.Context, user, ticker string) (domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byTicker, ok := s.positions[user]
	if !ok {
		return domain.Position{}, ErrNotFound
	}
	pos, ok := byTicker[ticker]
	if !ok {
		return domain.Position{}, ErrNotFound
	}
	return pos, nil
}

func (s *MemoryStore) GetOpenPositions(_ context.Context, user string) ([]domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Position
	for _, pos := range s.positions[user] {
		if pos.Quantity > 0 && !pos.Archived {
			out = append(out, pos)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertPosition(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.User]; !ok {
		s.positions[pos.User] = make(map[string]domain.Position)
	}
	s.positions[pos.User][pos.Ticker] = pos
	return nil
}

func (s *MemoryStore) UpdateTrailing(_ context.Context, user, ticker string, lastPrice decimal.Decimal) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTicker, ok := s.positions[user]
	if !ok {
		return domain.Position{}, ErrNotFound
	}
	pos, ok := byTicker[ticker]
	if !ok {
		return domain.Position{}, ErrNotFound
	}

	pos.CurrentPrice = lastPrice
	pos.CurrentValue = lastPrice.Mul(decimal.NewFromInt(pos.Quantity))

	if pos.TrailingStopEnabled {
		if lastPrice.GreaterThan(pos.HighestPriceSincePurchase) {
			pos.HighestPriceSincePurchase = lastPrice
		}
		candidate := pos.HighestPriceSincePurchase.Mul(
			decimal.NewFromInt(1).Sub(pos.TrailingStopDistancePct.Div(decimal.NewFromInt(100))))
		if candidate.GreaterThan(pos.TrailingStopPrice) {
			pos.TrailingStopPrice = candidate
		}
	}

	byTicker[ticker] = pos
	return pos, nil
}

func (s *MemoryStore) InitializeLimits(_ context.Context, user, ticker string, stopLossPct, takeProfitPct decimal.Decimal, trailingEnabled bool, trailingDistancePct decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTicker, ok := s.positions[user]
	if !ok {
		return ErrNotFound
	}
	pos, ok := byTicker[ticker]
	if !ok {
		return ErrNotFound
	}

	avg := pos.AvgPrice
	pos.StopLossPct = stopLossPct
	pos.TakeProfitPct = takeProfitPct
	pos.StopLossPrice = avg.Mul(decimal.NewFromInt(1).Sub(stopLossPct.Div(decimal.NewFromInt(100))))
	pos.TakeProfitPrice = avg.Mul(decimal.NewFromInt(1).Add(takeProfitPct.Div(decimal.NewFromInt(100))))
	pos.TrailingStopEnabled = trailingEnabled
	pos.TrailingStopDistancePct = trailingDistancePct
	pos.HighestPriceSincePurchase = avg
	if trailingEnabled {
		pos.TrailingStopPrice = avg.Mul(decimal.NewFromInt(1).Sub(trailingDistancePct.Div(decimal.NewFromInt(100))))
	} else {
		pos.TrailingStopPrice = decimal.Zero
	}

	byTicker[ticker] = pos
	return nil
}

func (s *MemoryStore) GetCashBalance(_ context.Context, user string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cash[user], nil
}

func (s *MemoryStore) GetRiskMetrics(_ context.Context, user string) (domain.PortfolioRiskMetrics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[user], nil
}

func (s *MemoryStore) UpdateRiskMetrics(_ context.Context, m domain.PortfolioRiskMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[m.User] = m
	return nil
}

func (s *MemoryStore) SetHaltFlag(_ context.Context, user string, halted bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.metrics[user]
	m.User = user
	m.TradingHalted = halted
	m.HaltReason = reason
	if halted && m.HaltStartedAt.IsZero() {
		m.HaltStartedAt = time.Now()
	}
	if !halted {
		m.HaltStartedAt = time.Time{}
	}
	s.metrics[user] = m
	return nil
}

func (s *MemoryStore) IsHalted(_ context.Context, user string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics[user].TradingHalted, nil
}

func (s *MemoryStore) SectorWeights(_ context.Context, user string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw := map[string]decimal.Decimal{}
	var total decimal.Decimal
	for _, pos := range s.positions[user] {
		if pos.Quantity <= 0 || pos.Archived {
			continue
		}
		sector := s.sectors[pos.Ticker]
		raw[sector] = raw[sector].Add(pos.CurrentValue)
		total = total.Add(pos.CurrentValue)
	}

	weights := make(map[string]decimal.Decimal, len(raw))
	for sector, value := range raw {
		if total.IsZero() {
			weights[sector] = decimal.Zero
			continue
		}
		weights[sector] = value.Div(total).Mul(decimal.NewFromInt(100))
	}
	return weights, nil
}

// Snapshot takes a consistent read under the store's own RLock.
func (s *MemoryStore) Snapshot(_ context.Context, user string) (Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{User: user, Cash: s.cash[user], CapturedAt: time.Now()}
	for _, pos := range s.positions[user] {
		if pos.Quantity > 0 && !pos.Archived {
			snap.Positions = append(snap.Positions, pos)
		}
	}
	return snap, nil
}
