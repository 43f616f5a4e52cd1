package execution

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/portfolio"
)

// MemoryLedger is an in-process Ledger for tests and for running the
// engine against a single in-memory Portfolio Store without Postgres.
// It wraps a portfolio.Store so cash and positions move alongside the
// trade record, the same way PostgresLedger's transaction does.
type MemoryLedger struct {
	mu     sync.Mutex
	trades map[string]domain.Trade
	store  *portfolio.MemoryStore
}

// NewMemoryLedger creates a ledger backed by store. Pass nil to track
// trades only, useful when a test only cares about idempotency.
func NewMemoryLedger(store *portfolio.MemoryStore) *MemoryLedger {
	return &MemoryLedger{trades: make(map[string]domain.Trade), store: store}
}

func (l *MemoryLedger) GetTrade(_ context.Context, orderID string) (domain.Trade, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	trade, ok := l.trades[orderID]
	return trade, ok, nil
}

func (l *MemoryLedger) ExecuteTrade(ctx context.Context, user string, trade domain.Trade) (domain.Trade, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.trades[trade.OrderID]; ok {
		return existing, true, nil
	}

	if l.store != nil && (trade.Status == domain.TradeStatusFilled || trade.Status == domain.TradeStatusPartiallyFilled) {
		if err := l.applyToStore(ctx, user, trade); err != nil {
			return domain.Trade{}, false, fmt.Errorf("memory ledger: %w", err)
		}
	}

	l.trades[trade.OrderID] = trade
	return trade, false, nil
}

func (l *MemoryLedger) applyToStore(ctx context.Context, user string, trade domain.Trade) error {
	cash, err := l.store.GetCashBalance(ctx, user)
	if err != nil {
		return err
	}

	notional := trade.ExecutedPrice.Mul(decimal.NewFromInt(trade.ExecutedQty))
	if trade.Side == domain.SideBuy {
		cash = cash.Sub(notional).Sub(trade.Commission)
	} else {
		cash = cash.Add(notional).Sub(trade.Commission).Sub(trade.Tax)
	}
	l.store.SetCash(user, cash)

	pos, err := l.store.GetPosition(ctx, user, trade.Ticker)
	if err != nil && err != portfolio.ErrNotFound {
		return err
	}
	wasFlat := err == portfolio.ErrNotFound || pos.Quantity <= 0
	if err == portfolio.ErrNotFound {
		pos = domain.Position{User: user, Ticker: trade.Ticker, FirstPurchaseAt: trade.ExecutedAt}
	}

	if trade.Side == domain.SideBuy {
		totalQty := pos.Quantity + trade.ExecutedQty
		if totalQty > 0 {
			pos.AvgPrice = pos.AvgPrice.Mul(decimal.NewFromInt(pos.Quantity)).
				Add(trade.ExecutedPrice.Mul(decimal.NewFromInt(trade.ExecutedQty))).
				Div(decimal.NewFromInt(totalQty))
		}
		pos.Quantity = totalQty
		pos.InvestedAmount = pos.InvestedAmount.Add(notional)
	} else {
		pos.Quantity -= trade.ExecutedQty
		fees := trade.Commission.Add(trade.Tax)
		realized := trade.ExecutedPrice.Sub(pos.AvgPrice).Mul(decimal.NewFromInt(trade.ExecutedQty)).Sub(fees)
		pos.RealizedPnL = pos.RealizedPnL.Add(realized)
	}
	pos.Archived = pos.Quantity <= 0
	pos.CurrentPrice = trade.ExecutedPrice
	pos.CurrentValue = trade.ExecutedPrice.Mul(decimal.NewFromInt(pos.Quantity))
	pos.LastTransactionAt = trade.ExecutedAt

	if err := l.store.UpsertPosition(ctx, pos); err != nil {
		return err
	}

	if trade.Side == domain.SideBuy && wasFlat {
		if err := l.store.InitializeLimits(ctx, user, trade.Ticker,
			trade.StopLossPct, trade.TakeProfitPct, trade.TrailingStopEnabled, trade.TrailingStopDistancePct); err != nil {
			return fmt.Errorf("initialize limits: %w", err)
		}
	}

	return nil
}
