package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxtrader/engine/internal/broker"
	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/portfolio"
)

func newTestExecutor() (*Executor, *portfolio.MemoryStore) {
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(100_000_000))

	b := broker.NewPaperBroker(decimal.NewFromInt(100_000_000), broker.DefaultSlippageConfig())
	ledger := NewMemoryLedger(store)
	calc := NewCalculator(DefaultFeeSchedules())

	return NewExecutor(b, ledger, calc, zerolog.Nop()), store
}

func TestExecutor_SubmitOrder_FillsAndUpdatesPosition(t *testing.T) {
	executor, store := newTestExecutor()

	signal := domain.TradingSignal{
		SignalID:          "sig-1",
		Kind:              domain.SignalEntryBuy,
		Ticker:            "005930",
		GeneratedAt:       time.Now(),
		RecommendedShares: 10,
		LimitPrice:        decimal.NewFromInt(70_000),
		OrderType:         domain.OrderTypeLimit,
	}

	trade, err := executor.SubmitOrder(context.Background(), "alice", signal, domain.MarketKOSPI)
	require.NoError(t, err)
	assert.Equal(t, domain.TradeStatusFilled, trade.Status)
	assert.EqualValues(t, 10, trade.ExecutedQty)

	pos, err := store.GetPosition(context.Background(), "alice", "005930")
	require.NoError(t, err)
	assert.EqualValues(t, 10, pos.Quantity)
}

func TestExecutor_SubmitOrder_IsIdempotent(t *testing.T) {
	executor, _ := newTestExecutor()

	signal := domain.TradingSignal{
		SignalID:          "sig-2",
		Kind:              domain.SignalEntryBuy,
		Ticker:            "005930",
		GeneratedAt:       time.Now(),
		RecommendedShares: 10,
		LimitPrice:        decimal.NewFromInt(70_000),
		OrderType:         domain.OrderTypeLimit,
	}

	first, err := executor.SubmitOrder(context.Background(), "alice", signal, domain.MarketKOSPI)
	require.NoError(t, err)

	second, err := executor.SubmitOrder(context.Background(), "alice", signal, domain.MarketKOSPI)
	require.NoError(t, err)

	assert.Equal(t, first.OrderID, second.OrderID)
	assert.Equal(t, first.ExecutedPrice.String(), second.ExecutedPrice.String())
}

func TestExecutor_SubmitOrder_SellAppliesCommissionAndTax(t *testing.T) {
	executor, store := newTestExecutor()
	ctx := context.Background()

	buy := domain.TradingSignal{
		SignalID: "sig-buy", Kind: domain.SignalEntryBuy, Ticker: "005930",
		GeneratedAt: time.Now(), RecommendedShares: 10,
		LimitPrice: decimal.NewFromInt(70_000), OrderType: domain.OrderTypeLimit,
	}
	_, err := executor.SubmitOrder(ctx, "alice", buy, domain.MarketKOSPI)
	require.NoError(t, err)

	sell := domain.TradingSignal{
		SignalID: "sig-sell", Kind: domain.SignalExitSell, Ticker: "005930",
		GeneratedAt: time.Now(), RecommendedShares: 10,
		LimitPrice: decimal.NewFromInt(75_000), OrderType: domain.OrderTypeLimit,
	}
	trade, err := executor.SubmitOrder(ctx, "alice", sell, domain.MarketKOSPI)
	require.NoError(t, err)

	assert.True(t, trade.Tax.GreaterThan(decimal.Zero))
	assert.True(t, trade.Commission.GreaterThan(decimal.Zero))

	pos, err := store.GetPosition(ctx, "alice", "005930")
	require.NoError(t, err)
	assert.EqualValues(t, 0, pos.Quantity)
}

func TestExecutor_SubmitOrder_BuySeedsProtectiveLimitsOnNewPosition(t *testing.T) {
	executor, store := newTestExecutor()
	ctx := context.Background()

	buy := domain.TradingSignal{
		SignalID: "sig-seed", Kind: domain.SignalEntryBuy, Ticker: "005930",
		GeneratedAt: time.Now(), RecommendedShares: 10,
		LimitPrice: decimal.NewFromInt(70_000), OrderType: domain.OrderTypeLimit,
		StopLossPct: decimal.NewFromInt(10), TakeProfitPct: decimal.NewFromInt(20),
		TrailingStopEnabled: true, TrailingStopDistancePct: decimal.NewFromInt(10),
	}
	_, err := executor.SubmitOrder(ctx, "alice", buy, domain.MarketKOSPI)
	require.NoError(t, err)

	pos, err := store.GetPosition(ctx, "alice", "005930")
	require.NoError(t, err)

	avg := pos.AvgPrice
	wantStop := avg.Mul(decimal.NewFromInt(90)).Div(decimal.NewFromInt(100))
	wantTake := avg.Mul(decimal.NewFromInt(120)).Div(decimal.NewFromInt(100))
	assert.True(t, pos.StopLossPrice.Equal(wantStop), "stop-loss price: got %s want %s", pos.StopLossPrice, wantStop)
	assert.True(t, pos.TakeProfitPrice.Equal(wantTake), "take-profit price: got %s want %s", pos.TakeProfitPrice, wantTake)
	assert.True(t, pos.TrailingStopEnabled)
	assert.True(t, pos.HighestPriceSincePurchase.Equal(avg))
	wantTrail := avg.Mul(decimal.NewFromInt(90)).Div(decimal.NewFromInt(100))
	assert.True(t, pos.TrailingStopPrice.Equal(wantTrail), "trailing stop price: got %s want %s", pos.TrailingStopPrice, wantTrail)
}

func TestExecutor_SubmitOrder_FullExitBanksRealizedPnLAndArchives(t *testing.T) {
	executor, store := newTestExecutor()
	ctx := context.Background()

	buy := domain.TradingSignal{
		SignalID: "sig-buy-2", Kind: domain.SignalEntryBuy, Ticker: "005930",
		GeneratedAt: time.Now(), RecommendedShares: 10,
		LimitPrice: decimal.NewFromInt(70_000), OrderType: domain.OrderTypeLimit,
	}
	_, err := executor.SubmitOrder(ctx, "alice", buy, domain.MarketKOSPI)
	require.NoError(t, err)

	afterBuy, err := store.GetPosition(ctx, "alice", "005930")
	require.NoError(t, err)
	buyAvgPrice := afterBuy.AvgPrice

	sell := domain.TradingSignal{
		SignalID: "sig-sell-2", Kind: domain.SignalExitSell, Ticker: "005930",
		GeneratedAt: time.Now(), RecommendedShares: 10,
		LimitPrice: decimal.NewFromInt(75_000), OrderType: domain.OrderTypeLimit,
	}
	trade, err := executor.SubmitOrder(ctx, "alice", sell, domain.MarketKOSPI)
	require.NoError(t, err)

	pos, err := store.GetPosition(ctx, "alice", "005930")
	require.NoError(t, err)
	assert.True(t, pos.Archived, "expected position archived on full exit")

	fees := trade.Commission.Add(trade.Tax)
	wantRealized := trade.ExecutedPrice.Sub(buyAvgPrice).
		Mul(decimal.NewFromInt(trade.ExecutedQty)).Sub(fees)
	assert.True(t, pos.RealizedPnL.Equal(wantRealized), "realized pnl: got %s want %s", pos.RealizedPnL, wantRealized)
}
