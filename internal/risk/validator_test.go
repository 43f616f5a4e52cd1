package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/execution"
	"github.com/krxtrader/engine/internal/portfolio"
)

func newTestValidator(cash decimal.Decimal) (*Validator, *portfolio.MemoryStore) {
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", cash)
	calc := execution.NewCalculator(execution.DefaultFeeSchedules())
	return NewValidator(store, calc, DefaultConfig()), store
}

func freshSignal() domain.TradingSignal {
	return domain.TradingSignal{
		SignalID:          "sig-1",
		Kind:              domain.SignalEntryBuy,
		User:              "alice",
		Ticker:            "005930",
		CurrentPrice:      decimal.NewFromInt(70_000),
		RecommendedShares: 10,
		OrderType:         domain.OrderTypeMarket,
		Valid:             true,
	}
}

func freshDQ() DataQuality {
	return DataQuality{AsOf: time.Now(), DataQualityScore: decimal.NewFromInt(90), Stale: false}
}

func TestValidator_ApprovesCleanBuy(t *testing.T) {
	v, _ := newTestValidator(decimal.NewFromInt(100_000_000))
	result, err := v.Validate(context.Background(), freshSignal(), freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.True(t, result.Approved, "%v", result.Rejections)
}

func TestValidator_RejectsStaleData(t *testing.T) {
	v, _ := newTestValidator(decimal.NewFromInt(100_000_000))
	dq := freshDQ()
	dq.Stale = true

	result, err := v.Validate(context.Background(), freshSignal(), dq, domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "STALE_DATA", result.Rejections[0].Rule)
}

func TestValidator_RejectsLowDataQuality(t *testing.T) {
	v, _ := newTestValidator(decimal.NewFromInt(100_000_000))
	dq := freshDQ()
	dq.DataQualityScore = decimal.NewFromInt(50)

	result, err := v.Validate(context.Background(), freshSignal(), dq, domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "LOW_DATA_QUALITY", result.Rejections[0].Rule)
}

func TestValidator_RejectsInsufficientCash(t *testing.T) {
	v, _ := newTestValidator(decimal.NewFromInt(1_000))
	result, err := v.Validate(context.Background(), freshSignal(), freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "INSUFFICIENT_CASH", result.Rejections[0].Rule)
	assert.EqualValues(t, 0, result.SuggestedQuantity)
}

func TestValidator_HaltBlocksBuyButAllowsSell(t *testing.T) {
	v, store := newTestValidator(decimal.NewFromInt(100_000_000))
	require.NoError(t, store.SetHaltFlag(context.Background(), "alice", true, "circuit breaker tripped"))

	buy := freshSignal()
	result, err := v.Validate(context.Background(), buy, freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "TRADING_HALTED", result.Rejections[0].Rule)

	sell := freshSignal()
	sell.Kind = domain.SignalExitSell
	result, err = v.Validate(context.Background(), sell, freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.True(t, result.Approved)
}

func TestValidator_EmergencyLiquidationAlwaysApproved(t *testing.T) {
	v, store := newTestValidator(decimal.NewFromInt(100_000_000))
	require.NoError(t, store.SetHaltFlag(context.Background(), "alice", true, "breach"))

	signal := freshSignal()
	signal.Kind = domain.SignalEmergencyLiquidation

	result, err := v.Validate(context.Background(), signal, freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.True(t, result.Approved)
}

func TestValidator_RejectsMaxPositions(t *testing.T) {
	v, store := newTestValidator(decimal.NewFromInt(1_000_000_000))
	cfg := DefaultConfig()
	cfg.MaxPositions = 1
	v = NewValidator(store, execution.NewCalculator(execution.DefaultFeeSchedules()), cfg)

	require.NoError(t, store.UpsertPosition(context.Background(), domain.Position{
		User: "alice", Ticker: "000660", Quantity: 5, CurrentPrice: decimal.NewFromInt(1000), CurrentValue: decimal.NewFromInt(5000),
	}))

	result, err := v.Validate(context.Background(), freshSignal(), freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "MAX_POSITIONS", result.Rejections[0].Rule)
}

func TestValidator_RejectsTotalLossCeiling(t *testing.T) {
	v, store := newTestValidator(decimal.NewFromInt(100_000_000))
	require.NoError(t, store.UpdateRiskMetrics(context.Background(), domain.PortfolioRiskMetrics{
		User: "alice", TotalLossFromInitialPct: decimal.NewFromInt(30),
	}))

	result, err := v.Validate(context.Background(), freshSignal(), freshDQ(), domain.MarketKOSPI, "")
	require.NoError(t, err)
	assert.False(t, result.Approved)
	assert.Equal(t, "TOTAL_LOSS_CEILING", result.Rejections[0].Rule)
}
