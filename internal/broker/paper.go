// Package broker - paper.go implements the paper trading broker with
// a volume/volatility-scaled slippage model. Orders fill immediately, at a
// price perturbed by a deterministic, seedable bounded random factor so
// paper-mode backtests and tests are reproducible.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// SlippageConfig controls the paper-mode fill-price model:
//
//	slippage_bps = base_bps + (qty/avg_daily_volume)*100*volume_factor + annualised_vol*volatility_factor
//
// perturbed by a bounded uniform random ±20%.
type SlippageConfig struct {
	BaseBps         decimal.Decimal
	VolumeFactor    decimal.Decimal
	VolatilityFactor decimal.Decimal
	Seed            int64
}

// DefaultSlippageConfig returns reasonable paper-mode defaults.
func DefaultSlippageConfig() SlippageConfig {
	return SlippageConfig{
		BaseBps:          decimal.NewFromInt(5),
		VolumeFactor:     decimal.NewFromFloat(0.5),
		VolatilityFactor: decimal.NewFromInt(10),
		Seed:             1,
	}
}

// PaperBroker simulates order execution without touching a live venue.
// All engine logic upstream is identical between paper and live modes;
// only the Broker implementation changes.
type PaperBroker struct {
	mu       sync.Mutex
	rng      *rand.Rand
	slippage SlippageConfig
	account  AccountState
	orders   map[string]*paperOrder
	nextID   int64

	// AvgDailyVolume and AnnualisedVolatility are looked up per ticker by
	// the caller before placing an order; the paper broker itself holds
	// no market-data state.
	avgDailyVolume       map[string]int64
	annualisedVolatility map[string]decimal.Decimal
}

type paperOrder struct {
	order Order
	fill  Fill
}

// NewPaperBroker creates a paper broker seeded with initialCash and the
// given slippage model.
func NewPaperBroker(initialCash decimal.Decimal, slippage SlippageConfig) *PaperBroker {
	return &PaperBroker{
		rng:                  rand.New(rand.NewSource(slippage.Seed)),
		slippage:             slippage,
		account:              AccountState{AvailableCash: initialCash, TotalBalance: initialCash},
		orders:               make(map[string]*paperOrder),
		avgDailyVolume:       make(map[string]int64),
		annualisedVolatility: make(map[string]decimal.Decimal),
	}
}

func init() {
	Registry["paper"] = newPaperBrokerFromConfig
}

type paperBrokerConfig struct {
	InitialCash string `json:"initial_cash"`
	Seed        int64  `json:"seed"`
}

func newPaperBrokerFromConfig(configJSON []byte) (Broker, error) {
	var cfg paperBrokerConfig
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &cfg); err != nil {
			return nil, fmt.Errorf("paper broker: parse config: %w", err)
		}
	}

	initialCash := decimal.NewFromInt(100_000_000)
	if cfg.InitialCash != "" {
		parsed, err := decimal.NewFromString(cfg.InitialCash)
		if err != nil {
			return nil, fmt.Errorf("paper broker: invalid initial_cash: %w", err)
		}
		initialCash = parsed
	}

	slippage := DefaultSlippageConfig()
	if cfg.Seed != 0 {
		slippage.Seed = cfg.Seed
	}

	return NewPaperBroker(initialCash, slippage), nil
}

// SetMarketContext primes the per-ticker inputs the slippage formula
// needs. Callers set it before PlaceOrder; internal/execution's
// executor does not call it.
func (pb *PaperBroker) SetMarketContext(ticker string, avgDailyVolume int64, annualisedVolatility decimal.Decimal) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.avgDailyVolume[ticker] = avgDailyVolume
	pb.annualisedVolatility[ticker] = annualisedVolatility
}

func (pb *PaperBroker) GetAccountState(_ context.Context) (AccountState, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.account, nil
}

// PlaceOrder fills immediately at order.LimitPrice adjusted by the
// slippage model, debiting or crediting cash.
func (pb *PaperBroker) PlaceOrder(_ context.Context, order Order) (Fill, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.nextID++
	brokerOrderID := fmt.Sprintf("PAPER-%d", pb.nextID)

	fillPrice := pb.applySlippage(order)
	cost := fillPrice.Mul(decimal.NewFromInt(order.Quantity))

	if order.Side == domain.SideBuy {
		if cost.GreaterThan(pb.account.AvailableCash) {
			fill := Fill{
				BrokerOrderID: brokerOrderID,
				Status:        domain.TradeStatusRejected,
				Message:       "paper broker: insufficient funds",
				Timestamp:     time.Now(),
			}
			pb.orders[brokerOrderID] = &paperOrder{order: order, fill: fill}
			return fill, nil
		}
		pb.account.AvailableCash = pb.account.AvailableCash.Sub(cost)
	} else {
		pb.account.AvailableCash = pb.account.AvailableCash.Add(cost)
	}

	fill := Fill{
		BrokerOrderID: brokerOrderID,
		Status:        domain.TradeStatusFilled,
		ExecutedQty:   order.Quantity,
		ExecutedPrice: fillPrice,
		Message:       "paper fill",
		Timestamp:     time.Now(),
	}
	pb.orders[brokerOrderID] = &paperOrder{order: order, fill: fill}
	return fill, nil
}

func (pb *PaperBroker) CancelOrder(_ context.Context, brokerOrderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, ok := pb.orders[brokerOrderID]
	if !ok {
		return fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	if po.fill.Status.Terminal() {
		return fmt.Errorf("paper broker: order %s already terminal (%s)", brokerOrderID, po.fill.Status)
	}
	po.fill.Status = domain.TradeStatusCancelled
	return nil
}

func (pb *PaperBroker) GetOrderStatus(_ context.Context, brokerOrderID string) (Fill, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, ok := pb.orders[brokerOrderID]
	if !ok {
		return Fill{}, fmt.Errorf("paper broker: order %s not found", brokerOrderID)
	}
	return po.fill, nil
}

// applySlippage computes the fill price. Caller holds pb.mu.
func (pb *PaperBroker) applySlippage(order Order) decimal.Decimal {
	reference := order.LimitPrice
	if reference.IsZero() {
		return reference
	}

	avgVol := pb.avgDailyVolume[order.Ticker]
	vol := pb.annualisedVolatility[order.Ticker]

	volumeTerm := decimal.Zero
	if avgVol > 0 {
		volumeTerm = decimal.NewFromInt(order.Quantity).
			Div(decimal.NewFromInt(avgVol)).
			Mul(decimal.NewFromInt(100)).
			Mul(pb.slippage.VolumeFactor)
	}
	volatilityTerm := vol.Mul(pb.slippage.VolatilityFactor)

	slippageBps := pb.slippage.BaseBps.Add(volumeTerm).Add(volatilityTerm)

	// Bounded uniform perturbation of +/-20%.
	perturbation := decimal.NewFromFloat(1 + (pb.rng.Float64()*0.4 - 0.2))
	slippageBps = slippageBps.Mul(perturbation)

	sign := decimal.NewFromInt(1)
	if order.Side == domain.SideSell {
		sign = decimal.NewFromInt(-1)
	}

	adjustment := reference.Mul(sign).Mul(slippageBps).Div(decimal.NewFromInt(10_000))
	return reference.Add(adjustment)
}
