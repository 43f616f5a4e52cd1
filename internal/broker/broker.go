// Package broker defines the broker abstraction layer the Order
// Executor (C8) submits orders through.
//
// Design rules:
//   - Only one broker is active per process.
//   - No sizing, scoring, or signal logic lives here — a broker only
//     executes what the executor already decided.
//   - All durable state lives in the Portfolio Store (C2), not in the
//     broker; the paper broker's simulated account exists only in memory.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// Order is a request to execute a quantity of a ticker at or better
// than a reference price.
type Order struct {
	OrderID      string
	Ticker       string
	Side         domain.Side
	Type         domain.OrderType
	Quantity     int64
	LimitPrice   decimal.Decimal // for LIMIT and STOP_LOSS
	TriggerPrice decimal.Decimal // for STOP_LOSS
}

// Fill is what a broker returns once an order has been accepted or
// executed: a partial view of the Trade the executor reconciles against
// its own state machine.
type Fill struct {
	BrokerOrderID string
	Status        domain.TradeStatus
	ExecutedQty   int64
	ExecutedPrice decimal.Decimal
	Message       string
	Timestamp     time.Time
}

// AccountState is the broker-reported view of funds, used by the
// executor's cash check as a cross-check against the Portfolio Store.
type AccountState struct {
	AvailableCash decimal.Decimal
	TotalBalance  decimal.Decimal
}

// Broker is the only contract between the Order Executor and any
// execution venue (paper simulation, a live KRX member-firm API).
type Broker interface {
	GetAccountState(ctx context.Context) (AccountState, error)
	PlaceOrder(ctx context.Context, order Order) (Fill, error)
	CancelOrder(ctx context.Context, brokerOrderID string) error
	GetOrderStatus(ctx context.Context, brokerOrderID string) (Fill, error)
}

// Registry maps broker names to factory functions so the trading
// binary can select paper vs. live at config time without a compiled-in
// switch statement.
var Registry = map[string]func(configJSON []byte) (Broker, error){}

// New creates a broker instance by name using the registry.
func New(name string, configJSON []byte) (Broker, error) {
	factory, ok := Registry[name]
	if !ok {
		return nil, fmt.Errorf("broker: unknown broker %q, registered: %v", name, registeredNames())
	}
	return factory(configJSON)
}

func registeredNames() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	return names
}
