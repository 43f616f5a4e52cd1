package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/broker"
	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/errs"
)

// Ledger is the atomic write boundary for SubmitOrder: write the Trade,
// debit/credit cash, and update the Position in one transaction keyed
// by the trade's OrderID. Retries with the same OrderID are idempotent
// — ExecuteTrade returns the already-persisted Trade rather than
// writing twice.
type Ledger interface {
	ExecuteTrade(ctx context.Context, user string, trade domain.Trade) (committed domain.Trade, alreadyExisted bool, err error)
	GetTrade(ctx context.Context, orderID string) (domain.Trade, bool, error)
}

// Executor converts a validated TradingSignal into a Trade, moves it
// through the broker, and commits the result via the Ledger.
type Executor struct {
	broker     broker.Broker
	ledger     Ledger
	calculator *Calculator
	log        zerolog.Logger
}

// NewExecutor builds an Executor.
func NewExecutor(b broker.Broker, ledger Ledger, calculator *Calculator, log zerolog.Logger) *Executor {
	return &Executor{broker: b, ledger: ledger, calculator: calculator, log: log.With().Str("component", "executor").Logger()}
}

// SubmitOrder executes a signal idempotently, using signal.SignalID as
// the order ID: a retry with the same SignalID returns the existing
// Trade rather than placing a second broker order.
func (e *Executor) SubmitOrder(ctx context.Context, user string, signal domain.TradingSignal, market domain.Market) (domain.Trade, error) {
	if existing, found, err := e.ledger.GetTrade(ctx, signal.SignalID); err != nil {
		return domain.Trade{}, fmt.Errorf("execution: check existing trade: %w", err)
	} else if found {
		e.log.Debug().Str("order_id", signal.SignalID).Msg("submit order: idempotent replay")
		return existing, nil
	}

	side := domain.SideBuy
	if signal.Kind == domain.SignalExitSell || signal.Kind == domain.SignalEmergencyLiquidation {
		side = domain.SideSell
	}

	order := broker.Order{
		OrderID:      signal.SignalID,
		Ticker:       signal.Ticker,
		Side:         side,
		Type:         signal.OrderType,
		Quantity:     signal.RecommendedShares,
		LimitPrice:   signal.LimitPrice,
		TriggerPrice: signal.StopLossPrice,
	}

	fill, err := e.broker.PlaceOrder(ctx, order)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("execution: %w: place order: %v", errs.ErrTransient, err)
	}

	trade := domain.Trade{
		OrderID:        signal.SignalID,
		Ticker:         signal.Ticker,
		Side:           side,
		OrderType:      signal.OrderType,
		RequestedQty:   signal.RecommendedShares,
		RequestedPrice: signal.LimitPrice,
		ExecutedQty:    fill.ExecutedQty,
		ExecutedPrice:  fill.ExecutedPrice,
		Status:         fill.Status,
		Reason:         joinReasons(signal.Reasons),
		CreatedAt:      signal.GeneratedAt,
		ExecutedAt:     fill.Timestamp,

		StopLossPct:             signal.StopLossPct,
		TakeProfitPct:           signal.TakeProfitPct,
		TrailingStopEnabled:     signal.TrailingStopEnabled,
		TrailingStopDistancePct: signal.TrailingStopDistancePct,
	}

	if fill.Status == domain.TradeStatusFilled || fill.Status == domain.TradeStatusPartiallyFilled {
		commission, tax, surtax := e.feesFor(market, trade)
		trade.Commission = commission
		trade.Tax = tax.Add(surtax)
		if side == domain.SideBuy {
			trade.TotalAmount = trade.ExecutedPrice.Mul(decimal.NewFromInt(trade.ExecutedQty)).Add(trade.Commission)
		} else {
			trade.TotalAmount = trade.ExecutedPrice.Mul(decimal.NewFromInt(trade.ExecutedQty)).Sub(trade.Commission).Sub(trade.Tax)
		}
	}

	committed, existed, err := e.ledger.ExecuteTrade(ctx, user, trade)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("execution: commit trade: %w", err)
	}
	if existed {
		e.log.Warn().Str("order_id", signal.SignalID).Msg("broker accepted order but ledger already had a trade for this id; returning ledger's record")
	}

	return committed, nil
}

func (e *Executor) feesFor(market domain.Market, trade domain.Trade) (commission, tax, surtax decimal.Decimal) {
	schedules := e.calculator.schedules
	schedule := schedules[market]
	commission = schedule.Commission(trade.ExecutedQty, trade.ExecutedPrice)
	if trade.Side == domain.SideSell {
		tax, surtax = schedule.SellTax(trade.ExecutedQty, trade.ExecutedPrice)
	}
	return
}

// ApplyPartialFill re-enters the code path for a partial fill, carrying
// filled_so_far forward monotonically.
func (e *Executor) ApplyPartialFill(ctx context.Context, user string, orderID string, filledSoFar, remaining int64, price decimal.Decimal) (domain.Trade, error) {
	existing, found, err := e.ledger.GetTrade(ctx, orderID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("execution: partial fill: lookup trade: %w", err)
	}
	if !found {
		return domain.Trade{}, fmt.Errorf("execution: partial fill: %w: no trade for order %s", errs.ErrInvariant, orderID)
	}
	if existing.Status.Terminal() {
		return domain.Trade{}, fmt.Errorf("execution: partial fill: %w: trade %s already terminal", errs.ErrInvariant, orderID)
	}
	if filledSoFar < existing.ExecutedQty {
		return domain.Trade{}, fmt.Errorf("execution: partial fill: %w: filled_so_far %d regresses below %d", errs.ErrInvariant, filledSoFar, existing.ExecutedQty)
	}

	nextStatus := domain.TradeStatusPartiallyFilled
	if remaining == 0 {
		nextStatus = domain.TradeStatusFilled
	}
	if err := Transition(existing.Status, nextStatus); err != nil {
		return domain.Trade{}, err
	}

	existing.ExecutedQty = filledSoFar
	existing.ExecutedPrice = price
	existing.Status = nextStatus
	existing.ExecutedAt = timeNow()

	committed, _, err := e.ledger.ExecuteTrade(ctx, user, existing)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("execution: commit partial fill: %w", err)
	}
	return committed, nil
}

func timeNow() time.Time { return time.Now() }

func joinReasons(reasons []string) string {
	out := ""
	for i, r := range reasons {
		if i > 0 {
			out += "; "
		}
		out += r
	}
	return out
}
