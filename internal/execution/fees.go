// Package execution implements the Order Executor (C8): the KRX fee
// schedule, the order lifecycle state machine, and the transactional
// SubmitOrder path that moves cash and positions atomically.
package execution

import (
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// FeeSchedule is the commission/tax/surtax catalogue The
// catalogue itself is data so a rate change never requires a code change.
type FeeSchedule struct {
	CommissionPct   decimal.Decimal // both sides
	TransactionTaxPct decimal.Decimal // sell only
	SurtaxPctOfTax  decimal.Decimal // agri/fish surtax, fraction of the tax, sell only
}

// DefaultFeeSchedules returns the per-market fee catalogue.
func DefaultFeeSchedules() map[domain.Market]FeeSchedule {
	kospiKosdaq := FeeSchedule{
		CommissionPct:     decimal.NewFromFloat(0.015),
		TransactionTaxPct: decimal.NewFromFloat(0.23),
		SurtaxPctOfTax:    decimal.NewFromFloat(15),
	}
	konex := FeeSchedule{
		CommissionPct:     decimal.NewFromFloat(0.015),
		TransactionTaxPct: decimal.NewFromFloat(0.10),
		SurtaxPctOfTax:    decimal.NewFromFloat(15),
	}
	return map[domain.Market]FeeSchedule{
		domain.MarketKOSPI:  kospiKosdaq,
		domain.MarketKOSDAQ: kospiKosdaq,
		domain.MarketKONEX:  konex,
	}
}

// Commission computes the commission on one side of a trade.
func (f FeeSchedule) Commission(qty int64, price decimal.Decimal) decimal.Decimal {
	return f.CommissionOnNotional(price.Mul(decimal.NewFromInt(qty)))
}

// CommissionOnNotional computes the commission on an already-computed
// notional value, for callers that only have the position value. Won
// has no subunit, so the result is rounded to the nearest whole won.
func (f FeeSchedule) CommissionOnNotional(notional decimal.Decimal) decimal.Decimal {
	return notional.Mul(f.CommissionPct).Div(decimal.NewFromInt(100)).Round(0)
}

// SellTax computes the transaction tax plus surtax charged only on the
// sell side of a trade, each rounded to the nearest whole won.
func (f FeeSchedule) SellTax(qty int64, sellPrice decimal.Decimal) (tax, surtax decimal.Decimal) {
	notional := sellPrice.Mul(decimal.NewFromInt(qty))
	tax = notional.Mul(f.TransactionTaxPct).Div(decimal.NewFromInt(100)).Round(0)
	surtax = tax.Mul(f.SurtaxPctOfTax).Div(decimal.NewFromInt(100)).Round(0)
	return tax, surtax
}

// Calculator exposes the pure-function fee math the Signal Generator
// calls to compute break-even prices without depending on the executor.
type Calculator struct {
	schedules map[domain.Market]FeeSchedule
}

// NewCalculator creates a fee Calculator from a per-market schedule map.
func NewCalculator(schedules map[domain.Market]FeeSchedule) *Calculator {
	return &Calculator{schedules: schedules}
}

// Schedule returns the FeeSchedule for a market, used by callers that
// need to estimate a single side's commission (the Signal Validator's
// cash check, for instance).
func (c *Calculator) Schedule(market domain.Market) FeeSchedule {
	return c.schedules[market]
}

// RoundTripCost computes buy_commission + sell_commission + transaction_tax
// + surtax for a round trip of qty shares bought at buyPrice and sold at
// sellPrice.
func (c *Calculator) RoundTripCost(market domain.Market, qty int64, buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	schedule := c.schedules[market]
	buyCommission := schedule.Commission(qty, buyPrice)
	sellCommission := schedule.Commission(qty, sellPrice)
	tax, surtax := schedule.SellTax(qty, sellPrice)
	return buyCommission.Add(sellCommission).Add(tax).Add(surtax)
}

// NetPnL computes (sell_price - buy_price)*qty - round_trip_cost.
func (c *Calculator) NetPnL(market domain.Market, qty int64, buyPrice, sellPrice decimal.Decimal) decimal.Decimal {
	gross := sellPrice.Sub(buyPrice).Mul(decimal.NewFromInt(qty))
	return gross.Sub(c.RoundTripCost(market, qty, buyPrice, sellPrice))
}

// BreakEvenSellPrice returns the sell price at which NetPnL is exactly
// zero for a position bought at buyPrice, by bisection (the fee
// schedule is not linear in sellPrice once the tax and surtax are
// included, so no closed form is used).
func (c *Calculator) BreakEvenSellPrice(market domain.Market, qty int64, buyPrice decimal.Decimal) decimal.Decimal {
	lo := buyPrice
	hi := buyPrice.Mul(decimal.NewFromFloat(1.5))

	for i := 0; i < 60; i++ {
		mid := lo.Add(hi).Div(decimal.NewFromInt(2))
		if c.NetPnL(market, qty, buyPrice, mid).GreaterThanOrEqual(decimal.Zero) {
			hi = mid
		} else {
			lo = mid
		}
	}
	return hi.Round(0)
}
