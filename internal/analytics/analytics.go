// Package analytics computes performance metrics from closed round
// trips derived from the execution ledger's filled trades.
//
// It provides:
//   - Win rate, total P&L, average P&L
//   - Maximum drawdown (absolute and percentage)
//   - Sharpe ratio (annualized, assuming 252 trading days)
//   - Profit factor (gross profits / gross losses)
//   - Average hold time, min/max hold days
//   - Per-strategy breakdown
//   - Human-readable formatted report
//
// All functions are stateless and work on slices of RoundTrip.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// RoundTrip is one closed position: a buy leg matched FIFO against the
// sell leg(s) that closed it.
type RoundTrip struct {
	Ticker     string
	Strategy   string
	Quantity   int64
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	EntryTime  time.Time
	ExitTime   time.Time
	PnL        decimal.Decimal
}

// RoundTripsFromTrades FIFO-matches BUY trades to SELL trades per
// ticker, yielding one RoundTrip per matched buy/sell lot segment (a
// sell that closes parts of two buys yields two RoundTrips). Trades
// must already be filled (Status == domain.TradeStatusFilled);
// non-filled trades are ignored. Partial fills spanning multiple buys
// split across the matched buys in FIFO order.
func RoundTripsFromTrades(trades []domain.Trade) []RoundTrip {
	sorted := make([]domain.Trade, len(trades))
	copy(sorted, trades)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExecutedAt.Before(sorted[j].ExecutedAt) })

	type lot struct {
		qty   int64
		price decimal.Decimal
		at    time.Time
	}
	openLots := make(map[string][]lot)
	var out []RoundTrip

	for _, t := range sorted {
		if t.Status != domain.TradeStatusFilled {
			continue
		}
		switch t.Side {
		case domain.SideBuy:
			openLots[t.Ticker] = append(openLots[t.Ticker], lot{qty: t.ExecutedQty, price: t.ExecutedPrice, at: t.ExecutedAt})

		case domain.SideSell:
			remaining := t.ExecutedQty
			lots := openLots[t.Ticker]
			for remaining > 0 && len(lots) > 0 {
				l := &lots[0]
				matched := l.qty
				if matched > remaining {
					matched = remaining
				}
				pnl := t.ExecutedPrice.Sub(l.price).Mul(decimal.NewFromInt(matched))
				out = append(out, RoundTrip{
					Ticker:     t.Ticker,
					Strategy:   t.Strategy,
					Quantity:   matched,
					EntryPrice: l.price,
					ExitPrice:  t.ExecutedPrice,
					EntryTime:  l.at,
					ExitTime:   t.ExecutedAt,
					PnL:        pnl,
				})
				l.qty -= matched
				remaining -= matched
				if l.qty == 0 {
					lots = lots[1:]
				}
			}
			openLots[t.Ticker] = lots
		}
	}
	return out
}

// PerformanceReport holds all computed performance metrics.
type PerformanceReport struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       decimal.Decimal // percentage (0-100)

	TotalPnL    decimal.Decimal
	AveragePnL  decimal.Decimal
	GrossProfit decimal.Decimal
	GrossLoss   decimal.Decimal

	MaxDrawdown    decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	SharpeRatio    decimal.Decimal
	ProfitFactor   decimal.Decimal

	AverageHoldDays float64
	MaxHoldDays     int
	MinHoldDays     int

	StrategyReports map[string]*StrategyReport
}

// StrategyReport holds per-strategy performance metrics.
type StrategyReport struct {
	Strategy        string
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	WinRate         decimal.Decimal
	TotalPnL        decimal.Decimal
	AveragePnL      decimal.Decimal
	AverageHoldDays float64
}

// EquityCurvePoint is a point on the running equity curve.
type EquityCurvePoint struct {
	Date     time.Time
	Equity   decimal.Decimal
	Drawdown decimal.Decimal
}

// Analyze computes the full performance report from closed round trips.
// initialCapital is the starting equity. Returns an empty, non-nil
// report if no round trips are provided.
func Analyze(trips []RoundTrip, initialCapital decimal.Decimal) *PerformanceReport {
	report := &PerformanceReport{StrategyReports: make(map[string]*StrategyReport)}
	if len(trips) == 0 {
		return report
	}

	sorted := make([]RoundTrip, len(trips))
	copy(sorted, trips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExitTime.Before(sorted[j].ExitTime) })

	var totalHoldDays float64
	pnls := make([]decimal.Decimal, 0, len(sorted))
	report.MinHoldDays = math.MaxInt32

	for _, rt := range sorted {
		pnls = append(pnls, rt.PnL)
		report.TotalTrades++
		report.TotalPnL = report.TotalPnL.Add(rt.PnL)

		if rt.PnL.IsPositive() {
			report.WinningTrades++
			report.GrossProfit = report.GrossProfit.Add(rt.PnL)
		} else if rt.PnL.IsNegative() {
			report.LosingTrades++
			report.GrossLoss = report.GrossLoss.Add(rt.PnL.Abs())
		}

		holdDays := holdDaysForTrip(rt)
		totalHoldDays += float64(holdDays)
		if holdDays > report.MaxHoldDays {
			report.MaxHoldDays = holdDays
		}
		if holdDays < report.MinHoldDays {
			report.MinHoldDays = holdDays
		}

		sr, ok := report.StrategyReports[rt.Strategy]
		if !ok {
			sr = &StrategyReport{Strategy: rt.Strategy}
			report.StrategyReports[rt.Strategy] = sr
		}
		sr.TotalTrades++
		sr.TotalPnL = sr.TotalPnL.Add(rt.PnL)
		sr.AverageHoldDays += float64(holdDays)
		if rt.PnL.IsPositive() {
			sr.WinningTrades++
		} else if rt.PnL.IsNegative() {
			sr.LosingTrades++
		}
	}

	hundred := decimal.NewFromInt(100)
	n := decimal.NewFromInt(int64(report.TotalTrades))

	report.WinRate = decimal.NewFromInt(int64(report.WinningTrades)).Div(n).Mul(hundred)
	report.AveragePnL = report.TotalPnL.Div(n)
	report.AverageHoldDays = totalHoldDays / float64(report.TotalTrades)

	if report.GrossLoss.IsPositive() {
		report.ProfitFactor = report.GrossProfit.Div(report.GrossLoss)
	} else if report.GrossProfit.IsPositive() {
		report.ProfitFactor = decimal.NewFromInt(1 << 30) // effectively unbounded, no losses to divide by
	}

	equity := initialCapital
	peak := equity
	for _, pnl := range pnls {
		equity = equity.Add(pnl)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		dd := peak.Sub(equity)
		if dd.GreaterThan(report.MaxDrawdown) {
			report.MaxDrawdown = dd
			if peak.IsPositive() {
				report.MaxDrawdownPct = dd.Div(peak).Mul(hundred)
			}
		}
	}

	report.SharpeRatio = computeSharpeRatio(pnls)

	for _, sr := range report.StrategyReports {
		if sr.TotalTrades > 0 {
			strN := decimal.NewFromInt(int64(sr.TotalTrades))
			sr.WinRate = decimal.NewFromInt(int64(sr.WinningTrades)).Div(strN).Mul(hundred)
			sr.AveragePnL = sr.TotalPnL.Div(strN)
			sr.AverageHoldDays = sr.AverageHoldDays / float64(sr.TotalTrades)
		}
	}

	return report
}

// EquityCurve generates the running equity curve from round trips
// sorted by exit time.
func EquityCurve(trips []RoundTrip, initialCapital decimal.Decimal) []EquityCurvePoint {
	if len(trips) == 0 {
		return nil
	}

	sorted := make([]RoundTrip, len(trips))
	copy(sorted, trips)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ExitTime.Before(sorted[j].ExitTime) })

	equity := initialCapital
	peak := equity
	points := make([]EquityCurvePoint, 0, len(sorted)+1)
	points = append(points, EquityCurvePoint{Date: sorted[0].EntryTime, Equity: equity})

	for _, rt := range sorted {
		equity = equity.Add(rt.PnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		points = append(points, EquityCurvePoint{Date: rt.ExitTime, Equity: equity, Drawdown: peak.Sub(equity)})
	}
	return points
}

// FormatReport returns a human-readable text summary of the performance report.
func FormatReport(report *PerformanceReport) string {
	if report == nil || report.TotalTrades == 0 {
		return "No closed round trips to analyze."
	}

	var b strings.Builder
	b.WriteString("===================================================\n")
	b.WriteString("              PERFORMANCE REPORT\n")
	b.WriteString("===================================================\n\n")

	b.WriteString("-- TRADE SUMMARY --\n")
	fmt.Fprintf(&b, "  Total round trips: %d\n", report.TotalTrades)
	fmt.Fprintf(&b, "  Winning:           %d (%s%%)\n", report.WinningTrades, report.WinRate.StringFixed(1))
	fmt.Fprintf(&b, "  Losing:            %d\n\n", report.LosingTrades)

	b.WriteString("-- PROFIT & LOSS --\n")
	fmt.Fprintf(&b, "  Total P&L:    %s\n", report.TotalPnL.StringFixed(2))
	fmt.Fprintf(&b, "  Average P&L:  %s\n", report.AveragePnL.StringFixed(2))
	fmt.Fprintf(&b, "  Gross profit: %s\n", report.GrossProfit.StringFixed(2))
	fmt.Fprintf(&b, "  Gross loss:   %s\n", report.GrossLoss.StringFixed(2))
	fmt.Fprintf(&b, "  Profit factor: %s\n\n", report.ProfitFactor.StringFixed(2))

	b.WriteString("-- RISK METRICS --\n")
	fmt.Fprintf(&b, "  Max drawdown: %s (%s%%)\n", report.MaxDrawdown.StringFixed(2), report.MaxDrawdownPct.StringFixed(2))
	fmt.Fprintf(&b, "  Sharpe ratio: %s\n\n", report.SharpeRatio.StringFixed(2))

	b.WriteString("-- HOLD TIME --\n")
	fmt.Fprintf(&b, "  Average: %.1f days\n", report.AverageHoldDays)
	fmt.Fprintf(&b, "  Min:     %d days\n", report.MinHoldDays)
	fmt.Fprintf(&b, "  Max:     %d days\n\n", report.MaxHoldDays)

	if len(report.StrategyReports) > 1 {
		b.WriteString("-- STRATEGY BREAKDOWN --\n")
		for _, sr := range report.StrategyReports {
			fmt.Fprintf(&b, "  [%s]\n", sr.Strategy)
			fmt.Fprintf(&b, "    Trades: %d | Win rate: %s%% | P&L: %s | Avg hold: %.1f days\n",
				sr.TotalTrades, sr.WinRate.StringFixed(1), sr.TotalPnL.StringFixed(2), sr.AverageHoldDays)
		}
		b.WriteString("\n")
	}

	b.WriteString("===================================================\n")
	return b.String()
}

func holdDaysForTrip(rt RoundTrip) int {
	days := int(rt.ExitTime.Sub(rt.EntryTime).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days
}

// computeSharpeRatio calculates the annualized Sharpe ratio from a
// slice of P&L values, assuming zero risk-free rate and 252 trading days.
func computeSharpeRatio(pnls []decimal.Decimal) decimal.Decimal {
	if len(pnls) < 2 {
		return decimal.Zero
	}

	sum := decimal.Zero
	for _, p := range pnls {
		sum = sum.Add(p)
	}
	n := decimal.NewFromInt(int64(len(pnls)))
	mean := sum.Div(n)

	variance := decimal.Zero
	for _, p := range pnls {
		diff := p.Sub(mean)
		variance = variance.Add(diff.Mul(diff))
	}
	variance = variance.Div(decimal.NewFromInt(int64(len(pnls) - 1)))
	stdDev := decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64()))

	if stdDev.IsZero() {
		return decimal.Zero
	}

	return mean.Div(stdDev).Mul(decimal.NewFromFloat(math.Sqrt(252)))
}
