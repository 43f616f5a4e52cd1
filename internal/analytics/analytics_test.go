package analytics

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func makeRoundTrip(ticker, strategy string, entryPrice, exitPrice string, qty int64, holdDays int) RoundTrip {
	entry := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	exit := entry.Add(time.Duration(holdDays) * 24 * time.Hour)
	ep, xp := d(entryPrice), d(exitPrice)
	return RoundTrip{
		Ticker:     ticker,
		Strategy:   strategy,
		Quantity:   qty,
		EntryPrice: ep,
		ExitPrice:  xp,
		EntryTime:  entry,
		ExitTime:   exit,
		PnL:        xp.Sub(ep).Mul(decimal.NewFromInt(qty)),
	}
}

func makeTrade(ticker string, side domain.Side, qty int64, price string, at time.Time) domain.Trade {
	return domain.Trade{
		Ticker:        ticker,
		Side:          side,
		ExecutedQty:   qty,
		ExecutedPrice: d(price),
		Strategy:      "trend_follow_v1",
		Status:        domain.TradeStatusFilled,
		ExecutedAt:    at,
	}
}

func TestRoundTripsFromTrades_SimpleBuySell(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		makeTrade("005930", domain.SideBuy, 10, "70000", base),
		makeTrade("005930", domain.SideSell, 10, "75000", base.Add(3*24*time.Hour)),
	}

	trips := RoundTripsFromTrades(trades)
	if len(trips) != 1 {
		t.Fatalf("expected 1 round trip, got %d", len(trips))
	}
	rt := trips[0]
	if !rt.PnL.Equal(d("50000")) {
		t.Errorf("expected PnL=50000, got %s", rt.PnL)
	}
	if rt.Quantity != 10 {
		t.Errorf("expected qty=10, got %d", rt.Quantity)
	}
}

func TestRoundTripsFromTrades_PartialFIFO(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trades := []domain.Trade{
		makeTrade("005930", domain.SideBuy, 10, "70000", base),
		makeTrade("005930", domain.SideBuy, 10, "72000", base.Add(1*24*time.Hour)),
		makeTrade("005930", domain.SideSell, 15, "75000", base.Add(3*24*time.Hour)),
	}

	trips := RoundTripsFromTrades(trades)
	if len(trips) != 2 {
		t.Fatalf("expected 2 round trips from FIFO split, got %d", len(trips))
	}
	if trips[0].Quantity != 10 || !trips[0].EntryPrice.Equal(d("70000")) {
		t.Errorf("expected first lot fully matched at 70000x10, got qty=%d price=%s", trips[0].Quantity, trips[0].EntryPrice)
	}
	if trips[1].Quantity != 5 || !trips[1].EntryPrice.Equal(d("72000")) {
		t.Errorf("expected second lot partially matched at 72000x5, got qty=%d price=%s", trips[1].Quantity, trips[1].EntryPrice)
	}
}

func TestRoundTripsFromTrades_IgnoresUnfilled(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	trade := makeTrade("005930", domain.SideBuy, 10, "70000", base)
	trade.Status = domain.TradeStatusRejected

	trips := RoundTripsFromTrades([]domain.Trade{trade})
	if len(trips) != 0 {
		t.Errorf("expected 0 round trips for rejected trade, got %d", len(trips))
	}
}

func TestAnalyze_EmptyTrades(t *testing.T) {
	report := Analyze(nil, d("500000"))
	if report == nil {
		t.Fatal("expected non-nil report")
	}
	if report.TotalTrades != 0 {
		t.Errorf("expected 0 trades, got %d", report.TotalTrades)
	}
	if !report.WinRate.IsZero() {
		t.Errorf("expected 0 win rate, got %s", report.WinRate)
	}
}

func TestAnalyze_AllWins(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "trend_follow_v1", "100", "110", 10, 5),
		makeRoundTrip("B", "trend_follow_v1", "200", "220", 5, 3),
		makeRoundTrip("C", "trend_follow_v1", "150", "160", 8, 7),
	}

	report := Analyze(trips, d("500000"))

	if report.TotalTrades != 3 {
		t.Errorf("expected 3 trades, got %d", report.TotalTrades)
	}
	if report.WinningTrades != 3 {
		t.Errorf("expected 3 winning trades, got %d", report.WinningTrades)
	}
	if report.LosingTrades != 0 {
		t.Errorf("expected 0 losing trades, got %d", report.LosingTrades)
	}
	if !report.WinRate.Equal(d("100")) {
		t.Errorf("expected 100%% win rate, got %s%%", report.WinRate)
	}
	// 10*(110-100) + 5*(220-200) + 8*(160-150) = 100 + 100 + 80 = 280
	if !report.TotalPnL.Equal(d("280")) {
		t.Errorf("expected TotalPnL=280, got %s", report.TotalPnL)
	}
	if !report.MaxDrawdown.IsZero() {
		t.Errorf("expected 0 drawdown for all wins, got %s", report.MaxDrawdown)
	}
}

func TestAnalyze_AllLosses(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "trend_follow_v1", "100", "90", 10, 5),
		makeRoundTrip("B", "trend_follow_v1", "200", "180", 5, 3),
	}

	report := Analyze(trips, d("500000"))

	if !report.WinRate.IsZero() {
		t.Errorf("expected 0%% win rate, got %s%%", report.WinRate)
	}
	if !report.TotalPnL.IsNegative() {
		t.Errorf("expected negative PnL, got %s", report.TotalPnL)
	}
	// 10*(90-100) + 5*(180-200) = -100 + -100 = -200
	if !report.TotalPnL.Equal(d("-200")) {
		t.Errorf("expected TotalPnL=-200, got %s", report.TotalPnL)
	}
	if !report.MaxDrawdown.Equal(d("200")) {
		t.Errorf("expected MaxDrawdown=200, got %s", report.MaxDrawdown)
	}
	if !report.ProfitFactor.IsZero() {
		t.Errorf("expected ProfitFactor=0 (no profits), got %s", report.ProfitFactor)
	}
}

func TestAnalyze_MixedTrades(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("WIN1", "trend_follow_v1", "100", "120", 10, 5),  // +200
		makeRoundTrip("LOSS1", "trend_follow_v1", "100", "90", 10, 3),  // -100
		makeRoundTrip("WIN2", "trend_follow_v1", "100", "115", 10, 7),  // +150
		makeRoundTrip("LOSS2", "trend_follow_v1", "100", "85", 10, 2),  // -150
	}

	report := Analyze(trips, d("500000"))

	if report.TotalTrades != 4 {
		t.Errorf("expected 4 trades, got %d", report.TotalTrades)
	}
	if report.WinningTrades != 2 {
		t.Errorf("expected 2 wins, got %d", report.WinningTrades)
	}
	if !report.WinRate.Equal(d("50")) {
		t.Errorf("expected 50%% win rate, got %s%%", report.WinRate)
	}
	// Total PnL = 200 - 100 + 150 - 150 = 100
	if !report.TotalPnL.Equal(d("100")) {
		t.Errorf("expected TotalPnL=100, got %s", report.TotalPnL)
	}
	// GrossProfit = 200 + 150 = 350, GrossLoss = 100 + 150 = 250
	if !report.GrossProfit.Equal(d("350")) {
		t.Errorf("expected GrossProfit=350, got %s", report.GrossProfit)
	}
	if !report.GrossLoss.Equal(d("250")) {
		t.Errorf("expected GrossLoss=250, got %s", report.GrossLoss)
	}
	// ProfitFactor = 350 / 250 = 1.4
	pf, _ := report.ProfitFactor.Float64()
	if math.Abs(pf-1.4) > 0.01 {
		t.Errorf("expected ProfitFactor=1.4, got %s", report.ProfitFactor)
	}
}

func TestAnalyze_MaxDrawdown(t *testing.T) {
	// Sequence: +100, -200, -100, +500
	// Equity: 500000 → 500100 → 499900 → 499800 → 500300
	// Peak = 500100, lowest after = 499800, drawdown = 300
	trips := []RoundTrip{
		makeRoundTrip("A", "s1", "100", "110", 10, 1), // +100
		makeRoundTrip("B", "s1", "100", "80", 10, 2),  // -200
		makeRoundTrip("C", "s1", "100", "90", 10, 3),  // -100
		makeRoundTrip("D", "s1", "100", "150", 10, 4), // +500
	}

	report := Analyze(trips, d("500000"))

	if !report.MaxDrawdown.Equal(d("300")) {
		t.Errorf("expected MaxDrawdown=300, got %s", report.MaxDrawdown)
	}
}

func TestAnalyze_SharpeRatio_ZeroVariance(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "s1", "100", "110", 10, 1),
		makeRoundTrip("B", "s1", "100", "110", 10, 2),
		makeRoundTrip("C", "s1", "100", "110", 10, 3),
	}

	report := Analyze(trips, d("500000"))

	if !report.SharpeRatio.IsZero() {
		t.Errorf("expected Sharpe=0 for zero stddev, got %s", report.SharpeRatio)
	}
}

func TestAnalyze_SharpeRatio_Varied(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "s1", "100", "120", 10, 1), // +200
		makeRoundTrip("B", "s1", "100", "90", 10, 2),  // -100
		makeRoundTrip("C", "s1", "100", "130", 10, 3), // +300
		makeRoundTrip("D", "s1", "100", "95", 10, 4),  // -50
	}

	report := Analyze(trips, d("500000"))

	if !report.SharpeRatio.IsPositive() {
		t.Errorf("expected positive Sharpe for net positive returns, got %s", report.SharpeRatio)
	}
}

func TestAnalyze_StrategyBreakdown(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "trend_follow_v1", "100", "110", 10, 5),
		makeRoundTrip("B", "trend_follow_v1", "100", "120", 10, 3),
		makeRoundTrip("C", "mean_reversion_v1", "100", "105", 10, 7),
		makeRoundTrip("D", "mean_reversion_v1", "100", "90", 10, 4),
	}

	report := Analyze(trips, d("500000"))

	if len(report.StrategyReports) != 2 {
		t.Errorf("expected 2 strategy reports, got %d", len(report.StrategyReports))
	}

	tf := report.StrategyReports["trend_follow_v1"]
	if tf == nil {
		t.Fatal("missing trend_follow_v1 report")
	}
	if tf.TotalTrades != 2 {
		t.Errorf("expected 2 trend follow trades, got %d", tf.TotalTrades)
	}
	if !tf.WinRate.Equal(d("100")) {
		t.Errorf("expected 100%% win rate for trend follow, got %s%%", tf.WinRate)
	}

	mr := report.StrategyReports["mean_reversion_v1"]
	if mr == nil {
		t.Fatal("missing mean_reversion_v1 report")
	}
	if mr.TotalTrades != 2 {
		t.Errorf("expected 2 mean reversion trades, got %d", mr.TotalTrades)
	}
	if !mr.WinRate.Equal(d("50")) {
		t.Errorf("expected 50%% win rate for mean reversion, got %s%%", mr.WinRate)
	}
}

func TestAnalyze_AverageHoldTime(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "s1", "100", "110", 10, 4),
		makeRoundTrip("B", "s1", "100", "120", 10, 6),
		makeRoundTrip("C", "s1", "100", "105", 10, 8),
	}

	report := Analyze(trips, d("500000"))

	// Average: (4 + 6 + 8) / 3 = 6.0
	if math.Abs(report.AverageHoldDays-6.0) > 0.1 {
		t.Errorf("expected AverageHoldDays=6.0, got %.1f", report.AverageHoldDays)
	}
	if report.MinHoldDays != 4 {
		t.Errorf("expected MinHoldDays=4, got %d", report.MinHoldDays)
	}
	if report.MaxHoldDays != 8 {
		t.Errorf("expected MaxHoldDays=8, got %d", report.MaxHoldDays)
	}
}

func TestEquityCurve(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "s1", "100", "110", 10, 1), // +100
		makeRoundTrip("B", "s1", "100", "90", 10, 2),  // -100
		makeRoundTrip("C", "s1", "100", "120", 10, 3), // +200
	}

	curve := EquityCurve(trips, d("500000"))
	if len(curve) == 0 {
		t.Fatal("expected non-empty equity curve")
	}

	if !curve[0].Equity.Equal(d("500000")) {
		t.Errorf("expected first point equity=500000, got %s", curve[0].Equity)
	}

	// Last point equity = 500000 + 100 - 100 + 200 = 500200
	last := curve[len(curve)-1]
	if !last.Equity.Equal(d("500200")) {
		t.Errorf("expected last equity=500200, got %s", last.Equity)
	}
}

func TestFormatReport_EmptyTrades(t *testing.T) {
	report := Analyze(nil, d("500000"))
	formatted := FormatReport(report)
	if !strings.Contains(formatted, "No closed round trips") {
		t.Errorf("expected empty-report message, got: %s", formatted)
	}
}

func TestFormatReport_WithTrades(t *testing.T) {
	trips := []RoundTrip{
		makeRoundTrip("A", "trend_follow_v1", "100", "110", 10, 5),
		makeRoundTrip("B", "mean_reversion_v1", "100", "90", 10, 3),
	}

	report := Analyze(trips, d("500000"))
	formatted := FormatReport(report)

	if !strings.Contains(formatted, "PERFORMANCE REPORT") {
		t.Error("expected report header")
	}
	if !strings.Contains(formatted, "Total round trips") {
		t.Error("expected total round trips in report")
	}
	if !strings.Contains(formatted, "STRATEGY BREAKDOWN") {
		t.Error("expected strategy breakdown for multi-strategy report")
	}
}
