// Command daily-stats prints a day's trading summary: filled trades
// (buy/sell counts), realized P&L, capital deployed, and any still-open
// positions. With -report
// it instead prints a full performance report (Sharpe, drawdown,
// profit factor, per-strategy breakdown) over the account's entire
// trade history.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/analytics"
	"github.com/krxtrader/engine/internal/config"
	"github.com/krxtrader/engine/internal/domain"
)

// tradeRow is one filled round-trip leg read back from the trades table.
type tradeRow struct {
	Ticker        string
	Side          string
	ExecutedQty   int64
	ExecutedPrice decimal.Decimal
	TotalAmount   decimal.Decimal
	Commission    decimal.Decimal
	Tax           decimal.Decimal
	ExecutedAt    time.Time
}

// openPosition is one row from the positions table still held.
type openPosition struct {
	Ticker          string
	Quantity        int64
	AvgPrice        decimal.Decimal
	CurrentValue    decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

type summary struct {
	TotalTrades   int
	BuyTrades     int
	SellTrades    int
	RealizedPnL   decimal.Decimal
	CapitalUsed   decimal.Decimal
	OpenPositions int
}

const (
	reset  = "\033[0m"
	red    = "\033[0;31m"
	green  = "\033[0;32m"
	yellow = "\033[1;33m"
	blue   = "\033[0;34m"
	cyan   = "\033[0;36m"
)

func main() {
	dateFlag := flag.String("date", "", "date in YYYY-MM-DD format (defaults to today)")
	configPath := flag.String("config", "config/config.json", "path to configuration file")
	user := flag.String("user", "default", "account/user identifier")
	fullReport := flag.Bool("report", false, "print a full performance report over all history instead of a single day's summary")
	flag.Parse()

	date := *dateFlag
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		fmt.Fprintln(os.Stderr, "invalid date format, use YYYY-MM-DD")
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration load failed: %v\n", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "database ping failed: %v\n", err)
		os.Exit(2)
	}

	if *fullReport {
		all, err := allFilledTrades(ctx, db)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to read trade history: %v\n", err)
			os.Exit(3)
		}
		trips := analytics.RoundTripsFromTrades(all)
		report := analytics.Analyze(trips, cfg.Capital)
		fmt.Print(analytics.FormatReport(report))
		return
	}

	trades, err := filledTrades(ctx, db, date)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read trades: %v\n", err)
		os.Exit(3)
	}
	sum := summarize(trades)
	displaySummary(date, sum)
	if len(trades) > 0 {
		displayTrades(trades)
	}

	open, err := openPositions(ctx, db, *user)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read open positions: %v\n", err)
		os.Exit(3)
	}
	displayOpenPositions(open)
}

func filledTrades(ctx context.Context, db *sql.DB, date string) ([]tradeRow, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ticker, side, executed_qty, executed_price, total_amount, commission, tax, executed_at
		FROM trades
		WHERE status = 'FILLED' AND executed_at AT TIME ZONE 'Asia/Seoul' >= $1::date
		  AND executed_at AT TIME ZONE 'Asia/Seoul' < $1::date + INTERVAL '1 day'
		ORDER BY executed_at DESC`, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []tradeRow
	for rows.Next() {
		var t tradeRow
		if err := rows.Scan(&t.Ticker, &t.Side, &t.ExecutedQty, &t.ExecutedPrice, &t.TotalAmount, &t.Commission, &t.Tax, &t.ExecutedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// allFilledTrades reads every filled trade across the account's full
// history, for use with analytics.RoundTripsFromTrades.
func allFilledTrades(ctx context.Context, db *sql.DB) ([]domain.Trade, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ticker, side, executed_qty, executed_price, strategy, executed_at
		FROM trades
		WHERE status = 'FILLED'
		ORDER BY executed_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		var t domain.Trade
		var side string
		if err := rows.Scan(&t.Ticker, &side, &t.ExecutedQty, &t.ExecutedPrice, &t.Strategy, &t.ExecutedAt); err != nil {
			return nil, err
		}
		t.Side = domain.Side(side)
		t.Status = domain.TradeStatusFilled
		out = append(out, t)
	}
	return out, rows.Err()
}

func openPositions(ctx context.Context, db *sql.DB, user string) ([]openPosition, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT ticker, quantity, avg_price, current_value, unrealized_pnl, stop_loss_price, take_profit_price
		FROM positions
		WHERE username = $1 AND quantity > 0 AND NOT archived
		ORDER BY ticker`, user)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []openPosition
	for rows.Next() {
		var p openPosition
		if err := rows.Scan(&p.Ticker, &p.Quantity, &p.AvgPrice, &p.CurrentValue, &p.UnrealizedPnL, &p.StopLossPrice, &p.TakeProfitPrice); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func summarize(trades []tradeRow) summary {
	var s summary
	s.RealizedPnL = decimal.Zero
	s.CapitalUsed = decimal.Zero
	for _, t := range trades {
		s.TotalTrades++
		switch t.Side {
		case "BUY":
			s.BuyTrades++
			s.CapitalUsed = s.CapitalUsed.Add(t.TotalAmount)
		case "SELL":
			s.SellTrades++
			s.RealizedPnL = s.RealizedPnL.Add(t.TotalAmount).Sub(t.Commission).Sub(t.Tax)
		}
	}
	return s
}

func displaySummary(date string, s summary) {
	fmt.Printf("%s%s%s\n", cyan, strings.Repeat("=", 60), reset)
	fmt.Printf("%sDAILY TRADING STATISTICS - %s%s\n", cyan, date, reset)
	fmt.Printf("%s%s%s\n\n", cyan, strings.Repeat("=", 60), reset)

	if s.TotalTrades == 0 {
		fmt.Printf("%sNo filled trades for %s%s\n\n", yellow, date, reset)
		return
	}

	pnlColor := green
	if s.RealizedPnL.IsNegative() {
		pnlColor = red
	}

	fmt.Printf("  %sFilled Trades:%s     %d (%d buys, %d sells)\n", yellow, reset, s.TotalTrades, s.BuyTrades, s.SellTrades)
	fmt.Printf("  %sRealized P&L:%s      %s%s%s\n", yellow, reset, pnlColor, s.RealizedPnL.StringFixed(2), reset)
	fmt.Printf("  %sCapital Deployed:%s  %s\n\n", yellow, reset, s.CapitalUsed.StringFixed(2))
}

func displayTrades(trades []tradeRow) {
	fmt.Printf("%sFILLED TRADES%s\n", blue, reset)
	fmt.Printf("%s%s%s\n", blue, strings.Repeat("-", 70), reset)
	fmt.Printf("%-10s %-6s %-10s %-14s %-12s %s\n", "Ticker", "Side", "Qty", "Price", "Amount", "Time")
	for _, t := range trades {
		fmt.Printf("%-10s %-6s %-10d %-14s %-12s %s\n",
			t.Ticker, t.Side, t.ExecutedQty, t.ExecutedPrice.StringFixed(2), t.TotalAmount.StringFixed(2), t.ExecutedAt.Format("15:04:05"))
	}
	fmt.Println()
}

func displayOpenPositions(positions []openPosition) {
	fmt.Printf("%sOPEN POSITIONS%s\n", blue, reset)
	fmt.Printf("%s%s%s\n", blue, strings.Repeat("-", 70), reset)
	if len(positions) == 0 {
		fmt.Printf("  %sNo open positions%s\n\n", green, reset)
		return
	}
	fmt.Printf("%-10s %-8s %-12s %-14s %-12s %-12s\n", "Ticker", "Qty", "Avg Price", "Unrealized", "Stop", "Target")
	for _, p := range positions {
		pnlColor := green
		if p.UnrealizedPnL.IsNegative() {
			pnlColor = red
		}
		fmt.Printf("%-10s %-8d %-12s %s%-14s%s %-12s %-12s\n",
			p.Ticker, p.Quantity, p.AvgPrice.StringFixed(2), pnlColor, p.UnrealizedPnL.StringFixed(2), reset,
			p.StopLossPrice.StringFixed(2), p.TakeProfitPrice.StringFixed(2))
	}
	fmt.Println()
}
