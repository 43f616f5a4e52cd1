package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
)

// FileScoreSource reads the composite score and technical snapshot the
// external scoring layer wrote as JSON to
// `{ai_output_dir}/{date}/stock_scores.json`: domain.CompositeScore and
// domain.TechnicalSnapshot, read from the same day's file.
type FileScoreSource struct {
	Dir string // cfg.Paths.AIOutputDir
}

type fileScoreRecord struct {
	Ticker     string                 `json:"ticker"`
	Date       time.Time              `json:"date"`
	Composite  domain.CompositeScore  `json:"composite"`
	Technical  domain.TechnicalSnapshot `json:"technical"`
}

func (f *FileScoreSource) loadDay(date time.Time) (map[string]fileScoreRecord, error) {
	path := filepath.Join(f.Dir, date.Format("2006-01-02"), "stock_scores.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scoring: read %s: %w", path, err)
	}

	var records []fileScoreRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("scoring: parse %s: %w", path, err)
	}

	byTicker := make(map[string]fileScoreRecord, len(records))
	for _, r := range records {
		byTicker[r.Ticker] = r
	}
	return byTicker, nil
}

// LatestCompositeScore implements scoring.Source.
func (f *FileScoreSource) LatestCompositeScore(_ context.Context, ticker string) (domain.CompositeScore, error) {
	byTicker, err := f.loadDay(time.Now())
	if err != nil {
		return domain.CompositeScore{}, err
	}
	rec, ok := byTicker[ticker]
	if !ok {
		return domain.CompositeScore{}, fmt.Errorf("scoring: no score for %s today", ticker)
	}
	return rec.Composite, nil
}

// LatestTechnicalSnapshot implements scoring.Source and monitor.TechnicalSource.
func (f *FileScoreSource) LatestTechnicalSnapshot(_ context.Context, ticker string) (domain.TechnicalSnapshot, error) {
	byTicker, err := f.loadDay(time.Now())
	if err != nil {
		return domain.TechnicalSnapshot{}, err
	}
	rec, ok := byTicker[ticker]
	if !ok {
		return domain.TechnicalSnapshot{}, fmt.Errorf("scoring: no technical snapshot for %s today", ticker)
	}
	return rec.Technical, nil
}

// FileWatchlistSource reads the day's watchlist.json (ticker/market/sector
// tuples), the screener's output, using the same AIOutputDir file-contract
// convention as stock_scores.json.
type FileWatchlistSource struct {
	Dir string
}

func (f *FileWatchlistSource) Watchlist(_ context.Context, _ string) ([]WatchlistEntry, error) {
	path := filepath.Join(f.Dir, time.Now().Format("2006-01-02"), "watchlist.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("watchlist: read %s: %w", path, err)
	}

	var entries []WatchlistEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("watchlist: parse %s: %w", path, err)
	}
	return entries, nil
}

// FilePriceSource serves last traded prices from its in-memory Prices
// map, which its owner fills; Dir is not read. In a live deployment
// this role is played by internal/clients/krxfeed instead.
type FilePriceSource struct {
	Dir    string
	Prices map[string]decimal.Decimal // ticker -> last price, refreshed externally
}

func (f *FilePriceSource) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	p, ok := f.Prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("price: no cached price for %s", ticker)
	}
	return p, nil
}

func (f *FilePriceSource) LastPrice(ctx context.Context, ticker string) (decimal.Decimal, error) {
	return f.CurrentPrice(ctx, ticker)
}

// snapshotStore is the subset of portfolio.SnapshotStore FileCashSource needs.
type snapshotStore interface {
	GetCashBalance(ctx context.Context, user string) (decimal.Decimal, error)
}

// totalValuer is satisfied by portfolio.Snapshot.
type totalValuer interface {
	TotalValue() decimal.Decimal
}

// FileCashSource reads cash/portfolio value straight from the portfolio
// store, so it never disagrees with the ledger.
type FileCashSource struct {
	Store snapshotStore
	// Snapshotter, when set, supplies a consistent (cash, positions) read
	// for PortfolioValue; without it, PortfolioValue falls back to cash only.
	Snapshotter func(ctx context.Context, user string) (totalValuer, error)
}

func (f *FileCashSource) AvailableCash(ctx context.Context, user string) (decimal.Decimal, error) {
	return f.Store.GetCashBalance(ctx, user)
}

func (f *FileCashSource) PortfolioValue(ctx context.Context, user string) (decimal.Decimal, error) {
	if f.Snapshotter != nil {
		snap, err := f.Snapshotter(ctx, user)
		if err != nil {
			return decimal.Zero, err
		}
		return snap.TotalValue(), nil
	}
	return f.Store.GetCashBalance(ctx, user)
}
