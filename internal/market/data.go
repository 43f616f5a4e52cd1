// Package market - data.go handles market data ingestion and caching.
//
// Market data collection itself is an external collaborator; this file only defines the thin interface the rest of the
// core consumes — position sizing's volatility calculation and the
// monitor's paper-mode price lookups never call a provider directly, only
// the locally cached store.
package market

import (
	"context"
	"fmt"
	"time"

	"github.com/krxtrader/engine/internal/domain"
)

// DataProvider fetches OHLCV data from an external source (an exchange
// feed, a paid vendor, ...). Implementations live outside the core.
type DataProvider interface {
	// FetchDailyBars retrieves daily OHLCV data for a ticker within a date range.
	FetchDailyBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, error)

	// FetchBulkDailyBars retrieves daily OHLCV data for multiple tickers.
	FetchBulkDailyBars(ctx context.Context, tickers []string, from, to time.Time) (map[string][]domain.PriceBar, error)
}

// DataStore persists and retrieves cached price bars.
type DataStore interface {
	SaveBars(ctx context.Context, bars []domain.PriceBar) error
	GetBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, error)
	GetLatestBarDate(ctx context.Context, ticker string) (time.Time, error)
}

// DataManager coordinates fetching and local caching. Every other package
// reads prices through GetBars, never through a DataProvider directly.
type DataManager struct {
	provider DataProvider
	store    DataStore
}

// NewDataManager creates a new data manager.
func NewDataManager(provider DataProvider, store DataStore) *DataManager {
	return &DataManager{provider: provider, store: store}
}

// SyncBars ensures local data is up to date for the given tickers. It
// yields between tickers.
func (dm *DataManager) SyncBars(ctx context.Context, tickers []string, upToDate time.Time) error {
	for _, ticker := range tickers {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		latest, err := dm.store.GetLatestBarDate(ctx, ticker)
		if err != nil {
			latest = upToDate.AddDate(-1, 0, 0) // No data yet: backfill one year.
		}

		if !latest.Before(upToDate) {
			continue
		}

		fetchFrom := latest.AddDate(0, 0, 1)
		bars, err := dm.provider.FetchDailyBars(ctx, ticker, fetchFrom, upToDate)
		if err != nil {
			return fmt.Errorf("market data: fetch %s: %w", ticker, err)
		}

		if len(bars) > 0 {
			if err := dm.store.SaveBars(ctx, bars); err != nil {
				return fmt.Errorf("market data: save %s: %w", ticker, err)
			}
		}
	}

	return nil
}

// GetBars retrieves cached price bars. This is the only method the rest
// of the core should call for historical price data.
func (dm *DataManager) GetBars(ctx context.Context, ticker string, from, to time.Time) ([]domain.PriceBar, error) {
	return dm.store.GetBars(ctx, ticker, from, to)
}
