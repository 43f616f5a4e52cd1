package app

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/broker"
	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/execution"
	"github.com/krxtrader/engine/internal/market"
	"github.com/krxtrader/engine/internal/portfolio"
)

type fakeWatchlist struct {
	entries []WatchlistEntry
}

func (f *fakeWatchlist) Watchlist(_ context.Context, _ string) ([]WatchlistEntry, error) {
	return f.entries, nil
}

type fakeScoreSource struct {
	composite map[string]domain.CompositeScore
	technical map[string]domain.TechnicalSnapshot
}

func (f *fakeScoreSource) LatestCompositeScore(_ context.Context, ticker string) (domain.CompositeScore, error) {
	cs, ok := f.composite[ticker]
	if !ok {
		return domain.CompositeScore{}, errNotFound
	}
	return cs, nil
}

func (f *fakeScoreSource) LatestTechnicalSnapshot(_ context.Context, ticker string) (domain.TechnicalSnapshot, error) {
	ts, ok := f.technical[ticker]
	if !ok {
		return domain.TechnicalSnapshot{}, errNotFound
	}
	return ts, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

type fakePrices struct {
	prices map[string]decimal.Decimal
}

func (f *fakePrices) CurrentPrice(_ context.Context, ticker string) (decimal.Decimal, error) {
	p, ok := f.prices[ticker]
	if !ok {
		return decimal.Zero, errNotFound
	}
	return p, nil
}

type fakeCash struct {
	store *portfolio.MemoryStore
	user  string
}

func (f *fakeCash) PortfolioValue(ctx context.Context, user string) (decimal.Decimal, error) {
	snap, err := f.store.Snapshot(ctx, user)
	if err != nil {
		return decimal.Zero, err
	}
	return snap.TotalValue(), nil
}

func (f *fakeCash) AvailableCash(ctx context.Context, user string) (decimal.Decimal, error) {
	return f.store.GetCashBalance(ctx, user)
}

func strongScore(ticker string, date time.Time) (domain.CompositeScore, domain.TechnicalSnapshot) {
	return domain.CompositeScore{
			Ticker: ticker, Date: date,
			ValueScore: decimal.NewFromInt(80), GrowthScore: decimal.NewFromInt(80),
			QualityScore: decimal.NewFromInt(80), MomentumScore: decimal.NewFromInt(80),
			Composite: decimal.NewFromInt(80),
		}, domain.TechnicalSnapshot{
			Ticker: ticker, Date: date, RSI14: decimal.NewFromInt(55),
			MACD: decimal.NewFromInt(2), SMA20: decimal.NewFromInt(70000),
			Volume: 3_000_000, VolumeMA20: decimal.NewFromInt(1_000_000),
		}
}

func newTestService(t *testing.T, store *portfolio.MemoryStore, watchlist WatchlistSource, source *fakeScoreSource, prices *fakePrices) *Service {
	t.Helper()

	b := broker.NewPaperBroker(decimal.NewFromInt(100_000_000), broker.DefaultSlippageConfig())
	ledger := execution.NewMemoryLedger(store)
	calc := execution.NewCalculator(execution.DefaultFeeSchedules())
	executor := execution.NewExecutor(b, ledger, calc, zerolog.Nop())

	cash := &fakeCash{store: store, user: "alice"}

	return New(
		market.NewCalendar(),
		store,
		store,
		watchlist,
		source,
		prices,
		cash,
		source,
		executor,
		calc,
		zerolog.Nop(),
	)
}

func TestService_GenerateSignals_ApprovedEntryPassesRiskGate(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(10_000_000))

	composite, technical := strongScore("005930", now)
	source := &fakeScoreSource{
		composite: map[string]domain.CompositeScore{"005930": composite},
		technical: map[string]domain.TechnicalSnapshot{"005930": technical},
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"005930": decimal.NewFromInt(71000)}}
	watchlist := &fakeWatchlist{entries: []WatchlistEntry{{Ticker: "005930", Market: domain.MarketKOSPI, Sector: "Technology"}}}

	svc := newTestService(t, store, watchlist, source, prices)

	signals, err := svc.GenerateSignals(context.Background(), "alice", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 1 {
		t.Fatalf("expected 1 approved signal, got %d", len(signals))
	}
	if signals[0].Ticker != "005930" {
		t.Errorf("expected 005930, got %s", signals[0].Ticker)
	}
}

func TestService_GenerateSignals_EmptyWatchlistProducesNoSignals(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(10_000_000))

	source := &fakeScoreSource{composite: map[string]domain.CompositeScore{}, technical: map[string]domain.TechnicalSnapshot{}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{}}
	watchlist := &fakeWatchlist{entries: nil}

	svc := newTestService(t, store, watchlist, source, prices)

	signals, err := svc.GenerateSignals(context.Background(), "alice", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected 0 signals, got %d", len(signals))
	}
}

func TestService_MonitorPositions_NoOpenPositionsNoExits(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(10_000_000))

	source := &fakeScoreSource{composite: map[string]domain.CompositeScore{}, technical: map[string]domain.TechnicalSnapshot{}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{}}
	watchlist := &fakeWatchlist{}

	svc := newTestService(t, store, watchlist, source, prices)

	exits, err := svc.MonitorPositions(context.Background(), "alice", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(exits) != 0 {
		t.Fatalf("expected 0 exits, got %d", len(exits))
	}
}

func TestService_ExecuteSignals_SubmitsOrdersAndSkipsFailures(t *testing.T) {
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(10_000_000))

	source := &fakeScoreSource{composite: map[string]domain.CompositeScore{}, technical: map[string]domain.TechnicalSnapshot{}}
	prices := &fakePrices{prices: map[string]decimal.Decimal{}}
	watchlist := &fakeWatchlist{}

	svc := newTestService(t, store, watchlist, source, prices)

	sigs := []domain.TradingSignal{
		{
			SignalID: "sig-1", Kind: domain.SignalEntryBuy, Ticker: "005930",
			GeneratedAt: time.Now(), RecommendedShares: 10,
			LimitPrice: decimal.NewFromInt(70_000), OrderType: domain.OrderTypeLimit,
		},
	}
	trades := svc.ExecuteSignals(context.Background(), "alice", sigs, map[string]WatchlistEntry{
		"005930": {Ticker: "005930", Market: domain.MarketKOSPI},
	})
	if len(trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(trades))
	}
	if trades[0].Status != domain.TradeStatusFilled {
		t.Errorf("expected FILLED, got %s", trades[0].Status)
	}
}

func TestService_RunCycle_HaltedSkipsEntryGeneration(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(10_000_000))
	if err := store.SetHaltFlag(context.Background(), "alice", true, "drawdown breach"); err != nil {
		t.Fatalf("failed to set halt flag: %v", err)
	}

	composite, technical := strongScore("005930", now)
	source := &fakeScoreSource{
		composite: map[string]domain.CompositeScore{"005930": composite},
		technical: map[string]domain.TechnicalSnapshot{"005930": technical},
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"005930": decimal.NewFromInt(71000)}}
	watchlist := &fakeWatchlist{entries: []WatchlistEntry{{Ticker: "005930", Market: domain.MarketKOSPI}}}

	svc := newTestService(t, store, watchlist, source, prices)

	count, err := svc.RunCycle(context.Background(), "alice", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 trades while halted and no open positions, got %d", count)
	}
}

func TestService_RunCycle_GeneratesAndExecutesEntries(t *testing.T) {
	now := time.Date(2026, 7, 31, 9, 30, 0, 0, time.UTC)
	store := portfolio.NewMemoryStore()
	store.SetCash("alice", decimal.NewFromInt(10_000_000))

	composite, technical := strongScore("005930", now)
	source := &fakeScoreSource{
		composite: map[string]domain.CompositeScore{"005930": composite},
		technical: map[string]domain.TechnicalSnapshot{"005930": technical},
	}
	prices := &fakePrices{prices: map[string]decimal.Decimal{"005930": decimal.NewFromInt(71000)}}
	watchlist := &fakeWatchlist{entries: []WatchlistEntry{{Ticker: "005930", Market: domain.MarketKOSPI, Sector: "Technology"}}}

	svc := newTestService(t, store, watchlist, source, prices)

	count, err := svc.RunCycle(context.Background(), "alice", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 trade from the generated entry, got %d", count)
	}

	pos, err := store.GetPosition(context.Background(), "alice", "005930")
	if err != nil {
		t.Fatalf("unexpected error fetching position: %v", err)
	}
	if pos.Quantity <= 0 {
		t.Errorf("expected a position to be opened, got quantity %d", pos.Quantity)
	}
}
