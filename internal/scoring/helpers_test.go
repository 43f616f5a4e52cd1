package scoring

import (
	"context"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/market"
)

func newTestCalendar() *market.Calendar {
	return market.NewCalendarFromHolidays(map[string]string{})
}

func contextTODO() context.Context {
	return context.Background()
}

type fakeSource struct {
	score     domain.CompositeScore
	technical domain.TechnicalSnapshot
	err       error
}

func (f *fakeSource) LatestCompositeScore(ctx context.Context, ticker string) (domain.CompositeScore, error) {
	return f.score, f.err
}

func (f *fakeSource) LatestTechnicalSnapshot(ctx context.Context, ticker string) (domain.TechnicalSnapshot, error) {
	return f.technical, f.err
}
