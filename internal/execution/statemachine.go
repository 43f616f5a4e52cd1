package execution

import (
	"fmt"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/errs"
)

// allowedTransitions encodes the DAG. Attempts outside
// this table fail loudly rather than silently no-op.
var allowedTransitions = map[domain.TradeStatus][]domain.TradeStatus{
	domain.TradeStatusPending: {
		domain.TradeStatusSubmitted,
		domain.TradeStatusFailed,
	},
	domain.TradeStatusSubmitted: {
		domain.TradeStatusAccepted,
		domain.TradeStatusRejected,
		domain.TradeStatusFailed,
	},
	domain.TradeStatusAccepted: {
		domain.TradeStatusFilled,
		domain.TradeStatusPartiallyFilled,
		domain.TradeStatusCancelled,
		domain.TradeStatusExpired,
		domain.TradeStatusFailed,
	},
	domain.TradeStatusPartiallyFilled: {
		domain.TradeStatusFilled,
		domain.TradeStatusCancelled,
		domain.TradeStatusExpired,
		domain.TradeStatusFailed,
	},
}

// Transition validates a move from one trade status to another and
// returns nil when it is allowed. It changes nothing; callers persist
// the new status themselves.
func Transition(from, to domain.TradeStatus) error {
	if from.Terminal() {
		return fmt.Errorf("execution: %w: cannot transition from terminal state %s to %s", errs.ErrInvariant, from, to)
	}

	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("execution: %w: illegal transition %s -> %s", errs.ErrInvariant, from, to)
}
