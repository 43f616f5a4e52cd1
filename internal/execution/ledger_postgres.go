package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/krxtrader/engine/internal/domain"
)

// PostgresLedger implements Ledger: one SERIALIZABLE transaction per
// trade that writes the trades row, adjusts accounts.cash_balance, and
// upserts the positions row. The trades table's OrderID column is
// unique. ExecuteTrade first looks the OrderID up inside the transaction
// and returns the existing row when there is one; a concurrent duplicate
// that passes that lookup fails its insert and is returned as an error.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

// NewPostgresLedger wraps an existing pool (typically the same pool the
// portfolio.PostgresStore uses).
func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) GetTrade(ctx context.Context, orderID string) (domain.Trade, bool, error) {
	row := l.pool.QueryRow(ctx, `
		SELECT order_id, ticker, side, order_type, requested_qty, requested_price,
		       executed_qty, executed_price, total_amount, commission, tax, status,
		       reason, strategy, created_at, executed_at, cancelled_at
		FROM trades WHERE order_id = $1`, orderID)

	trade, err := scanTrade(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Trade{}, false, nil
	}
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("execution: get trade: %w", err)
	}
	return trade, true, nil
}

// ExecuteTrade commits trade atomically. If trade.OrderID already
// exists, the existing row is returned unmodified (alreadyExisted=true)
// and no cash/position mutation happens — this is what gives
// SubmitOrder at-most-once semantics across retries.
func (l *PostgresLedger) ExecuteTrade(ctx context.Context, user string, trade domain.Trade) (domain.Trade, bool, error) {
	var result domain.Trade
	var alreadyExisted bool

	err := pgx.BeginTxFunc(ctx, l.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT order_id, ticker, side, order_type, requested_qty, requested_price,
			       executed_qty, executed_price, total_amount, commission, tax, status,
			       reason, strategy, created_at, executed_at, cancelled_at
			FROM trades WHERE order_id = $1 FOR UPDATE`, trade.OrderID)

		existing, err := scanTrade(row)
		switch {
		case err == nil:
			result = existing
			alreadyExisted = true
			return nil
		case errors.Is(err, pgx.ErrNoRows):
			// fresh trade; fall through to insert.
		default:
			return fmt.Errorf("lookup existing trade: %w", err)
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO trades (order_id, ticker, side, order_type, requested_qty, requested_price,
				executed_qty, executed_price, total_amount, commission, tax, status, reason,
				strategy, created_at, executed_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
			trade.OrderID, trade.Ticker, string(trade.Side), string(trade.OrderType),
			trade.RequestedQty, trade.RequestedPrice, trade.ExecutedQty, trade.ExecutedPrice,
			trade.TotalAmount, trade.Commission, trade.Tax, string(trade.Status), trade.Reason,
			trade.Strategy, trade.CreatedAt, trade.ExecutedAt); err != nil {
			return fmt.Errorf("insert trade: %w", err)
		}

		if trade.Status == domain.TradeStatusFilled || trade.Status == domain.TradeStatusPartiallyFilled {
			if err := applyCashAndPosition(ctx, tx, user, trade); err != nil {
				return err
			}
		}

		if trade.Status == domain.TradeStatusFilled {
			if err := notifyTradeExecuted(ctx, tx, trade); err != nil {
				return err
			}
		}

		result = trade
		return nil
	})
	if err != nil {
		return domain.Trade{}, false, fmt.Errorf("execution: execute trade: %w", err)
	}
	return result, alreadyExisted, nil
}

// applyCashAndPosition debits/credits cash and updates the position row
// inside the caller's transaction. On a BUY that opens a position from
// flat (no row, or quantity <= 0), it also seeds the protective levels
// carried on the trade — the same derivation portfolio.Store's
// InitializeLimits performs, inlined here since it must run inside this
// same SERIALIZABLE transaction rather than against the store's own pool.
func applyCashAndPosition(ctx context.Context, tx pgx.Tx, user string, trade domain.Trade) error {
	delta := trade.TotalAmount
	if trade.Side == domain.SideBuy {
		delta = delta.Neg()
	}
	if _, err := tx.Exec(ctx, `UPDATE accounts SET cash_balance = cash_balance + $2 WHERE username = $1`,
		user, delta); err != nil {
		return fmt.Errorf("update cash: %w", err)
	}

	var preQty int64
	err := tx.QueryRow(ctx, `SELECT quantity FROM positions WHERE username=$1 AND ticker=$2 FOR UPDATE`,
		user, trade.Ticker).Scan(&preQty)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("lock position: %w", err)
	}
	wasFlat := errors.Is(err, pgx.ErrNoRows) || preQty <= 0

	var qtyDelta int64 = trade.ExecutedQty
	if trade.Side == domain.SideSell {
		qtyDelta = -qtyDelta
	}
	fees := trade.Commission.Add(trade.Tax)

	_, err = tx.Exec(ctx, `
		INSERT INTO positions (username, ticker, quantity, avg_price, current_price, current_value,
			invested_amount, realized_pnl, first_purchase_at, last_transaction_at)
		VALUES ($1, $2, $3, $4, $4, $4 * $3, $4 * $3, 0, $5, $5)
		ON CONFLICT (username, ticker) DO UPDATE SET
			quantity = positions.quantity + $3,
			avg_price = CASE WHEN positions.quantity + $3 > 0 AND $3 > 0
				THEN (positions.avg_price * positions.quantity + $4 * $3) / (positions.quantity + $3)
				ELSE positions.avg_price END,
			current_price = $4,
			current_value = $4 * (positions.quantity + $3),
			invested_amount = CASE WHEN $3 > 0
				THEN positions.invested_amount + $4 * $3
				ELSE positions.invested_amount END,
			realized_pnl = CASE WHEN $3 < 0
				THEN positions.realized_pnl + ($4 - positions.avg_price) * (-$3) - $6
				ELSE positions.realized_pnl END,
			archived = (positions.quantity + $3 <= 0),
			last_transaction_at = $5`,
		user, trade.Ticker, qtyDelta, trade.ExecutedPrice, trade.ExecutedAt, fees)
	if err != nil {
		return fmt.Errorf("update position: %w", err)
	}

	if trade.Side == domain.SideBuy && wasFlat {
		if _, err := tx.Exec(ctx, `
			UPDATE positions SET
				stop_loss_pct = $3, take_profit_pct = $4,
				stop_loss_price = avg_price * (1 - $3 / 100),
				take_profit_price = avg_price * (1 + $4 / 100),
				trailing_stop_enabled = $5, trailing_stop_distance_pct = $6,
				trailing_stop_price = CASE WHEN $5 THEN avg_price * (1 - $6 / 100) ELSE trailing_stop_price END,
				highest_price_since_purchase = avg_price
			WHERE username = $1 AND ticker = $2`,
			user, trade.Ticker, trade.StopLossPct, trade.TakeProfitPct,
			trade.TrailingStopEnabled, trade.TrailingStopDistancePct); err != nil {
			return fmt.Errorf("initialize limits: %w", err)
		}
	}

	return nil
}

// notifyTradeExecuted publishes a trade_executed event for
// internal/dashboard's EventListener. pg_notify's payload is capped at
// 8000 bytes by Postgres, comfortably above one trade's JSON.
func notifyTradeExecuted(ctx context.Context, tx pgx.Tx, trade domain.Trade) error {
	payload, err := json.Marshal(struct {
		Ticker string `json:"ticker"`
		Side   string `json:"side"`
		Qty    int64  `json:"qty"`
		Price  string `json:"price"`
	}{Ticker: trade.Ticker, Side: string(trade.Side), Qty: trade.ExecutedQty, Price: trade.ExecutedPrice.String()})
	if err != nil {
		return fmt.Errorf("marshal trade_executed payload: %w", err)
	}
	_, err = tx.Exec(ctx, `SELECT pg_notify('trade_executed', $1)`, string(payload))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrade(row rowScanner) (domain.Trade, error) {
	var t domain.Trade
	var side, orderType, status string
	var cancelledAt *time.Time
	err := row.Scan(&t.OrderID, &t.Ticker, &side, &orderType, &t.RequestedQty, &t.RequestedPrice,
		&t.ExecutedQty, &t.ExecutedPrice, &t.TotalAmount, &t.Commission, &t.Tax, &status,
		&t.Reason, &t.Strategy, &t.CreatedAt, &t.ExecutedAt, &cancelledAt)
	if err != nil {
		return domain.Trade{}, err
	}
	t.Side = domain.Side(side)
	t.OrderType = domain.OrderType(orderType)
	t.Status = domain.TradeStatus(status)
	if cancelledAt != nil {
		t.CancelledAt = *cancelledAt
	}
	return t, nil
}
