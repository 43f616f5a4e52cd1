package portfolio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/krxtrader/engine/internal/domain"
	"github.com/krxtrader/engine/internal/errs"
)

// ErrNotFound is returned by GetPosition when no row exists for (user, ticker).
var ErrNotFound = errors.New("portfolio: position not found")

// PostgresStore implements Store and SnapshotStore against Postgres.
// Drawdown and cash checks run inside SERIALIZABLE transactions so the
// circuit breaker never observes a torn read between cash and positions
//.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool against connStr.
func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	if connStr == "" {
		return nil, fmt.Errorf("portfolio: %w: connection string is required", errs.ErrConfiguration)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("portfolio: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("portfolio: ping: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) GetPosition(ctx context.Context, user, ticker string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT username, ticker, quantity, avg_price, current_price, current_value,
		       invested_amount, realized_pnl, unrealized_pnl, unrealized_pnl_pct,
		       stop_loss_price, stop_loss_pct, take_profit_price, take_profit_pct,
		       trailing_stop_enabled, trailing_stop_distance_pct, trailing_stop_price,
		       highest_price_since_purchase, first_purchase_at, last_transaction_at, archived
		FROM positions WHERE username = $1 AND ticker = $2`, user, ticker)

	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Position{}, ErrNotFound
	}
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: get position: %w", err)
	}
	return pos, nil
}

func (s *PostgresStore) GetOpenPositions(ctx context.Context, user string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, ticker, quantity, avg_price, current_price, current_value,
		       invested_amount, realized_pnl, unrealized_pnl, unrealized_pnl_pct,
		       stop_loss_price, stop_loss_pct, take_profit_price, take_profit_pct,
		       trailing_stop_enabled, trailing_stop_distance_pct, trailing_stop_price,
		       highest_price_since_purchase, first_purchase_at, last_transaction_at, archived
		FROM positions WHERE username = $1 AND quantity > 0 AND archived = false
		ORDER BY ticker`, user)
	if err != nil {
		return nil, fmt.Errorf("portfolio: get open positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("portfolio: scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertPosition(ctx context.Context, pos domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (username, ticker, quantity, avg_price, current_price, current_value,
			invested_amount, realized_pnl, unrealized_pnl, unrealized_pnl_pct,
			stop_loss_price, stop_loss_pct, take_profit_price, take_profit_pct,
			trailing_stop_enabled, trailing_stop_distance_pct, trailing_stop_price,
			highest_price_since_purchase, first_purchase_at, last_transaction_at, archived)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
		ON CONFLICT (username, ticker) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avg_price = EXCLUDED.avg_price,
			current_price = EXCLUDED.current_price,
			current_value = EXCLUDED.current_value,
			invested_amount = EXCLUDED.invested_amount,
			realized_pnl = EXCLUDED.realized_pnl,
			unrealized_pnl = EXCLUDED.unrealized_pnl,
			unrealized_pnl_pct = EXCLUDED.unrealized_pnl_pct,
			stop_loss_price = EXCLUDED.stop_loss_price,
			stop_loss_pct = EXCLUDED.stop_loss_pct,
			take_profit_price = EXCLUDED.take_profit_price,
			take_profit_pct = EXCLUDED.take_profit_pct,
			trailing_stop_enabled = EXCLUDED.trailing_stop_enabled,
			trailing_stop_distance_pct = EXCLUDED.trailing_stop_distance_pct,
			trailing_stop_price = EXCLUDED.trailing_stop_price,
			highest_price_since_purchase = EXCLUDED.highest_price_since_purchase,
			last_transaction_at = EXCLUDED.last_transaction_at,
			archived = EXCLUDED.archived`,
		pos.User, pos.Ticker, pos.Quantity, pos.AvgPrice, pos.CurrentPrice, pos.CurrentValue,
		pos.InvestedAmount, pos.RealizedPnL, pos.UnrealizedPnL, pos.UnrealizedPnLPct,
		pos.StopLossPrice, pos.StopLossPct, pos.TakeProfitPrice, pos.TakeProfitPct,
		pos.TrailingStopEnabled, pos.TrailingStopDistancePct, pos.TrailingStopPrice,
		pos.HighestPriceSincePurchase, pos.FirstPurchaseAt, pos.LastTransactionAt, pos.Archived)
	if err != nil {
		return fmt.Errorf("portfolio: upsert position: %w", err)
	}

	event := "position_opened"
	if pos.Archived {
		event = "position_closed"
	}
	payload, err := json.Marshal(struct {
		Ticker string `json:"ticker"`
		Qty    int64  `json:"qty"`
	}{Ticker: pos.Ticker, Qty: pos.Quantity})
	if err != nil {
		return fmt.Errorf("portfolio: marshal %s payload: %w", event, err)
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, event, string(payload)); err != nil {
		return fmt.Errorf("portfolio: notify %s: %w", event, err)
	}
	return nil
}

// UpdateTrailing runs inside a SERIALIZABLE transaction: read current
// highest price, compute the candidate, write only if it does not
// regress the trailing stop price.
func (s *PostgresStore) UpdateTrailing(ctx context.Context, user, ticker string, lastPrice decimal.Decimal) (domain.Position, error) {
	var result domain.Position

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			SELECT username, ticker, quantity, avg_price, current_price, current_value,
			       invested_amount, realized_pnl, unrealized_pnl, unrealized_pnl_pct,
			       stop_loss_price, stop_loss_pct, take_profit_price, take_profit_pct,
			       trailing_stop_enabled, trailing_stop_distance_pct, trailing_stop_price,
			       highest_price_since_purchase, first_purchase_at, last_transaction_at, archived
			FROM positions WHERE username = $1 AND ticker = $2 FOR UPDATE`, user, ticker)

		pos, err := scanPosition(row)
		if err != nil {
			return fmt.Errorf("read position: %w", err)
		}

		if !pos.TrailingStopEnabled {
			result = pos
			return nil
		}

		if lastPrice.GreaterThan(pos.HighestPriceSincePurchase) {
			pos.HighestPriceSincePurchase = lastPrice
		}
		candidate := pos.HighestPriceSincePurchase.Mul(
			decimal.NewFromInt(1).Sub(pos.TrailingStopDistancePct.Div(decimal.NewFromInt(100))))
		if candidate.GreaterThan(pos.TrailingStopPrice) {
			pos.TrailingStopPrice = candidate
		}
		pos.CurrentPrice = lastPrice
		pos.CurrentValue = lastPrice.Mul(decimal.NewFromInt(pos.Quantity))

		_, err = tx.Exec(ctx, `
			UPDATE positions SET highest_price_since_purchase=$3, trailing_stop_price=$4,
				current_price=$5, current_value=$6
			WHERE username=$1 AND ticker=$2`,
			user, ticker, pos.HighestPriceSincePurchase, pos.TrailingStopPrice,
			pos.CurrentPrice, pos.CurrentValue)
		if err != nil {
			return fmt.Errorf("write trailing stop: %w", err)
		}

		result = pos
		return nil
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("portfolio: update trailing: %w", err)
	}
	return result, nil
}

// InitializeLimits runs inside a SERIALIZABLE transaction: read the
// position's current avg_price, derive stop/take/trailing levels off
// it, and write them back in one statement.
func (s *PostgresStore) InitializeLimits(ctx context.Context, user, ticker string, stopLossPct, takeProfitPct decimal.Decimal, trailingEnabled bool, trailingDistancePct decimal.Decimal) error {
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable}, func(tx pgx.Tx) error {
		var avgPrice decimal.Decimal
		err := tx.QueryRow(ctx, `SELECT avg_price FROM positions WHERE username=$1 AND ticker=$2 FOR UPDATE`,
			user, ticker).Scan(&avgPrice)
		if err != nil {
			return fmt.Errorf("read avg_price: %w", err)
		}

		stopLossPrice := avgPrice.Mul(decimal.NewFromInt(1).Sub(stopLossPct.Div(decimal.NewFromInt(100))))
		takeProfitPrice := avgPrice.Mul(decimal.NewFromInt(1).Add(takeProfitPct.Div(decimal.NewFromInt(100))))
		trailingStopPrice := decimal.Zero
		if trailingEnabled {
			trailingStopPrice = avgPrice.Mul(decimal.NewFromInt(1).Sub(trailingDistancePct.Div(decimal.NewFromInt(100))))
		}

		_, err = tx.Exec(ctx, `
			UPDATE positions SET
				stop_loss_pct = $3, take_profit_pct = $4,
				stop_loss_price = $5, take_profit_price = $6,
				trailing_stop_enabled = $7, trailing_stop_distance_pct = $8,
				trailing_stop_price = $9, highest_price_since_purchase = $10
			WHERE username = $1 AND ticker = $2`,
			user, ticker, stopLossPct, takeProfitPct,
			stopLossPrice, takeProfitPrice, trailingEnabled, trailingDistancePct,
			trailingStopPrice, avgPrice)
		if err != nil {
			return fmt.Errorf("write limits: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("portfolio: initialize limits: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCashBalance(ctx context.Context, user string) (decimal.Decimal, error) {
	var cash decimal.Decimal
	err := s.pool.QueryRow(ctx, `SELECT cash_balance FROM accounts WHERE username = $1`, user).Scan(&cash)
	if err != nil {
		return decimal.Zero, fmt.Errorf("portfolio: get cash balance: %w", err)
	}
	return cash, nil
}

func (s *PostgresStore) GetRiskMetrics(ctx context.Context, user string) (domain.PortfolioRiskMetrics, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT username, total_value, cash_balance, invested_amount, peak_value, initial_capital,
		       realized_pnl, unrealized_pnl, daily_pnl, current_drawdown, max_drawdown,
		       drawdown_duration_days, position_count, largest_position_pct,
		       total_loss_from_initial_pct, trading_halted, halt_reason, halt_started_at
		FROM risk_metrics WHERE username = $1`, user)

	var m domain.PortfolioRiskMetrics
	var haltStarted *time.Time
	err := row.Scan(&m.User, &m.TotalValue, &m.CashBalance, &m.InvestedAmount, &m.PeakValue, &m.InitialCapital,
		&m.RealizedPnL, &m.UnrealizedPnL, &m.DailyPnL, &m.CurrentDrawdown, &m.MaxDrawdown,
		&m.DrawdownDurationDays, &m.PositionCount, &m.LargestPositionPct,
		&m.TotalLossFromInitialPct, &m.TradingHalted, &m.HaltReason, &haltStarted)
	if err != nil {
		return domain.PortfolioRiskMetrics{}, fmt.Errorf("portfolio: get risk metrics: %w", err)
	}
	if haltStarted != nil {
		m.HaltStartedAt = *haltStarted
	}
	return m, nil
}

func (s *PostgresStore) UpdateRiskMetrics(ctx context.Context, m domain.PortfolioRiskMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO risk_metrics (username, total_value, cash_balance, invested_amount, peak_value,
			initial_capital, realized_pnl, unrealized_pnl, daily_pnl, current_drawdown, max_drawdown,
			drawdown_duration_days, position_count, largest_position_pct,
			total_loss_from_initial_pct, trading_halted, halt_reason, halt_started_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
		ON CONFLICT (username) DO UPDATE SET
			total_value=EXCLUDED.total_value, cash_balance=EXCLUDED.cash_balance,
			invested_amount=EXCLUDED.invested_amount, peak_value=EXCLUDED.peak_value,
			realized_pnl=EXCLUDED.realized_pnl, unrealized_pnl=EXCLUDED.unrealized_pnl,
			daily_pnl=EXCLUDED.daily_pnl, current_drawdown=EXCLUDED.current_drawdown,
			max_drawdown=EXCLUDED.max_drawdown, drawdown_duration_days=EXCLUDED.drawdown_duration_days,
			position_count=EXCLUDED.position_count, largest_position_pct=EXCLUDED.largest_position_pct,
			total_loss_from_initial_pct=EXCLUDED.total_loss_from_initial_pct,
			trading_halted=EXCLUDED.trading_halted, halt_reason=EXCLUDED.halt_reason,
			halt_started_at=EXCLUDED.halt_started_at`,
		m.User, m.TotalValue, m.CashBalance, m.InvestedAmount, m.PeakValue, m.InitialCapital,
		m.RealizedPnL, m.UnrealizedPnL, m.DailyPnL, m.CurrentDrawdown, m.MaxDrawdown,
		m.DrawdownDurationDays, m.PositionCount, m.LargestPositionPct,
		m.TotalLossFromInitialPct, m.TradingHalted, m.HaltReason, nullableTime(m.HaltStartedAt))
	if err != nil {
		return fmt.Errorf("portfolio: update risk metrics: %w", err)
	}
	return nil
}

// SetHaltFlag is called only by the circuit breaker, the single writer
// of the halt flag.
func (s *PostgresStore) SetHaltFlag(ctx context.Context, user string, halted bool, reason string) error {
	var startedAt interface{}
	if halted {
		startedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE risk_metrics SET trading_halted=$2, halt_reason=$3, halt_started_at=COALESCE($4, halt_started_at)
		WHERE username=$1`, user, halted, reason, startedAt)
	if err != nil {
		return fmt.Errorf("portfolio: set halt flag: %w", err)
	}

	if halted {
		payload, err := json.Marshal(struct {
			User   string `json:"user"`
			Reason string `json:"reason"`
		}{User: user, Reason: reason})
		if err != nil {
			return fmt.Errorf("portfolio: marshal circuit_breaker_tripped payload: %w", err)
		}
		if _, err := s.pool.Exec(ctx, `SELECT pg_notify('circuit_breaker_tripped', $1)`, string(payload)); err != nil {
			return fmt.Errorf("portfolio: notify circuit_breaker_tripped: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) IsHalted(ctx context.Context, user string) (bool, error) {
	var halted bool
	err := s.pool.QueryRow(ctx, `SELECT trading_halted FROM risk_metrics WHERE username=$1`, user).Scan(&halted)
	if err != nil {
		return false, fmt.Errorf("portfolio: is halted: %w", err)
	}
	return halted, nil
}

func (s *PostgresStore) SectorWeights(ctx context.Context, user string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT st.sector, SUM(p.current_value)
		FROM positions p JOIN stocks st ON st.ticker = p.ticker
		WHERE p.username = $1 AND p.quantity > 0 AND p.archived = false
		GROUP BY st.sector`, user)
	if err != nil {
		return nil, fmt.Errorf("portfolio: sector weights: %w", err)
	}
	defer rows.Close()

	raw := map[string]decimal.Decimal{}
	var total decimal.Decimal
	for rows.Next() {
		var sector string
		var value decimal.Decimal
		if err := rows.Scan(&sector, &value); err != nil {
			return nil, fmt.Errorf("portfolio: scan sector weight: %w", err)
		}
		raw[sector] = value
		total = total.Add(value)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	weights := make(map[string]decimal.Decimal, len(raw))
	for sector, value := range raw {
		if total.IsZero() {
			weights[sector] = decimal.Zero
			continue
		}
		weights[sector] = value.Div(total).Mul(decimal.NewFromInt(100))
	}
	return weights, nil
}

// Snapshot takes a consistent (cash, positions) read inside one
// SERIALIZABLE transaction.
func (s *PostgresStore) Snapshot(ctx context.Context, user string) (Snapshot, error) {
	var snap Snapshot
	snap.User = user

	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.Serializable, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT cash_balance FROM accounts WHERE username=$1`, user).Scan(&snap.Cash); err != nil {
			return fmt.Errorf("read cash: %w", err)
		}

		rows, err := tx.Query(ctx, `
			SELECT username, ticker, quantity, avg_price, current_price, current_value,
			       invested_amount, realized_pnl, unrealized_pnl, unrealized_pnl_pct,
			       stop_loss_price, stop_loss_pct, take_profit_price, take_profit_pct,
			       trailing_stop_enabled, trailing_stop_distance_pct, trailing_stop_price,
			       highest_price_since_purchase, first_purchase_at, last_transaction_at, archived
			FROM positions WHERE username=$1 AND quantity > 0 AND archived = false`, user)
		if err != nil {
			return fmt.Errorf("read positions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			pos, err := scanPosition(rows)
			if err != nil {
				return fmt.Errorf("scan position: %w", err)
			}
			snap.Positions = append(snap.Positions, pos)
		}
		return rows.Err()
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("portfolio: snapshot: %w", err)
	}

	snap.CapturedAt = time.Now()
	return snap, nil
}

// scanner abstracts pgx.Row and pgx.Rows so scanPosition works for both
// single-row and multi-row queries.
type scanner interface {
	Scan(dest ...any) error
}

func scanPosition(row scanner) (domain.Position, error) {
	var p domain.Position
	err := row.Scan(&p.User, &p.Ticker, &p.Quantity, &p.AvgPrice, &p.CurrentPrice, &p.CurrentValue,
		&p.InvestedAmount, &p.RealizedPnL, &p.UnrealizedPnL, &p.UnrealizedPnLPct,
		&p.StopLossPrice, &p.StopLossPct, &p.TakeProfitPrice, &p.TakeProfitPct,
		&p.TrailingStopEnabled, &p.TrailingStopDistancePct, &p.TrailingStopPrice,
		&p.HighestPriceSincePurchase, &p.FirstPurchaseAt, &p.LastTransactionAt, &p.Archived)
	return p, err
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
