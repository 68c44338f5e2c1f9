package simserver

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/mcdev12/roundclient/go/internal/models"
	"github.com/mcdev12/roundclient/go/internal/sqlutil"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
    id         BIGINT PRIMARY KEY,
    balance    NUMERIC(20, 2) NOT NULL DEFAULT 10000,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS trading_pairs (
    id       BIGINT PRIMARY KEY,
    symbol   TEXT UNIQUE NOT NULL,
    name     TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'crypto',
    active   BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS rounds (
    id          UUID PRIMARY KEY,
    user_id     BIGINT NOT NULL REFERENCES users (id),
    pair_id     BIGINT NOT NULL REFERENCES trading_pairs (id),
    direction   TEXT NOT NULL,
    amount      NUMERIC(20, 2) NOT NULL,
    duration    INTEGER NOT NULL,
    start_time  TIMESTAMPTZ NOT NULL,
    end_time    TIMESTAMPTZ NOT NULL,
    status      TEXT NOT NULL DEFAULT 'active',
    start_price DOUBLE PRECISION
);

CREATE INDEX IF NOT EXISTS rounds_status_end_time_idx ON rounds (status, end_time);

CREATE TABLE IF NOT EXISTS round_results (
    round_id  UUID PRIMARY KEY REFERENCES rounds (id),
    win       BOOLEAN NOT NULL,
    profit    NUMERIC(20, 2) NOT NULL,
    end_price DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const roundColumns = `
    r.id, r.user_id, r.pair_id, r.direction, r.amount, r.duration,
    r.start_time, r.end_time, r.status, r.start_price, tp.symbol, tp.name`

// PostgresRepository persists state with pgx.
type PostgresRepository struct {
	pool           *pgxpool.Pool
	defaultWinRate int
}

var _ Repository = (*PostgresRepository)(nil)

func NewPostgresRepository(pool *pgxpool.Pool, defaultWinRate int) *PostgresRepository {
	return &PostgresRepository{pool: pool, defaultWinRate: defaultWinRate}
}

// Migrate creates the schema and seeds the given pairs and users. Existing
// rows are left untouched.
func (r *PostgresRepository) Migrate(ctx context.Context, pairs []models.Pair, balances map[int64]decimal.Decimal) error {
	return sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, schema); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
		for _, p := range pairs {
			if _, err := tx.Exec(ctx, `
                INSERT INTO trading_pairs (id, symbol, name, category)
                VALUES ($1, $2, $3, $4)
                ON CONFLICT (id) DO NOTHING
            `, int64(p.ID), p.Symbol, p.Name, p.Category); err != nil {
				return fmt.Errorf("seed pair %s: %w", p.Symbol, err)
			}
		}
		for id, balance := range balances {
			if _, err := tx.Exec(ctx, `
                INSERT INTO users (id, balance) VALUES ($1, $2)
                ON CONFLICT (id) DO NOTHING
            `, id, sqlutil.ToNumeric(balance)); err != nil {
				return fmt.Errorf("seed user %d: %w", id, err)
			}
		}
		log.Info().Int("pairs", len(pairs)).Int("users", len(balances)).Msg("database schema ready")
		return nil
	})
}

func (r *PostgresRepository) ListPairs(ctx context.Context) ([]models.Pair, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT id, symbol, name, category FROM trading_pairs
        WHERE active ORDER BY id
    `)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var pairs []models.Pair
	for rows.Next() {
		var (
			p  models.Pair
			id int64
		)
		if err := rows.Scan(&id, &p.Symbol, &p.Name, &p.Category); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		p.ID = models.PairID(id)
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

func (r *PostgresRepository) GetPair(ctx context.Context, id models.PairID) (models.Pair, error) {
	p := models.Pair{ID: id}
	err := r.pool.QueryRow(ctx, `
        SELECT symbol, name, category FROM trading_pairs WHERE id = $1 AND active
    `, int64(id)).Scan(&p.Symbol, &p.Name, &p.Category)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Pair{}, ErrPairNotFound
	}
	if err != nil {
		return models.Pair{}, fmt.Errorf("get pair %d: %w", id, err)
	}
	return p, nil
}

func (r *PostgresRepository) GetBalance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return balanceOf(ctx, r.pool, userID, false)
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func balanceOf(ctx context.Context, q queryRower, userID int64, forUpdate bool) (decimal.Decimal, error) {
	query := `SELECT balance FROM users WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var balance pgtype.Numeric
	err := q.QueryRow(ctx, query, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrUserNotFound
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get balance for user %d: %w", userID, err)
	}
	return sqlutil.FromNumeric(balance)
}

func (r *PostgresRepository) CreateRound(ctx context.Context, round RoundRecord) error {
	return sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		balance, err := balanceOf(ctx, tx, round.UserID, true)
		if err != nil {
			return err
		}
		if balance.LessThan(round.Amount) {
			return ErrInsufficientBalance
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO rounds (id, user_id, pair_id, direction, amount, duration, start_time, end_time, status, start_price)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        `,
			round.ID, round.UserID, int64(round.PairID), round.Direction.Label(), sqlutil.ToNumeric(round.Amount),
			round.Duration, round.StartTime, round.EndTime, string(RoundStatusActive), sqlutil.ToFloat8(&round.StartPrice),
		); err != nil {
			return fmt.Errorf("insert round: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            UPDATE users SET balance = balance - $2 WHERE id = $1
        `, round.UserID, sqlutil.ToNumeric(round.Amount)); err != nil {
			return fmt.Errorf("debit stake: %w", err)
		}
		return nil
	})
}

func (r *PostgresRepository) GetRound(ctx context.Context, id uuid.UUID) (RoundRecord, error) {
	round, err := scanRound(r.pool.QueryRow(ctx, `
        SELECT`+roundColumns+`
        FROM rounds r JOIN trading_pairs tp ON r.pair_id = tp.id
        WHERE r.id = $1
    `, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return RoundRecord{}, ErrRoundNotFound
	}
	return round, err
}

func (r *PostgresRepository) ActiveRounds(ctx context.Context, userID int64) ([]RoundRecord, error) {
	return r.queryRounds(ctx, `
        SELECT`+roundColumns+`
        FROM rounds r JOIN trading_pairs tp ON r.pair_id = tp.id
        WHERE r.user_id = $1 AND r.status = 'active'
        ORDER BY r.start_time DESC
    `, userID)
}

func (r *PostgresRepository) DueRounds(ctx context.Context, t time.Time) ([]RoundRecord, error) {
	return r.queryRounds(ctx, `
        SELECT`+roundColumns+`
        FROM rounds r JOIN trading_pairs tp ON r.pair_id = tp.id
        WHERE r.status = 'active' AND r.end_time <= $1
        ORDER BY r.end_time
    `, t)
}

func (r *PostgresRepository) queryRounds(ctx context.Context, query string, args ...any) ([]RoundRecord, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rounds: %w", err)
	}
	defer rows.Close()

	var out []RoundRecord
	for rows.Next() {
		rd, err := scanRound(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rd)
	}
	return out, rows.Err()
}

func scanRound(row pgx.Row) (RoundRecord, error) {
	var (
		rd         RoundRecord
		pairID     int64
		direction  string
		amount     pgtype.Numeric
		status     string
		startPrice pgtype.Float8
	)
	if err := row.Scan(
		&rd.ID, &rd.UserID, &pairID, &direction, &amount, &rd.Duration,
		&rd.StartTime, &rd.EndTime, &status, &startPrice, &rd.Symbol, &rd.Name,
	); err != nil {
		return RoundRecord{}, fmt.Errorf("scan round: %w", err)
	}

	dir, err := models.ParseDirection(direction)
	if err != nil {
		return RoundRecord{}, fmt.Errorf("round %s: %w", rd.ID, err)
	}
	rd.Amount, err = sqlutil.FromNumeric(amount)
	if err != nil {
		return RoundRecord{}, fmt.Errorf("round %s amount: %w", rd.ID, err)
	}
	rd.PairID = models.PairID(pairID)
	rd.Direction = dir
	rd.Status = RoundStatus(status)
	rd.StartPrice = sqlutil.FromFloat8(startPrice, 0)
	rd.StartTime = rd.StartTime.UTC()
	rd.EndTime = rd.EndTime.UTC()
	return rd, nil
}

func (r *PostgresRepository) FinishRound(ctx context.Context, id uuid.UUID, outcome Outcome) (RoundRecord, decimal.Decimal, error) {
	var (
		round   RoundRecord
		balance decimal.Decimal
	)
	err := sqlutil.Run(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		round, err = scanRound(tx.QueryRow(ctx, `
            SELECT`+roundColumns+`
            FROM rounds r JOIN trading_pairs tp ON r.pair_id = tp.id
            WHERE r.id = $1 AND r.status = 'active'
            FOR UPDATE OF r
        `, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRoundNotFound
		}
		if err != nil {
			return err
		}

		if outcome.Win {
			credit := round.Amount.Add(outcome.Profit)
			if _, err := tx.Exec(ctx, `
                UPDATE users SET balance = balance + $2 WHERE id = $1
            `, round.UserID, sqlutil.ToNumeric(credit)); err != nil {
				return fmt.Errorf("credit win: %w", err)
			}
		}

		if _, err := tx.Exec(ctx, `
            INSERT INTO round_results (round_id, win, profit, end_price) VALUES ($1, $2, $3, $4)
        `, id, outcome.Win, sqlutil.ToNumeric(outcome.Profit), outcome.EndPrice); err != nil {
			return fmt.Errorf("insert round result: %w", err)
		}

		if _, err := tx.Exec(ctx, `
            UPDATE rounds SET status = $2 WHERE id = $1
        `, id, string(RoundStatusFinished)); err != nil {
			return fmt.Errorf("mark round finished: %w", err)
		}

		round.Status = RoundStatusFinished
		balance, err = balanceOf(ctx, tx, round.UserID, false)
		return err
	})
	if err != nil {
		return RoundRecord{}, decimal.Zero, err
	}
	return round, balance, nil
}

func (r *PostgresRepository) GetWinRate(ctx context.Context) (int, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = 'win_rate'`).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.defaultWinRate, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get win rate: %w", err)
	}
	rate, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("stored win rate %q: %w", value, err)
	}
	return rate, nil
}

func (r *PostgresRepository) SetWinRate(ctx context.Context, rate int) error {
	if _, err := r.pool.Exec(ctx, `
        INSERT INTO settings (key, value) VALUES ('win_rate', $1)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
    `, strconv.Itoa(rate)); err != nil {
		return fmt.Errorf("set win rate: %w", err)
	}
	return nil
}
