package journal

import (
	"context"
	"errors"
	"fmt"
	"time"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/db"

	"github.com/jackc/pgx/v5"
)

const pgSchema = `
CREATE TABLE IF NOT EXISTS trade_records (
    id         BIGSERIAL PRIMARY KEY,
    cycle_id   TEXT        NOT NULL,
    cycle_at   TIMESTAMPTZ NOT NULL,
    inst_id    TEXT        NOT NULL,
    outcome    TEXT        NOT NULL,
    payload    JSONB       NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_trade_records_cycle_at ON trade_records (cycle_at);
`

// Postgres журнал в trade_records, тело записи в JSONB.
type Postgres struct {
	db db.TxManager
}

var _ Store = (*Postgres)(nil)

func NewPostgres(ctx context.Context, tm db.TxManager) (*Postgres, error) {
	if _, err := tm.Conn().Exec(ctx, pgSchema); err != nil {
		return nil, fmt.Errorf("pg.Migrate: %w", err)
	}
	return &Postgres{db: tm}, nil
}

func (p *Postgres) Record(ctx context.Context, rec *models.TradeRecord) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Record: %w", err)
		}
	}()

	data, err := encode(rec)
	if err != nil {
		return err
	}
	return p.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		return tx.QueryRow(ctxTx, `
INSERT INTO trade_records (cycle_id, cycle_at, inst_id, outcome, payload)
VALUES ($1, $2, $3, $4, $5)
RETURNING id`,
			rec.CycleID, rec.CycleAt.UTC(), rec.InstID, string(rec.Outcome), data,
		).Scan(&rec.ID)
	})
}

func (p *Postgres) Range(ctx context.Context, from, to time.Time) (out []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Range: %w", err)
		}
	}()
	err = p.db.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		out, err = collect(ctxTx, tx, `
SELECT id, payload FROM trade_records
WHERE cycle_at BETWEEN $1 AND $2
ORDER BY cycle_at, id`, from.UTC(), to.UTC())
		return err
	})
	return out, err
}

func (p *Postgres) Recent(ctx context.Context, since time.Time, limit int) (out []models.TradeRecord, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("pg.Recent: %w", err)
		}
	}()
	var lim any // NULL: без лимита
	if limit > 0 {
		lim = limit
	}
	err = p.db.RunReadOnly(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		out, err = collect(ctxTx, tx, `
SELECT id, payload FROM trade_records
WHERE cycle_at >= $1
ORDER BY cycle_at DESC, id DESC
LIMIT $2`, since.UTC(), lim)
		return err
	})
	return out, err
}

func (p *Postgres) Last(ctx context.Context) (models.TradeRecord, error) {
	var (
		id   int64
		data []byte
	)
	err := p.db.Conn().QueryRow(ctx, `SELECT id, payload FROM trade_records ORDER BY id DESC LIMIT 1`).Scan(&id, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.TradeRecord{}, ErrNotFound
	}
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("pg.Last: %w", err)
	}
	return decode(id, data)
}

// Close пул закрывает модуль postgres.
func (p *Postgres) Close() error { return nil }

func collect(ctx context.Context, tx pgx.Tx, q string, args ...any) ([]models.TradeRecord, error) {
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			id   int64
			data []byte
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, err
		}
		rec, err := decode(id, data)
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
