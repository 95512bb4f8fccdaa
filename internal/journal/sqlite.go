package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"trade_pilot/internal/models"

	_ "github.com/mattn/go-sqlite3"
)

// SQLite локальный файл-журнал, WAL.
type SQLite struct {
	db *sql.DB
}

var _ Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS trade_records (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    cycle_id  TEXT NOT NULL,
    cycle_at  INTEGER NOT NULL,
    inst_id   TEXT NOT NULL,
    outcome   TEXT NOT NULL,
    payload   TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_records_cycle_at ON trade_records(cycle_at);
`

func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Record(ctx context.Context, rec *models.TradeRecord) error {
	data, err := encode(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
INSERT INTO trade_records (cycle_id, cycle_at, inst_id, outcome, payload)
VALUES (?, ?, ?, ?, ?)`,
		rec.CycleID, rec.CycleAt.UnixNano(), rec.InstID, string(rec.Outcome), string(data))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	rec.ID = id
	return nil
}

func (s *SQLite) Range(ctx context.Context, from, to time.Time) ([]models.TradeRecord, error) {
	return s.query(ctx, `
SELECT id, payload FROM trade_records
WHERE cycle_at >= ? AND cycle_at <= ?
ORDER BY cycle_at ASC, id ASC`, from.UnixNano(), to.UnixNano())
}

func (s *SQLite) Recent(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error) {
	if limit <= 0 {
		limit = -1 // в sqlite LIMIT -1: без ограничения
	}
	return s.query(ctx, `
SELECT id, payload FROM trade_records
WHERE cycle_at >= ?
ORDER BY cycle_at DESC, id DESC
LIMIT ?`, since.UnixNano(), limit)
}

func (s *SQLite) Last(ctx context.Context) (models.TradeRecord, error) {
	var (
		id   int64
		data string
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, payload FROM trade_records ORDER BY id DESC LIMIT 1`).Scan(&id, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.TradeRecord{}, ErrNotFound
	}
	if err != nil {
		return models.TradeRecord{}, fmt.Errorf("last record: %w", err)
	}
	return decode(id, []byte(data))
}

func (s *SQLite) query(ctx context.Context, q string, args ...any) ([]models.TradeRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []models.TradeRecord
	for rows.Next() {
		var (
			id   int64
			data string
		)
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rec, err := decode(id, []byte(data))
		if err != nil {
			return nil, fmt.Errorf("decode record %d: %w", id, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
