// Package journal журнал исходов торговых циклов. Только добавление: запись
// получает ID и больше не меняется.
package journal

import (
	"context"
	"errors"
	"sort"
	"time"
	"trade_pilot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("journal: no records")

type Store interface {
	// Record добавляет запись и проставляет rec.ID.
	Record(ctx context.Context, rec *models.TradeRecord) error
	// Range записи с CycleAt в [from, to], по возрастанию.
	Range(ctx context.Context, from, to time.Time) ([]models.TradeRecord, error)
	// Recent не старше since, новые первыми, не больше limit (0: без лимита).
	Recent(ctx context.Context, since time.Time, limit int) ([]models.TradeRecord, error)
	Last(ctx context.Context) (models.TradeRecord, error)
	Close() error
}

// Performance изменение баланса в % между самой старой и самой новой записью.
// ok=false если записей меньше двух или стартовый баланс нулевой.
func Performance(records []models.TradeRecord) (decimal.Decimal, bool) {
	if len(records) < 2 {
		return decimal.Zero, false
	}
	oldest, newest := records[0], records[0]
	for _, r := range records[1:] {
		if r.CycleAt.Before(oldest.CycleAt) {
			oldest = r
		}
		if !r.CycleAt.Before(newest.CycleAt) {
			newest = r
		}
	}
	if !oldest.Balance.IsPositive() {
		return decimal.Zero, false
	}
	pct := newest.Balance.Sub(oldest.Balance).Div(oldest.Balance).Mul(decimal.NewFromInt(100))
	return pct.Round(4), true
}

func encode(rec *models.TradeRecord) ([]byte, error) {
	return sonic.Marshal(rec)
}

func decode(id int64, data []byte) (models.TradeRecord, error) {
	var rec models.TradeRecord
	if err := sonic.Unmarshal(data, &rec); err != nil {
		return models.TradeRecord{}, err
	}
	rec.ID = id
	return rec, nil
}

func newestFirst(recs []models.TradeRecord, limit int) []models.TradeRecord {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CycleAt.Equal(recs[j].CycleAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CycleAt.After(recs[j].CycleAt)
	})
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}
