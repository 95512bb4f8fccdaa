// Package decision источники торговых решений: LLM, правило EMA/RSI и вспомогательные
// фиды (индекс страха и жадности, рефлексия по последним сделкам).
package decision

import (
	"context"
	"errors"
	"fmt"
	"math"
	"trade_pilot/internal/models"

	"github.com/shopspring/decimal"
)

// ErrInvalidDecision ответ источника не разобрать или он вне контракта.
var ErrInvalidDecision = errors.New("invalid decision")

// Context всё, что видит источник решения за цикл.
type Context struct {
	InstID     string
	Price      decimal.Decimal
	Balance    decimal.Decimal
	Position   models.Position
	Series     []models.Series
	Recent     []models.TradeRecord
	Reflection string
	FearGreed  *Index
}

// Source внешний источник решений. Должен уложиться в ctx.
type Source interface {
	Decide(ctx context.Context, in Context) (models.Decision, error)
}

// Validate действие из списка и в каноничном написании, confidence в [0,1].
// Свободный текст нормализует ParseAction до Validate, дальше действие сравнивается как есть.
func Validate(d models.Decision) error {
	canon, ok := models.ParseAction(string(d.Action))
	if !ok {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidDecision, d.Action)
	}
	if canon != d.Action {
		return fmt.Errorf("%w: action %q is not canonical, want %q", ErrInvalidDecision, d.Action, canon)
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v out of [0,1]", ErrInvalidDecision, d.Confidence)
	}
	return nil
}

// SeriesFor серия по бару, иначе последняя (самый мелкий таймфрейм).
func SeriesFor(in Context, bar string) (models.Series, bool) {
	for _, s := range in.Series {
		if s.Bar == bar {
			return s, true
		}
	}
	if len(in.Series) == 0 {
		return models.Series{}, false
	}
	return in.Series[len(in.Series)-1], true
}
