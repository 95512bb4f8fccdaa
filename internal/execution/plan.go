package execution

import (
	"errors"
	"fmt"
	"strings"
	"trade_pilot/internal/helper"
	"trade_pilot/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrInvalidTransition решение не сходится с текущей позицией. Не ретраим.
var ErrInvalidTransition = errors.New("invalid transition")

const (
	legEntry    = "entry"
	legClose    = "close"
	legFallback = "fallback"
)

var clientIDSpace = uuid.MustParse("6f1c9a52-3c0e-4b7a-9d51-2f6a1b0c7e44")

// ClientOrderID детерминированный clOrdId: 32 hex, одинаковый для одного цикла и ноги.
func ClientOrderID(cycleID, leg string) string {
	u := uuid.NewSHA1(clientIDSpace, []byte(cycleID+"|"+leg))
	return strings.ReplaceAll(u.String(), "-", "")
}

// Plan что делать с решением при текущей позиции.
type Plan struct {
	Leg        string
	Side       models.OrderSide
	ReduceOnly bool
	Quantity   decimal.Decimal // только для закрытия: весь текущий размер
}

// PlanFor HOLD => ok=false без ошибки. Любая несогласованная пара => ErrInvalidTransition.
func PlanFor(d models.Decision, pos models.Position) (Plan, bool, error) {
	switch d.Action {
	case models.ActionHold:
		return Plan{}, false, nil

	case models.ActionOpenLong, models.ActionOpenShort:
		if !pos.IsFlat() {
			return Plan{}, false, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, d.Action, pos.Side)
		}
		side := models.OrderBuy
		if d.Action == models.ActionOpenShort {
			side = models.OrderSell
		}
		return Plan{Leg: legEntry, Side: side}, true, nil

	case models.ActionCloseLong:
		if pos.IsFlat() || pos.Side != models.SideLong {
			return Plan{}, false, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, d.Action, sideName(pos))
		}
		return Plan{Leg: legClose, Side: models.OrderSell, ReduceOnly: true, Quantity: pos.Size}, true, nil

	case models.ActionCloseShort:
		if pos.IsFlat() || pos.Side != models.SideShort {
			return Plan{}, false, fmt.Errorf("%w: %s while %s", ErrInvalidTransition, d.Action, sideName(pos))
		}
		return Plan{Leg: legClose, Side: models.OrderBuy, ReduceOnly: true, Quantity: pos.Size}, true, nil
	}

	return Plan{}, false, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, d.Action)
}

func sideName(p models.Position) models.PositionSide {
	if p.IsFlat() {
		return models.SideNone
	}
	return p.Side
}

// LimitPrice BUY от бида вверх на offset%, SELL от аска вниз. Округление до тика.
func LimitPrice(side models.OrderSide, bid, ask, offsetPct, tick decimal.Decimal) (decimal.Decimal, error) {
	ref := bid
	if side == models.OrderSell {
		ref = ask
	}
	if !ref.IsPositive() {
		// одной стороны стакана нет: берём другую
		if side == models.OrderSell {
			ref = bid
		} else {
			ref = ask
		}
	}
	if !ref.IsPositive() {
		return decimal.Zero, fmt.Errorf("no quote: bid=%s ask=%s", bid, ask)
	}

	k := offsetPct.Div(hundred)
	px := ref.Mul(decimal.NewFromInt(1).Add(k))
	if side == models.OrderSell {
		px = ref.Mul(decimal.NewFromInt(1).Sub(k))
	}
	return helper.RoundToTick(px, tick), nil
}
