package tracker

import (
	"errors"
	"fmt"
	"sync"
	"trade_pilot/internal/models"

	"github.com/shopspring/decimal"
)

var (
	// ErrReconcileMismatch локальная позиция разошлась с биржей больше допуска.
	ErrReconcileMismatch = errors.New("position reconcile mismatch")
	ErrInvalidFill       = errors.New("invalid fill")
)

// MismatchError детали расхождения для алерта.
type MismatchError struct {
	InstID   string
	Local    models.Position
	Exchange models.Position
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s: local=%s exchange=%s", e.InstID, e.Local, e.Exchange)
}

func (e *MismatchError) Unwrap() error { return ErrReconcileMismatch }

// Tracker авторитетная локальная позиция по одному инструменту.
// Меняется только через Reconcile (данные биржи) и Apply (подтверждённые исполнения).
type Tracker struct {
	mu sync.Mutex

	instID      string
	tolerance   decimal.Decimal
	pos         models.Position
	initialized bool
	realized    decimal.Decimal
}

func New(instID string, tolerance decimal.Decimal) *Tracker {
	if tolerance.IsNegative() {
		tolerance = decimal.Zero
	}
	return &Tracker{
		instID:    instID,
		tolerance: tolerance,
		pos:       models.FlatPosition(),
	}
}

func (t *Tracker) InstID() string { return t.instID }

func (t *Tracker) Snapshot() models.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}

// Realized накопленный реализованный PnL с момента старта.
func (t *Tracker) Realized() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.realized
}

// Reconcile перезаписывает локальную позицию биржевой. Первый вызов просто принимает
// состояние биржи. Если расхождение больше допуска: возвращает *MismatchError,
// но позиция всё равно перезаписана: следующий цикл сверится уже чисто.
func (t *Tracker) Reconcile(exch models.Position) (models.Position, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exch = normalize(exch)
	local := t.pos
	wasInit := t.initialized

	t.pos = exch
	t.initialized = true

	if !wasInit {
		return t.pos, nil
	}
	if diverged(local, exch, t.tolerance) {
		return t.pos, &MismatchError{InstID: t.instID, Local: local, Exchange: exch}
	}
	return t.pos, nil
}

func diverged(local, exch models.Position, tol decimal.Decimal) bool {
	if local.IsFlat() != exch.IsFlat() {
		// одна сторона плоская: сравниваем размер с допуском (пыль)
		return local.Size.Sub(exch.Size).Abs().GreaterThan(tol)
	}
	if local.IsFlat() {
		return false
	}
	if local.Side != exch.Side {
		return true
	}
	return local.Size.Sub(exch.Size).Abs().GreaterThan(tol)
}

// Apply применяет исполнение. Возвращает позицию после и реализованный PnL этого fill.
func (t *Tracker) Apply(f models.Fill) (models.Position, decimal.Decimal, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next, pnl, err := ApplyFill(t.pos, f)
	if err != nil {
		return t.pos, decimal.Zero, err
	}
	t.pos = next
	t.realized = t.realized.Add(pnl)
	return t.pos, pnl, nil
}

// ApplyFill чистая функция: позиция + fill => новая позиция + PnL.
func ApplyFill(pos models.Position, f models.Fill) (models.Position, decimal.Decimal, error) {
	if !f.Quantity.IsPositive() || !f.Price.IsPositive() {
		return pos, decimal.Zero, fmt.Errorf("%w: qty=%s price=%s", ErrInvalidFill, f.Quantity, f.Price)
	}
	fillSide := sideOf(f.Side)
	if fillSide == models.SideNone {
		return pos, decimal.Zero, fmt.Errorf("%w: side=%q", ErrInvalidFill, f.Side)
	}

	pos = normalize(pos)

	// открытие с нуля
	if pos.IsFlat() {
		return models.Position{
			Side:       fillSide,
			Size:       f.Quantity,
			EntryPrice: f.Price,
			OpenedAt:   f.At,
		}, decimal.Zero, nil
	}

	// добор в ту же сторону: VWAP
	if pos.Side == fillSide {
		newSize := pos.Size.Add(f.Quantity)
		notional := pos.Size.Mul(pos.EntryPrice).Add(f.Quantity.Mul(f.Price))
		pos.EntryPrice = notional.Div(newSize)
		pos.Size = newSize
		return pos, decimal.Zero, nil
	}

	// закрытие (полное/частичное)
	closeQty := decimal.Min(f.Quantity, pos.Size)
	pnl := f.Price.Sub(pos.EntryPrice).Mul(closeQty).Mul(pos.Sign())
	rest := pos.Size.Sub(closeQty)
	excess := f.Quantity.Sub(closeQty)

	if rest.IsPositive() {
		pos.Size = rest
		return pos, pnl, nil
	}
	if excess.IsPositive() {
		// переворот: остаток открывает противоположную сторону
		return models.Position{
			Side:       fillSide,
			Size:       excess,
			EntryPrice: f.Price,
			OpenedAt:   f.At,
		}, pnl, nil
	}
	return models.FlatPosition(), pnl, nil
}

func sideOf(s models.OrderSide) models.PositionSide {
	switch s {
	case models.OrderBuy:
		return models.SideLong
	case models.OrderSell:
		return models.SideShort
	default:
		return models.SideNone
	}
}

func normalize(p models.Position) models.Position {
	if p.IsFlat() {
		return models.FlatPosition()
	}
	return p
}
