package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type PositionSide string

const (
	SideNone  PositionSide = "NONE"
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Position одна на инструмент. NONE => Size == 0.
type Position struct {
	Side       PositionSide    `json:"side"`
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
}

func FlatPosition() Position {
	return Position{Side: SideNone}
}

func (p Position) IsFlat() bool {
	return p.Side == SideNone || p.Side == "" || p.Size.IsZero()
}

// Sign +1 long, -1 short, 0 flat.
func (p Position) Sign() decimal.Decimal {
	switch {
	case p.IsFlat():
		return decimal.Zero
	case p.Side == SideShort:
		return decimal.NewFromInt(-1)
	default:
		return decimal.NewFromInt(1)
	}
}

// Signed размер со знаком, удобно для метрик и сверки.
func (p Position) Signed() decimal.Decimal {
	return p.Size.Mul(p.Sign())
}

func (p Position) Equal(o Position) bool {
	if p.IsFlat() && o.IsFlat() {
		return true
	}
	return p.Side == o.Side && p.Size.Equal(o.Size) && p.EntryPrice.Equal(o.EntryPrice)
}

func (p Position) String() string {
	if p.IsFlat() {
		return "NONE"
	}
	return fmt.Sprintf("%s %s @ %s", p.Side, p.Size.String(), p.EntryPrice.String())
}

// UnrealizedPnL при текущей цене.
func (p Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	if p.IsFlat() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Mul(p.Size).Mul(p.Sign())
}
