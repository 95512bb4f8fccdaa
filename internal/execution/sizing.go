package execution

import (
	"errors"
	"fmt"
	"math"
	"trade_pilot/internal/helper"
	"trade_pilot/internal/models"

	"github.com/shopspring/decimal"
)

var (
	ErrNoBalance     = errors.New("balance must be positive")
	ErrBelowMinSize  = errors.New("quantity below instrument minimum")
	ErrBadConfidence = errors.New("confidence out of [0,1]")
)

var hundred = decimal.NewFromInt(100)

// SizingRule сколько открывать.
type SizingRule interface {
	Size(balance decimal.Decimal, confidence float64, price decimal.Decimal, inst models.Instrument) (qty, notional decimal.Decimal, err error)
}

// FixedFraction notional = balance * FractionPct% * confidence, в рамках [MinNotional, MaxNotional].
type FixedFraction struct {
	FractionPct decimal.Decimal // 2 => 2%
	MinNotional decimal.Decimal
	MaxNotional decimal.Decimal // 0: без ограничения
}

func (f FixedFraction) Notional(balance decimal.Decimal, confidence float64) (decimal.Decimal, error) {
	if !balance.IsPositive() {
		return decimal.Zero, ErrNoBalance
	}
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrBadConfidence, confidence)
	}

	n := balance.Mul(f.FractionPct).Div(hundred).Mul(decimal.NewFromFloat(confidence))
	if n.LessThan(f.MinNotional) {
		n = f.MinNotional
	}
	if f.MaxNotional.IsPositive() && n.GreaterThan(f.MaxNotional) {
		n = f.MaxNotional
	}
	return n, nil
}

func (f FixedFraction) Size(balance decimal.Decimal, confidence float64, price decimal.Decimal, inst models.Instrument) (decimal.Decimal, decimal.Decimal, error) {
	if !price.IsPositive() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("price must be positive: %s", price)
	}
	notional, err := f.Notional(balance, confidence)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	qty := helper.RoundDownToStep(notional.Div(price), inst.LotSize)
	if !qty.IsPositive() || qty.LessThan(inst.MinSize) {
		return decimal.Zero, notional, fmt.Errorf("%w: qty=%s min=%s", ErrBelowMinSize, qty, inst.MinSize)
	}
	if inst.MaxMktSize.IsPositive() && qty.GreaterThan(inst.MaxMktSize) {
		qty = helper.RoundDownToStep(inst.MaxMktSize, inst.LotSize)
	}
	return qty, notional, nil
}
