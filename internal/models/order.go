package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

func (s OrderSide) Opposite() OrderSide {
	if s == OrderBuy {
		return OrderSell
	}
	return OrderBuy
}

type OrderType string

const (
	OrderLimit  OrderType = "LIMIT"
	OrderMarket OrderType = "MARKET"
)

type OrderStatus string

const (
	StatusPending         OrderStatus = "PENDING"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
)

// Terminal FILLED/CANCELED/REJECTED: дальше ордер не меняется.
func (s OrderStatus) Terminal() bool {
	return s == StatusFilled || s == StatusCanceled || s == StatusRejected
}

// Order количество всегда в базовой валюте (BTC), не в контрактах.
type Order struct {
	ID           string          `json:"id"`
	ClientID     string          `json:"client_id"`
	InstID       string          `json:"inst_id"`
	Type         OrderType       `json:"type"`
	Side         OrderSide       `json:"side"`
	Quantity     decimal.Decimal `json:"quantity"`
	Price        decimal.Decimal `json:"price"`
	ReduceOnly   bool            `json:"reduce_only"`
	Status       OrderStatus     `json:"status"`
	FilledQty    decimal.Decimal `json:"filled_qty"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Reason       string          `json:"reason,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (o Order) Remaining() decimal.Decimal {
	r := o.Quantity.Sub(o.FilledQty)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

// Fill подтверждённое исполнение одного ордера (суммарно, по средней цене).
type Fill struct {
	OrderID  string          `json:"order_id"`
	ClientID string          `json:"client_id"`
	Side     OrderSide       `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	At       time.Time       `json:"at"`
}

// FillOf nil-ok=false если по ордеру ничего не исполнилось.
func FillOf(o Order) (Fill, bool) {
	if !o.FilledQty.IsPositive() || !o.AvgFillPrice.IsPositive() {
		return Fill{}, false
	}
	at := o.UpdatedAt
	if at.IsZero() {
		at = o.CreatedAt
	}
	return Fill{
		OrderID:  o.ID,
		ClientID: o.ClientID,
		Side:     o.Side,
		Quantity: o.FilledQty,
		Price:    o.AvgFillPrice,
		At:       at,
	}, true
}
