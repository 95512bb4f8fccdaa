package exchange

import (
	"context"
	"time"
	"trade_pilot/internal/models"

	"github.com/shopspring/decimal"
)

// Quote лучшие цены стакана.
type Quote struct {
	Bid decimal.Decimal
	Ask decimal.Decimal
	At  time.Time
}

// Mid середина спреда.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// MarketData чтение рынка и аккаунта.
type MarketData interface {
	GetCandles(ctx context.Context, instID, bar string, limit int) ([]models.Candle, error)
	GetPosition(ctx context.Context, instID string) (models.Position, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	BestQuote(ctx context.Context, instID string) (Quote, error)
	Instrument(ctx context.Context, instID string) (models.Instrument, error)
}

// OrderGateway работа с ордерами. Количество: в базовой валюте.
type OrderGateway interface {
	// PlaceOrder возвращает ордер с ID биржи. Повтор ClientID => ErrDuplicateClientID.
	PlaceOrder(ctx context.Context, o models.Order) (models.Order, error)
	GetOrder(ctx context.Context, instID, orderID string) (models.Order, error)
	CancelOrder(ctx context.Context, instID, orderID string) error
	// FindOrder ищет ордер по clientID в любом статусе.
	FindOrder(ctx context.Context, instID, clientID string) (models.Order, bool, error)
}

type Exchange interface {
	MarketData
	OrderGateway
}

// LeverageSetter опционально: плечо и режим маржи перед входом.
type LeverageSetter interface {
	SetLeverage(ctx context.Context, instID string, leverage int, marginMode string) error
}
