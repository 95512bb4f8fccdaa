package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"

	"github.com/pkg/errors"
)

// PlaceOrder /trade/order. Количество переводится в контракты по ctVal.
func (c *Client) PlaceOrder(ctx context.Context, o models.Order) (models.Order, error) {
	inst, err := c.Instrument(ctx, o.InstID)
	if err != nil {
		return models.Order{}, err
	}
	sz := toContracts(o.Quantity, inst)
	if !sz.IsPositive() {
		return models.Order{}, exchange.Rejected("size below one lot: " + o.Quantity.String())
	}

	body := map[string]any{
		"instId":  o.InstID,
		"tdMode":  c.tdMode,
		"side":    strings.ToLower(string(o.Side)),
		"ordType": strings.ToLower(string(o.Type)),
		"sz":      sz.String(),
		"clOrdId": o.ClientID,
	}
	if o.Type == models.OrderLimit {
		body["px"] = o.Price.String()
	}
	if o.ReduceOnly {
		body["reduceOnly"] = true
	}

	var rows []placeRow
	if err := c.do(ctx, http.MethodPost, "/api/v5/trade/order", nil, body, true, &rows); err != nil {
		return models.Order{}, err
	}
	if len(rows) == 0 || rows[0].OrdID == "" {
		return models.Order{}, errors.Errorf("place order %s: empty ordId", o.ClientID)
	}

	now := time.Now().UTC()
	o.ID = rows[0].OrdID
	o.Status = models.StatusPending
	o.CreatedAt = now
	o.UpdatedAt = now
	logger.Info("[OKX] order placed %s %s %s sz=%s px=%s ordId=%s clOrdId=%s",
		o.InstID, o.Type, o.Side, sz, o.Price, o.ID, o.ClientID)
	return o, nil
}

func (c *Client) GetOrder(ctx context.Context, instID, orderID string) (models.Order, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("ordId", orderID)
	return c.queryOrder(ctx, instID, q)
}

// FindOrder по clOrdId. 51603: такого нет, это не ошибка.
func (c *Client) FindOrder(ctx context.Context, instID, clientID string) (models.Order, bool, error) {
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("clOrdId", clientID)
	o, err := c.queryOrder(ctx, instID, q)
	if errors.Is(err, exchange.ErrOrderNotFound) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, err
	}
	return o, true, nil
}

// CancelOrder уже исполненный/отменённый ордер (51400-51402): не ошибка.
func (c *Client) CancelOrder(ctx context.Context, instID, orderID string) error {
	body := map[string]string{"instId": instID, "ordId": orderID}
	err := c.do(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, body, true, nil)
	switch apiCode(err) {
	case "51400", "51401", "51402":
		logger.Info("[OKX] cancel %s: already final (%v)", orderID, err)
		return nil
	}
	return err
}

func (c *Client) queryOrder(ctx context.Context, instID string, q url.Values) (models.Order, error) {
	inst, err := c.Instrument(ctx, instID)
	if err != nil {
		return models.Order{}, err
	}
	var rows []orderRow
	if err := c.do(ctx, http.MethodGet, "/api/v5/trade/order", q, nil, true, &rows); err != nil {
		return models.Order{}, err
	}
	if len(rows) == 0 {
		return models.Order{}, errors.Wrapf(exchange.ErrOrderNotFound, "order %s", q.Encode())
	}
	return toOrder(rows[0], inst), nil
}

func toOrder(r orderRow, inst models.Instrument) models.Order {
	o := models.Order{
		ID:           r.OrdID,
		ClientID:     r.ClOrdID,
		InstID:       r.InstID,
		Type:         models.OrderLimit,
		Side:         models.OrderSide(strings.ToUpper(r.Side)),
		Quantity:     fromContracts(dec(r.Sz), inst),
		Price:        dec(r.Px),
		ReduceOnly:   r.ReduceOnly == "true",
		FilledQty:    fromContracts(dec(r.AccFillSz), inst),
		AvgFillPrice: dec(r.AvgPx),
		CreatedAt:    msTime(r.CTime),
		UpdatedAt:    msTime(r.UTime),
	}
	if r.OrdType == "market" || r.OrdType == "optimal_limit_ioc" {
		o.Type = models.OrderMarket
	}

	switch r.State {
	case "filled":
		o.Status = models.StatusFilled
	case "partially_filled":
		o.Status = models.StatusPartiallyFilled
	case "canceled", "mmp_canceled":
		o.Status = models.StatusCanceled
	default:
		o.Status = models.StatusPending
	}
	return o
}
