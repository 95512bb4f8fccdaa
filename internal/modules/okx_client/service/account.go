package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"trade_pilot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// GetBalance эквити в USDT.
func (c *Client) GetBalance(ctx context.Context) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ccy", "USDT")

	var rows []balanceRow
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/balance", q, nil, true, &rows); err != nil {
		return decimal.Zero, err
	}
	if len(rows) == 0 {
		return decimal.Zero, errors.New("balance: empty response")
	}
	for _, d := range rows[0].Details {
		if strings.EqualFold(d.Ccy, "USDT") {
			if eq := dec(d.Eq); !eq.IsZero() {
				return eq, nil
			}
			return dec(d.CashBal), nil
		}
	}
	return dec(rows[0].TotalEq), nil
}

// GetPosition позиция по инструменту в базовой валюте.
// Поддерживаем net-режим (pos со знаком) и long/short режим.
func (c *Client) GetPosition(ctx context.Context, instID string) (models.Position, error) {
	inst, err := c.Instrument(ctx, instID)
	if err != nil {
		return models.Position{}, err
	}

	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", instID)

	var rows []positionRow
	if err := c.do(ctx, http.MethodGet, "/api/v5/account/positions", q, nil, true, &rows); err != nil {
		return models.Position{}, err
	}

	signed := decimal.Zero
	notional := decimal.Zero
	var openedAt time.Time
	for _, r := range rows {
		if r.InstID != instID {
			continue
		}
		n := dec(r.Pos)
		if n.IsZero() {
			continue
		}
		if strings.EqualFold(r.PosSide, "short") && n.IsPositive() {
			n = n.Neg()
		}
		size := fromContracts(n, inst)
		signed = signed.Add(size)
		notional = notional.Add(size.Abs().Mul(dec(r.AvgPx)))
		if openedAt.IsZero() {
			openedAt = msTime(r.CTime)
		}
	}

	if signed.IsZero() {
		return models.FlatPosition(), nil
	}
	pos := models.Position{
		Side:       models.SideLong,
		Size:       signed.Abs(),
		EntryPrice: notional.Div(signed.Abs()),
		OpenedAt:   openedAt,
	}
	if signed.IsNegative() {
		pos.Side = models.SideShort
	}
	return pos, nil
}

// SetLeverage /account/set-leverage. marginMode cross / isolated.
func (c *Client) SetLeverage(ctx context.Context, instID string, leverage int, marginMode string) error {
	if leverage <= 0 {
		return errors.Errorf("set leverage %s: leverage must be positive", instID)
	}
	mode := strings.ToLower(marginMode)
	if mode == "" {
		mode = c.tdMode
	}
	body := map[string]string{
		"instId":  instID,
		"lever":   strconv.Itoa(leverage),
		"mgnMode": mode,
	}
	return c.do(ctx, http.MethodPost, "/api/v5/account/set-leverage", nil, body, true, nil)
}
