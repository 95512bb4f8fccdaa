package service

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"trade_pilot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Instrument шаги инструмента в базовой валюте. Кэшируется на процесс.
func (c *Client) Instrument(ctx context.Context, instID string) (models.Instrument, error) {
	c.mu.RLock()
	inst, ok := c.insts[instID]
	c.mu.RUnlock()
	if ok {
		return inst, nil
	}

	inst, err := c.fetchInstrument(ctx, instID)
	if err != nil {
		return models.Instrument{}, err
	}

	c.mu.Lock()
	c.insts[instID] = inst
	c.mu.Unlock()
	return inst, nil
}

func (c *Client) fetchInstrument(ctx context.Context, instID string) (models.Instrument, error) {
	q := url.Values{}
	q.Set("instType", "SWAP")
	q.Set("instId", instID)

	var rows []instrumentRow
	if err := c.do(ctx, http.MethodGet, "/api/v5/public/instruments", q, nil, false, &rows); err != nil {
		return models.Instrument{}, err
	}
	if len(rows) == 0 {
		return models.Instrument{}, errors.Errorf("instrument %s not found", instID)
	}

	row := rows[0]
	if row.State != "" && row.State != "live" {
		return models.Instrument{}, errors.Errorf("instrument %s not live: state=%s", instID, row.State)
	}
	if strings.EqualFold(row.CtType, "inverse") {
		// размеры считаем в базовой монете, у inverse ctVal в USD
		return models.Instrument{}, errors.Errorf("instrument %s: inverse contracts are not supported", instID)
	}

	parsePos := func(name, s string) (decimal.Decimal, error) {
		v := dec(s)
		if !v.IsPositive() {
			return decimal.Zero, errors.Errorf("%s: %s parse %q", instID, name, s)
		}
		return v, nil
	}

	lotSz, err := parsePos("lotSz", row.LotSz)
	if err != nil {
		return models.Instrument{}, err
	}
	minSz, err := parsePos("minSz", row.MinSz)
	if err != nil {
		return models.Instrument{}, err
	}
	tickSz, err := parsePos("tickSz", row.TickSz)
	if err != nil {
		return models.Instrument{}, err
	}
	ctVal, err := parsePos("ctVal", row.CtVal)
	if err != nil {
		return models.Instrument{}, err
	}
	if m := dec(row.CtMult); m.IsPositive() {
		ctVal = ctVal.Mul(m)
	}

	return models.Instrument{
		InstID:     row.InstID,
		TickSize:   tickSz,
		LotSize:    lotSz.Mul(ctVal),
		MinSize:    minSz.Mul(ctVal),
		MaxMktSize: dec(row.MaxMktSz).Mul(ctVal),
		CtVal:      ctVal,
	}, nil
}

// toContracts базовая валюта -> контракты, вниз до lotSz.
func toContracts(qty decimal.Decimal, inst models.Instrument) decimal.Decimal {
	if !inst.CtVal.IsPositive() {
		return qty
	}
	lotContracts := inst.LotSize.Div(inst.CtVal)
	n := qty.Div(inst.CtVal)
	if lotContracts.IsPositive() {
		n = n.Div(lotContracts).Floor().Mul(lotContracts)
	}
	return n
}

func fromContracts(n decimal.Decimal, inst models.Instrument) decimal.Decimal {
	if !inst.CtVal.IsPositive() {
		return n
	}
	return n.Mul(inst.CtVal)
}
