package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/helper"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"

	"github.com/pkg/errors"
)

// quoteMaxAge старше: считаем кэш вебсокета протухшим.
const quoteMaxAge = 5 * time.Second

// GetCandles свечи по возрастанию времени. OKX отдаёт новые первыми: разворачиваем.
// Строка: [ts,o,h,l,c,vol,volCcy,volCcyQuote,confirm].
func (c *Client) GetCandles(ctx context.Context, instID, bar string, limit int) ([]models.Candle, error) {
	if limit <= 0 || limit > 300 {
		limit = 300
	}
	q := url.Values{}
	q.Set("instId", instID)
	q.Set("bar", helper.NormBar(bar))
	q.Set("limit", strconv.Itoa(limit))

	var rows [][]string
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/candles", q, nil, false, &rows); err != nil {
		return nil, err
	}

	out := make([]models.Candle, 0, len(rows))
	var prev time.Time
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		if len(r) < 6 {
			return nil, errors.Errorf("candles %s %s: short row %v", instID, bar, r)
		}
		ts := msTime(r[0])
		if ts.IsZero() {
			return nil, errors.Errorf("candles %s %s: bad ts %q", instID, bar, r[0])
		}
		var ohlcv [5]float64
		for j := range ohlcv {
			f, err := strconv.ParseFloat(r[j+1], 64)
			if err != nil {
				return nil, errors.Wrapf(err, "candles %s %s: bad value in row %v", instID, bar, r)
			}
			ohlcv[j] = f
		}
		if ohlcv[3] <= 0 {
			return nil, errors.Errorf("candles %s %s: non-positive close in row %v", instID, bar, r)
		}
		// дубли и откат времени выкидываем: ряд строго по возрастанию
		if !ts.After(prev) {
			logger.Warn("[OKX] candles %s %s: drop row %s, not after %s", instID, bar, r[0], prev.Format(time.RFC3339))
			continue
		}
		prev = ts
		out = append(out, models.Candle{Timestamp: ts, Open: ohlcv[0], High: ohlcv[1], Low: ohlcv[2], Close: ohlcv[3], Volume: ohlcv[4]})
	}
	return out, nil
}

// BestQuote из кэша вебсокета, иначе /market/ticker.
func (c *Client) BestQuote(ctx context.Context, instID string) (exchange.Quote, error) {
	if c.quotes != nil {
		if q, ok := c.quotes.Quote(instID); ok && time.Since(q.At) < quoteMaxAge {
			return q, nil
		}
	}

	q := url.Values{}
	q.Set("instId", instID)
	var rows []tickerRow
	if err := c.do(ctx, http.MethodGet, "/api/v5/market/ticker", q, nil, false, &rows); err != nil {
		return exchange.Quote{}, err
	}
	if len(rows) == 0 {
		return exchange.Quote{}, errors.Errorf("ticker %s: empty", instID)
	}

	t := rows[0]
	quote := exchange.Quote{Bid: dec(t.BidPx), Ask: dec(t.AskPx), At: msTime(t.Ts)}
	if !quote.Bid.IsPositive() && !quote.Ask.IsPositive() {
		last := dec(t.Last)
		if !last.IsPositive() {
			return exchange.Quote{}, errors.Errorf("ticker %s: no prices", instID)
		}
		quote.Bid, quote.Ask = last, last
	}
	return quote, nil
}
