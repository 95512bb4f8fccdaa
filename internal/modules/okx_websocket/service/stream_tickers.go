package service

import (
	"context"
	"strconv"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/pkg/logger"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const channelTickers = "tickers"

type tickerFrame struct {
	Arg struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Data []struct {
		InstID string `json:"instId"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		Ts     string `json:"ts"`
	} `json:"data"`
}

type tick struct {
	instID string
	quote  exchange.Quote
}

// parseTickers кадр канала tickers -> котировки. Служебные кадры (subscribe, pong): пусто.
func parseTickers(msg []byte) []tick {
	if string(msg) == "pong" {
		return nil
	}
	var frame tickerFrame
	if err := sonic.Unmarshal(msg, &frame); err != nil {
		return nil
	}
	if frame.Arg.Channel != channelTickers || len(frame.Data) == 0 {
		return nil
	}

	out := make([]tick, 0, len(frame.Data))
	for _, row := range frame.Data {
		bid, err1 := decimal.NewFromString(row.BidPx)
		ask, err2 := decimal.NewFromString(row.AskPx)
		if err1 != nil || err2 != nil || !bid.IsPositive() || !ask.IsPositive() {
			continue
		}
		at := time.Now()
		if ms, err := strconv.ParseInt(row.Ts, 10, 64); err == nil {
			at = time.UnixMilli(ms)
		}
		id := row.InstID
		if id == "" {
			id = frame.Arg.InstID
		}
		out = append(out, tick{instID: id, quote: exchange.Quote{Bid: bid, Ask: ask, At: at}})
	}
	return out
}

// streamTickers одно соединение на все инструменты, переподключение после любой ошибки.
func (c *Client) streamTickers(ctx context.Context) {
	args := make([]map[string]string, 0, len(c.instruments))
	for _, id := range c.instruments {
		args = append(args, map[string]string{
			"channel": channelTickers,
			"instId":  id,
		})
	}

	for {
		if ctx.Err() != nil {
			return
		}
		logger.Info("[WS] connect %s %d instruments", channelTickers, len(c.instruments))
		conn, _, err := c.wsDialer.DialContext(ctx, c.url, nil)
		if err != nil {
			logger.Warn("[WS] dial error: %v", err)
			if !c.sleep(ctx) {
				return
			}
			continue
		}

		if err := conn.WriteJSON(map[string]any{"op": "subscribe", "args": args}); err != nil {
			logger.Warn("[WS] subscribe error: %v", err)
			_ = conn.Close()
			if !c.sleep(ctx) {
				return
			}
			continue
		}
		c.setConnected(true)

		c.readLoop(ctx, conn)

		c.setConnected(false)
		if !c.sleep(ctx) {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)

	// keepalive ping: иначе OKX рвёт соединение через 30s тишины
	go func() {
		t := time.NewTicker(c.pingEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-stop:
				return
			case <-t.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("[WS] read error: %v", err)
			}
			return
		}
		for _, t := range parseTickers(msg) {
			c.store(t.instID, t.quote)
		}
	}
}

func (c *Client) sleep(ctx context.Context) bool {
	t := time.NewTimer(c.reconnect)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
