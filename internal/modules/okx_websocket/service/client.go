package service

import (
	"context"
	"sync"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/pkg/logger"

	"github.com/gorilla/websocket"
)

const defaultURL = "wss://ws.okx.com:8443/ws/v5/public"

// StatusSink куда отдаём состояние соединения (health).
type StatusSink interface {
	SetWSConnected(v bool)
	TouchTick(t time.Time)
}

// Client держит кэш лучших bid/ask из канала tickers.
// Реализует QuoteSource для REST-клиента OKX.
type Client struct {
	url         string
	instruments []string
	wsDialer    *websocket.Dialer
	sink        StatusSink

	pingEvery time.Duration
	reconnect time.Duration

	mu     sync.RWMutex
	quotes map[string]exchange.Quote
}

func NewClient(url string, instruments []string, sink StatusSink) *Client {
	if url == "" {
		url = defaultURL
	}
	return &Client{
		url:         url,
		instruments: instruments,
		wsDialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		sink:        sink,
		pingEvery:   20 * time.Second,
		reconnect:   time.Second,
		quotes:      make(map[string]exchange.Quote),
	}
}

// Start стрим до отмены ctx, с переподключением.
func (c *Client) Start(ctx context.Context) {
	if len(c.instruments) == 0 {
		logger.Warn("[WS] no instruments, tickers stream not started")
		return
	}
	go c.streamTickers(ctx)
}

func (c *Client) Quote(instID string) (exchange.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[instID]
	return q, ok
}

func (c *Client) store(instID string, q exchange.Quote) {
	c.mu.Lock()
	c.quotes[instID] = q
	c.mu.Unlock()
	if c.sink != nil {
		c.sink.TouchTick(q.At)
	}
}

func (c *Client) setConnected(v bool) {
	if c.sink != nil {
		c.sink.SetWSConnected(v)
	}
}
