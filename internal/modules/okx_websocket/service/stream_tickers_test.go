package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"trade_pilot/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

func TestParseTickers(t *testing.T) {
	frame := `{"arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"},"data":[{"instId":"BTC-USDT-SWAP","last":"20001","bidPx":"20000.5","askPx":"20001.1","ts":"1760000000000"}]}`
	got := parseTickers([]byte(frame))
	if len(got) != 1 {
		t.Fatalf("ticks = %d", len(got))
	}
	q := got[0].quote
	if got[0].instID != "BTC-USDT-SWAP" || !q.Bid.Equal(decimal.RequireFromString("20000.5")) ||
		!q.Ask.Equal(decimal.RequireFromString("20001.1")) || q.At.UnixMilli() != 1_760_000_000_000 {
		t.Fatalf("tick = %+v", got[0])
	}

	for _, junk := range []string{
		`pong`,
		`{"event":"subscribe","arg":{"channel":"tickers","instId":"BTC-USDT-SWAP"}}`,
		`{"arg":{"channel":"candle1m","instId":"BTC-USDT-SWAP"},"data":[{"bidPx":"1","askPx":"2"}]}`,
		`{"arg":{"channel":"tickers"},"data":[{"instId":"X","bidPx":"","askPx":"2"}]}`,
		`not json`,
	} {
		if ticks := parseTickers([]byte(junk)); len(ticks) != 0 {
			t.Fatalf("%s gave %d ticks", junk, len(ticks))
		}
	}
}

type sink struct {
	connected atomic.Bool
	ticks     atomic.Int64
}

func (s *sink) SetWSConnected(v bool) { s.connected.Store(v) }
func (s *sink) TouchTick(time.Time)   { s.ticks.Add(1) }

func TestStreamFillsQuoteCache(t *testing.T) {
	up := websocket.Upgrader{}
	var subscribed atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed.Store(string(msg))
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"arg":{"channel":"tickers","instId":"ETH-USDT-SWAP"},"data":[{"instId":"ETH-USDT-SWAP","bidPx":"1000","askPx":"1000.2","ts":"1760000000000"}]}`))
		// держим соединение, пока клиент не закроет
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	s := &sink{}
	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), []string{"ETH-USDT-SWAP"}, s)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if q, ok := c.Quote("ETH-USDT-SWAP"); ok {
			if !q.Mid().Equal(decimal.RequireFromString("1000.1")) {
				t.Fatalf("mid = %s", q.Mid())
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no quote from stream")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !s.connected.Load() || s.ticks.Load() == 0 {
		t.Fatalf("sink connected=%v ticks=%d", s.connected.Load(), s.ticks.Load())
	}
	sub, _ := subscribed.Load().(string)
	if !strings.Contains(sub, `"op":"subscribe"`) || !strings.Contains(sub, `"instId":"ETH-USDT-SWAP"`) {
		t.Fatalf("subscribe = %s", sub)
	}
	if _, ok := c.Quote("BTC-USDT-SWAP"); ok {
		t.Fatal("unexpected quote")
	}
}
