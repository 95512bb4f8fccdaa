package helper

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRounding(t *testing.T) {
	cases := []struct {
		name string
		fn   func(v, step decimal.Decimal) decimal.Decimal
		v    string
		step string
		want string
	}{
		{"down lot", RoundDownToStep, "0.00879", "0.001", "0.008"},
		{"down exact", RoundDownToStep, "0.008", "0.001", "0.008"},
		{"up lot", RoundUpToStep, "0.0081", "0.001", "0.009"},
		{"tick nearest down", RoundToTick, "20019.94", "0.1", "20019.9"},
		{"tick nearest up", RoundToTick, "20019.96", "0.1", "20020"},
		{"zero step", RoundDownToStep, "1.2345", "0", "1.2345"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := c.fn(d(c.v), d(c.step))
			if !got.Equal(d(c.want)) {
				t.Fatalf("got %s, want %s", got, c.want)
			}
		})
	}
}

func TestCycleIDStableWithinSlot(t *testing.T) {
	every := 20 * time.Minute
	a := time.Date(2026, 10, 15, 12, 1, 0, 0, time.UTC)
	b := time.Date(2026, 10, 15, 12, 19, 59, 0, time.UTC)
	c := time.Date(2026, 10, 15, 12, 20, 0, 0, time.UTC)

	if CycleID("BTC-USDT-SWAP", a, every) != CycleID("BTC-USDT-SWAP", b, every) {
		t.Fatalf("same slot must give same id")
	}
	if CycleID("BTC-USDT-SWAP", a, every) == CycleID("BTC-USDT-SWAP", c, every) {
		t.Fatalf("next slot must give new id")
	}
}

func TestNormBar(t *testing.T) {
	for in, want := range map[string]string{"1h": "1H", "60m": "1H", "1d": "1D", "15m": "15m", "candle4h": "4H"} {
		if got := NormBar(in); got != want {
			t.Errorf("NormBar(%q) = %q, want %q", in, got, want)
		}
	}
}
