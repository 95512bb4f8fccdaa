package indicators

import (
	"math"
	"testing"
	"time"
	"trade_pilot/internal/models"
)

func rising(n int) []models.Candle {
	out := make([]models.Candle, n)
	start := time.Unix(1_760_000_000, 0)
	for i := range out {
		px := float64(i + 1)
		out[i] = models.Candle{Timestamp: start.Add(time.Duration(i) * time.Hour), Open: px, High: px, Low: px, Close: px, Volume: 1}
	}
	return out
}

func TestEnrichWarmUpIsNaN(t *testing.T) {
	rows := Enrich(rising(60))
	if len(rows) != 60 {
		t.Fatalf("len = %d", len(rows))
	}

	cases := []struct {
		key      string
		firstSet int
	}{
		{SMA20, 19},
		{EMA12, 11},
		{RSI14, 14},
		{BBMiddle, 19},
		{MACD, 33},
		{MACDSignal, 33},
	}
	for _, c := range cases {
		t.Run(c.key, func(t *testing.T) {
			if v := rows[c.firstSet-1].Indicators[c.key]; !math.IsNaN(v) {
				t.Fatalf("row %d = %v, want NaN", c.firstSet-1, v)
			}
			if v := rows[c.firstSet].Indicators[c.key]; math.IsNaN(v) {
				t.Fatalf("row %d is NaN", c.firstSet)
			}
		})
	}
}

func TestEnrichValues(t *testing.T) {
	rows := Enrich(rising(40))

	// SMA20 от 1..20
	if v := rows[19].Indicators[SMA20]; math.Abs(v-10.5) > 1e-9 {
		t.Fatalf("sma_20 = %v", v)
	}
	if v := rows[39].Indicators[BBMiddle]; math.Abs(v-rows[39].Indicators[SMA20]) > 1e-9 {
		t.Fatalf("bb_middle %v != sma_20 %v", v, rows[39].Indicators[SMA20])
	}
	if up, lo := rows[39].Indicators[BBUpper], rows[39].Indicators[BBLower]; !(up > lo) {
		t.Fatalf("bands upper=%v lower=%v", up, lo)
	}
	// только рост: RSI 100
	if v := rows[39].Indicators[RSI14]; math.Abs(v-100) > 1e-9 {
		t.Fatalf("rsi_14 = %v", v)
	}
	if rows[39].Close != 40 {
		t.Fatalf("candle not carried: %+v", rows[39].Candle)
	}
}

func TestEnrichShortHistory(t *testing.T) {
	rows := Enrich(rising(5))
	for _, r := range rows {
		for _, k := range Keys {
			if !math.IsNaN(r.Indicators[k]) {
				t.Fatalf("%s = %v on short history", k, r.Indicators[k])
			}
		}
	}
	if got := Enrich(nil); len(got) != 0 {
		t.Fatalf("empty input gave %d rows", len(got))
	}
}
