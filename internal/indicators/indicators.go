// Package indicators обогащает свечи техническими индикаторами (go-talib).
// Пока индикатору не хватает истории, значение NaN.
package indicators

import (
	"math"
	"trade_pilot/internal/models"

	"github.com/markcheno/go-talib"
)

const (
	SMA20      = "sma_20"
	EMA12      = "ema_12"
	RSI14      = "rsi_14"
	BBUpper    = "bb_upper"
	BBMiddle   = "bb_middle"
	BBLower    = "bb_lower"
	MACD       = "macd"
	MACDSignal = "macd_signal"
	MACDHist   = "macd_hist"
)

// Keys все колонки, которые добавляет Enrich.
var Keys = []string{SMA20, EMA12, RSI14, BBUpper, BBMiddle, BBLower, MACD, MACDSignal, MACDHist}

// lookback сколько первых значений talib не может посчитать.
const (
	smaLookback  = 20 - 1
	emaLookback  = 12 - 1
	rsiLookback  = 14
	bbLookback   = 20 - 1
	macdLookback = 26 - 1 + 9 - 1
)

// Talib реализация обогатителя для раннера.
type Talib struct{}

func (Talib) Enrich(candles []models.Candle) []models.EnrichedRow { return Enrich(candles) }

// Enrich чистая функция: та же длина, тот же порядок.
func Enrich(candles []models.Candle) []models.EnrichedRow {
	n := len(candles)
	rows := make([]models.EnrichedRow, n)
	if n == 0 {
		return rows
	}

	closes := make([]float64, n)
	for i, c := range candles {
		closes[i] = c.Close
		rows[i] = models.EnrichedRow{Candle: c, Indicators: make(map[string]float64, len(Keys))}
	}

	put := func(key string, vals []float64, lookback int) {
		for i := range rows {
			if vals == nil || i < lookback || i >= len(vals) {
				rows[i].Indicators[key] = math.NaN()
				continue
			}
			rows[i].Indicators[key] = vals[i]
		}
	}

	put(SMA20, calc(n, smaLookback, func() []float64 { return talib.Sma(closes, 20) }), smaLookback)
	put(EMA12, calc(n, emaLookback, func() []float64 { return talib.Ema(closes, 12) }), emaLookback)
	put(RSI14, calc(n, rsiLookback, func() []float64 { return talib.Rsi(closes, 14) }), rsiLookback)

	var upper, middle, lower []float64
	if n > bbLookback {
		upper, middle, lower = talib.BBands(closes, 20, 2, 2, talib.SMA)
	}
	put(BBUpper, upper, bbLookback)
	put(BBMiddle, middle, bbLookback)
	put(BBLower, lower, bbLookback)

	var macd, signal, hist []float64
	if n > macdLookback {
		macd, signal, hist = talib.Macd(closes, 12, 26, 9)
	}
	put(MACD, macd, macdLookback)
	put(MACDSignal, signal, macdLookback)
	put(MACDHist, hist, macdLookback)

	return rows
}

func calc(n, lookback int, fn func() []float64) []float64 {
	if n <= lookback {
		return nil
	}
	return fn()
}

// EnrichSeries обёртка с баром.
func EnrichSeries(bar string, candles []models.Candle) models.Series {
	return models.Series{Bar: bar, Rows: Enrich(candles)}
}

// Value NaN, если колонки нет.
func Value(row models.EnrichedRow, key string) float64 {
	v, ok := row.Indicators[key]
	if !ok {
		return math.NaN()
	}
	return v
}
