package models

import "time"

// Candle OHLCV. Последовательность строго по возрастанию Timestamp.
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

// EnrichedRow свеча + индикаторы. NaN: индикатору не хватило истории.
type EnrichedRow struct {
	Candle
	Indicators map[string]float64 `json:"ind"`
}

// Series один таймфрейм после обогащения (например 1D x30 и 1H x24).
type Series struct {
	Bar  string        `json:"bar"`
	Rows []EnrichedRow `json:"rows"`
}

// Last последняя строка серии.
func (s Series) Last() (EnrichedRow, bool) {
	if len(s.Rows) == 0 {
		return EnrichedRow{}, false
	}
	return s.Rows[len(s.Rows)-1], true
}
