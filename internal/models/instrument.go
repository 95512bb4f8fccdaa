package models

import "github.com/shopspring/decimal"

// Instrument шаги цены/лота. Размеры в базовой валюте (lotSz*ctVal у OKX).
type Instrument struct {
	InstID     string          `json:"inst_id"`
	TickSize   decimal.Decimal `json:"tick_size"`
	LotSize    decimal.Decimal `json:"lot_size"`
	MinSize    decimal.Decimal `json:"min_size"`
	MaxMktSize decimal.Decimal `json:"max_mkt_size"`
	CtVal      decimal.Decimal `json:"ct_val"`
}
