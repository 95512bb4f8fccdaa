package service

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// строки ответов OKX: все числа приходят строками

type instrumentRow struct {
	InstID   string `json:"instId"`
	TickSz   string `json:"tickSz"`
	LotSz    string `json:"lotSz"`
	MinSz    string `json:"minSz"`
	CtVal    string `json:"ctVal"`
	CtMult   string `json:"ctMult"`
	State    string `json:"state"`
	MaxMktSz string `json:"maxMktSz"`

	CtType    string `json:"ctType"`    // linear / inverse
	SettleCcy string `json:"settleCcy"` // USDT или монета
	CtValCcy  string `json:"ctValCcy"`
}

type tickerRow struct {
	InstID string `json:"instId"`
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Ts     string `json:"ts"`
}

type positionRow struct {
	InstID  string `json:"instId"`
	PosSide string `json:"posSide"` // net / long / short
	Pos     string `json:"pos"`     // контракты, в net-режиме со знаком
	AvgPx   string `json:"avgPx"`
	MgnMode string `json:"mgnMode"`
	Lever   string `json:"lever"`
	Upl     string `json:"upl"`
	CTime   string `json:"cTime"`
	UTime   string `json:"uTime"`
}

type balanceRow struct {
	TotalEq string `json:"totalEq"`
	Details []struct {
		Ccy     string `json:"ccy"`
		Eq      string `json:"eq"`
		AvailEq string `json:"availEq"`
		CashBal string `json:"cashBal"`
	} `json:"details"`
}

type orderRow struct {
	InstID     string `json:"instId"`
	OrdID      string `json:"ordId"`
	ClOrdID    string `json:"clOrdId"`
	Side       string `json:"side"`
	OrdType    string `json:"ordType"`
	Px         string `json:"px"`
	Sz         string `json:"sz"`
	AccFillSz  string `json:"accFillSz"`
	AvgPx      string `json:"avgPx"`
	State      string `json:"state"`
	ReduceOnly string `json:"reduceOnly"`
	CTime      string `json:"cTime"`
	UTime      string `json:"uTime"`
}

type placeRow struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

// dec пустая или битая строка => 0.
func dec(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return v
}

// msTime unix-миллисекунды строкой.
func msTime(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
