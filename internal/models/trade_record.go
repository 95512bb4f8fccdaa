package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Stage string

const (
	StageFetch     Stage = "FETCH"
	StageEnrich    Stage = "ENRICH"
	StageDecide    Stage = "DECIDE"
	StageReconcile Stage = "RECONCILE"
	StageExecute   Stage = "EXECUTE"
	StageLog       Stage = "LOG"
)

type Outcome string

const (
	OutcomeNoop                  Outcome = "NOOP"
	OutcomeFilled                Outcome = "FILLED"
	OutcomeFilledWithFallback    Outcome = "FILLED_WITH_FALLBACK"
	OutcomePartialFallbackFailed Outcome = "PARTIAL_FALLBACK_FAILED"
	OutcomeRejected              Outcome = "REJECTED"
	OutcomeInvalidTransition     Outcome = "INVALID_TRANSITION"
	OutcomeReconcileMismatch     Outcome = "RECONCILE_MISMATCH"
	OutcomeFailed                Outcome = "FAILED"
)

// ExecutionResult итог Engine.Execute.
type ExecutionResult struct {
	Outcome Outcome `json:"outcome"`
	Orders  []Order `json:"orders"`
	Fills   []Fill  `json:"fills"`
	Reason  string  `json:"reason,omitempty"`
}

// TradeRecord запись журнала, одна на цикл. Только append.
type TradeRecord struct {
	ID             int64               `json:"id"`
	CycleID        string              `json:"cycle_id"`
	CycleAt        time.Time           `json:"cycle_at"`
	InstID         string              `json:"inst_id"`
	Stage          Stage               `json:"stage"`
	Decision       Decision            `json:"decision"`
	Orders         []Order             `json:"orders"`
	Outcome        Outcome             `json:"outcome"`
	Reason         string              `json:"reason,omitempty"`
	PositionBefore Position            `json:"position_before"`
	PositionAfter  Position            `json:"position_after"`
	SizeDelta      decimal.Decimal     `json:"size_delta"`
	RealizedPnL    decimal.NullDecimal `json:"realized_pnl"`
	Balance        decimal.Decimal     `json:"balance"`
	Price          decimal.Decimal     `json:"price"`
	Reflection     string              `json:"reflection,omitempty"`
}
