package decision

import (
	"context"
	"fmt"
	"strings"
	"time"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"

	"github.com/shopspring/decimal"
)

const reflectSystem = `You review a trader's recent decisions and their outcomes.
In at most 150 words say what worked, what did not and what to change in the next decision.`

// Completer свободный текстовый ответ модели.
type Completer interface {
	Complete(ctx context.Context, system, user string, maxTokens int) (string, error)
}

// Reflector краткий разбор последних сделок для следующего решения.
// Без модели: детерминированная сводка.
type Reflector struct {
	llm Completer
}

func NewReflector(llm Completer) *Reflector {
	return &Reflector{llm: llm}
}

// Reflect recent: новые первыми, как отдаёт journal.Recent.
func (r *Reflector) Reflect(ctx context.Context, recent []models.TradeRecord) string {
	if len(recent) == 0 {
		return ""
	}
	summary := Summarize(recent)
	if r.llm == nil {
		return summary
	}

	var b strings.Builder
	b.WriteString(summary)
	b.WriteString("\n\ntime,action,confidence,outcome,realized_pnl,balance,rationale\n")
	for _, rec := range recent {
		pnl := ""
		if rec.RealizedPnL.Valid {
			pnl = rec.RealizedPnL.Decimal.StringFixed(2)
		}
		fmt.Fprintf(&b, "%s,%s,%.2f,%s,%s,%s,%q\n",
			rec.CycleAt.UTC().Format(time.RFC3339), rec.Decision.Action, rec.Decision.Confidence,
			rec.Outcome, pnl, rec.Balance.StringFixed(2), rec.Decision.Rationale)
	}

	out, err := r.llm.Complete(ctx, reflectSystem, b.String(), 300)
	if err != nil || strings.TrimSpace(out) == "" {
		logger.Warn("[REFLECT] llm reflection failed, using summary: %v", err)
		return summary
	}
	return strings.TrimSpace(out)
}

// Summarize число сделок, частое действие, сумма realized P&L и изменение баланса.
func Summarize(recent []models.TradeRecord) string {
	counts := make(map[models.Action]int)
	pnl := decimal.Zero
	for _, rec := range recent {
		counts[rec.Decision.Action]++
		if rec.RealizedPnL.Valid {
			pnl = pnl.Add(rec.RealizedPnL.Decimal)
		}
	}

	var top models.Action
	for _, a := range models.Actions {
		if counts[a] > counts[top] {
			top = a
		}
	}

	s := fmt.Sprintf("Last %d cycles: most common action %s (%d), realized PnL %s USDT",
		len(recent), top, counts[top], pnl.StringFixed(2))
	if perf, ok := journal.Performance(recent); ok {
		s += fmt.Sprintf(", balance change %s%%", perf.StringFixed(2))
	}
	return s + "."
}
