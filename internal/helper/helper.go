package helper

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// NormBar приводит таймфрейм к формату OKX: "1h" -> "1H", "1d" -> "1D".
func NormBar(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h":
		return "1H"
	case "2h", "4h", "6h", "12h":
		return strings.ToUpper(s)
	case "1d":
		return "1D"
	case "1w":
		return "1W"
	default:
		return s
	}
}

// BarDuration длительность бара, 0 если неизвестен.
func BarDuration(bar string) time.Duration {
	switch NormBar(bar) {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1H":
		return time.Hour
	case "4H":
		return 4 * time.Hour
	case "1D":
		return 24 * time.Hour
	default:
		return 0
	}
}

// Slot начало слота длиной every, в который попадает t (по Unix).
func Slot(t time.Time, every time.Duration) time.Time {
	if every <= 0 {
		return t.UTC()
	}
	sec := int64(every / time.Second)
	if sec <= 0 {
		return t.UTC()
	}
	u := t.Unix()
	u -= u % sec
	return time.Unix(u, 0).UTC()
}

// CycleID "<instId>-<unix слота>": при рестарте в том же слоте id совпадёт.
func CycleID(instID string, at time.Time, every time.Duration) string {
	return fmt.Sprintf("%s-%d", instID, Slot(at, every).Unix())
}

func RoundDownToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Floor().Mul(step)
}

func RoundUpToStep(v, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return v
	}
	return v.Div(step).Ceil().Mul(step)
}

// RoundToTick к ближайшему тику.
func RoundToTick(px, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return px
	}
	return px.Div(tick).Round(0).Mul(tick)
}
