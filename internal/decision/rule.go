package decision

import (
	"context"
	"fmt"
	"math"
	"trade_pilot/internal/models"
)

type RuleConfig struct {
	Bar        string // по какой серии считать, пусто: самая мелкая
	EMAShort   int
	EMALong    int
	RSIPeriod  int
	Overbought float64
	Oversold   float64
}

// Rule детерминированный источник: пересечение EMA + фильтр RSI.
// Вход в long: EMA_S > EMA_L и RSI ниже oversold (откат в аптренде), short: зеркально.
// Выход: тренд развернулся против позиции.
type Rule struct {
	cfg RuleConfig
}

func NewRule(cfg RuleConfig) *Rule {
	if cfg.EMAShort <= 0 {
		cfg.EMAShort = 9
	}
	if cfg.EMALong <= cfg.EMAShort {
		cfg.EMALong = cfg.EMAShort * 2
	}
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.Overbought == 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold == 0 {
		cfg.Oversold = 30
	}
	return &Rule{cfg: cfg}
}

type emaRSI struct {
	emaShort, emaLong float64
	kShort, kLong     float64

	prev             float64
	avgGain, avgLoss float64
	alpha            float64
	n                int
}

func (s *emaRSI) update(price float64) {
	if s.n == 0 {
		s.emaShort, s.emaLong, s.prev = price, price, price
		s.n = 1
		return
	}
	s.emaShort += s.kShort * (price - s.emaShort)
	s.emaLong += s.kLong * (price - s.emaLong)

	change := price - s.prev
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	if s.n == 1 {
		s.avgGain, s.avgLoss = gain, loss
	} else {
		s.avgGain = (1-s.alpha)*s.avgGain + s.alpha*gain
		s.avgLoss = (1-s.alpha)*s.avgLoss + s.alpha*loss
	}
	s.prev = price
	s.n++
}

func (s *emaRSI) rsi() float64 {
	if s.avgLoss == 0 {
		if s.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := s.avgGain / s.avgLoss
	return 100 - 100/(1+rs)
}

func (r *Rule) Decide(_ context.Context, in Context) (models.Decision, error) {
	series, ok := SeriesFor(in, r.cfg.Bar)
	if !ok || len(series.Rows) <= r.cfg.EMALong {
		return models.HoldDecision("not enough history"), nil
	}

	st := emaRSI{
		kShort: 2.0 / float64(r.cfg.EMAShort+1),
		kLong:  2.0 / float64(r.cfg.EMALong+1),
		alpha:  1.0 / float64(r.cfg.RSIPeriod),
	}
	for _, row := range series.Rows {
		st.update(row.Close)
	}
	rsi := st.rsi()
	up := st.emaShort > st.emaLong
	down := st.emaShort < st.emaLong
	why := fmt.Sprintf("%s EMA%d=%.2f EMA%d=%.2f RSI%d=%.1f",
		series.Bar, r.cfg.EMAShort, st.emaShort, r.cfg.EMALong, st.emaLong, r.cfg.RSIPeriod, rsi)

	switch {
	case in.Position.IsFlat() && up && rsi < r.cfg.Oversold:
		return models.Decision{Action: models.ActionOpenLong, Confidence: strength(r.cfg.Oversold-rsi, r.cfg.Oversold), Rationale: why}, nil
	case in.Position.IsFlat() && down && rsi > r.cfg.Overbought:
		return models.Decision{Action: models.ActionOpenShort, Confidence: strength(rsi-r.cfg.Overbought, 100-r.cfg.Overbought), Rationale: why}, nil
	case !in.Position.IsFlat() && in.Position.Side == models.SideLong && down:
		return models.Decision{Action: models.ActionCloseLong, Confidence: 1, Rationale: why}, nil
	case !in.Position.IsFlat() && in.Position.Side == models.SideShort && up:
		return models.Decision{Action: models.ActionCloseShort, Confidence: 1, Rationale: why}, nil
	}
	return models.Decision{Action: models.ActionHold, Rationale: why}, nil
}

// strength 0.5..1 по глубине захода RSI за порог.
func strength(depth, span float64) float64 {
	if span <= 0 {
		return 0.5
	}
	return math.Min(1, 0.5+0.5*depth/span)
}
