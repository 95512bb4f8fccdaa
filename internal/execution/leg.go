package execution

import (
	"context"
	"errors"
	"fmt"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/helper"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/metrics"

	"github.com/shopspring/decimal"
)

type legSpec struct {
	side       models.OrderSide
	qty        decimal.Decimal
	price      decimal.Decimal
	reduceOnly bool
	limitID    string
	marketID   string
	minSize    decimal.Decimal
	lotSize    decimal.Decimal
}

type legState int

const (
	stPlaceLimit legState = iota
	stPollLimit
	stCancelLimit
	stMarket
	stDone
)

// leg состояние одной попытки входа/выхода: лимитка, при таймауте отмена и маркет на остаток.
type leg struct {
	spec     legSpec
	limit    models.Order
	market   models.Order
	deadline time.Time
	outcome  models.Outcome
	err      error
}

func (e *Engine) runLeg(ctx context.Context, s legSpec) (models.ExecutionResult, error) {
	l := &leg{spec: s}

	state := stPlaceLimit
	for state != stDone {
		switch state {
		case stPlaceLimit:
			state = e.placeLimit(ctx, l)
		case stPollLimit:
			state = e.pollLimit(ctx, l)
		case stCancelLimit:
			state = e.cancelLimit(ctx, l)
		case stMarket:
			state = e.marketFallback(ctx, l)
		}
	}
	return l.result(), l.err
}

func (e *Engine) placeLimit(ctx context.Context, l *leg) legState {
	o := models.Order{
		ClientID:   l.spec.limitID,
		InstID:     e.cfg.InstID,
		Type:       models.OrderLimit,
		Side:       l.spec.side,
		Quantity:   l.spec.qty,
		Price:      l.spec.price,
		ReduceOnly: l.spec.reduceOnly,
	}
	placed, adopted, err := e.submit(ctx, o)
	if err != nil {
		if errors.Is(err, exchange.ErrRejected) {
			return l.finish(models.OutcomeRejected, err)
		}
		return l.finish(models.OutcomeFailed, fmt.Errorf("place limit: %w", err))
	}
	l.limit = placed

	l.deadline = e.clock.Now().Add(e.cfg.LimitTimeout)
	if adopted && !placed.CreatedAt.IsZero() {
		l.deadline = placed.CreatedAt.Add(e.cfg.LimitTimeout)
	}
	logger.Info("[EXEC] %s limit %s %s @ %s clOrdId=%s id=%s status=%s",
		e.cfg.InstID, placed.Side, placed.Quantity, placed.Price, placed.ClientID, placed.ID, placed.Status)
	return stPollLimit
}

func (e *Engine) pollLimit(ctx context.Context, l *leg) legState {
	for {
		switch l.limit.Status {
		case models.StatusFilled:
			countOrder(l.limit)
			return l.finish(models.OutcomeFilled, nil)
		case models.StatusRejected:
			countOrder(l.limit)
			return l.finish(models.OutcomeRejected, exchange.Rejected(l.limit.Reason))
		case models.StatusCanceled:
			countOrder(l.limit)
			// биржа сняла ордер без исполнения (post-only, маржа): это отказ
			if !l.limit.FilledQty.IsPositive() {
				return l.finish(models.OutcomeRejected, exchange.Rejected("limit canceled by exchange without fill"))
			}
			logger.Warn("[EXEC] %s limit %s canceled externally, filled=%s", e.cfg.InstID, l.limit.ID, l.limit.FilledQty)
			return stMarket
		}

		now := e.clock.Now()
		if !now.Before(l.deadline) {
			return stCancelLimit
		}
		wait := e.cfg.PollInterval
		if left := l.deadline.Sub(now); left < wait {
			wait = left
		}
		if err := e.clock.Sleep(ctx, wait); err != nil {
			return l.finish(models.OutcomeFailed, err)
		}

		o, err := e.getOrder(ctx, l.limit.ID)
		if err != nil {
			logger.Warn("[EXEC] %s poll %s: %v", e.cfg.InstID, l.limit.ID, err)
			continue
		}
		l.limit = o
	}
}

func (e *Engine) cancelLimit(ctx context.Context, l *leg) legState {
	logger.Info("[EXEC] %s limit %s not filled in %s (filled=%s/%s), canceling",
		e.cfg.InstID, l.limit.ID, e.cfg.LimitTimeout, l.limit.FilledQty, l.limit.Quantity)

	// после отмены перечитываем: filled могло вырасти до отмены
	o, err := e.cancelUntilTerminal(ctx, l.limit.ID)
	if o.ID != "" {
		l.limit = o
	}
	countOrder(l.limit)
	if err != nil {
		// лимитка жива: добивать маркетом нельзя, иначе перебор по размеру
		if l.limit.FilledQty.IsPositive() {
			return l.finish(models.OutcomePartialFallbackFailed, fmt.Errorf("%w: %w", ErrFallbackFailed, err))
		}
		return l.finish(models.OutcomeFailed, err)
	}

	if l.limit.Status == models.StatusFilled || !l.limit.Remaining().IsPositive() {
		return l.finish(models.OutcomeFilled, nil)
	}
	return stMarket
}

func (e *Engine) marketFallback(ctx context.Context, l *leg) legState {
	residual := helper.RoundDownToStep(l.spec.qty.Sub(l.limit.FilledQty), l.spec.lotSize)
	if !residual.IsPositive() || residual.LessThan(l.spec.minSize) {
		if l.limit.FilledQty.IsPositive() {
			logger.Info("[EXEC] %s residual %s below min size, keeping partial fill", e.cfg.InstID, residual)
			return l.finish(models.OutcomeFilled, nil)
		}
		return l.finish(models.OutcomeFailed, fmt.Errorf("nothing filled and residual %s below min size", residual))
	}

	metrics.LimitFallbacks.WithLabelValues(e.cfg.InstID).Inc()
	logger.Info("[EXEC] %s market fallback %s %s clOrdId=%s", e.cfg.InstID, l.spec.side, residual, l.spec.marketID)

	o := models.Order{
		ClientID:   l.spec.marketID,
		InstID:     e.cfg.InstID,
		Type:       models.OrderMarket,
		Side:       l.spec.side,
		Quantity:   residual,
		ReduceOnly: l.spec.reduceOnly,
	}
	placed, _, err := e.submit(ctx, o)
	if err != nil {
		return l.fallbackFailed(err)
	}
	l.market = placed

	deadline := e.clock.Now().Add(e.cfg.LimitTimeout)
	for !l.market.Status.Terminal() && e.clock.Now().Before(deadline) {
		if err := e.clock.Sleep(ctx, e.cfg.PollInterval); err != nil {
			return l.fallbackFailed(err)
		}
		m, err := e.getOrder(ctx, l.market.ID)
		if err != nil {
			logger.Warn("[EXEC] %s poll market %s: %v", e.cfg.InstID, l.market.ID, err)
			continue
		}
		l.market = m
	}
	if !l.market.Status.Terminal() {
		m, err := e.cancelUntilTerminal(ctx, l.market.ID)
		if m.ID != "" {
			l.market = m
		}
		if err != nil {
			logger.Warn("[EXEC] %s market %s: %v", e.cfg.InstID, l.market.ID, err)
			countOrder(l.market)
			return l.fallbackFailed(err)
		}
	}
	countOrder(l.market)

	switch {
	case l.market.Status == models.StatusFilled && !l.market.Remaining().IsPositive():
		return l.finish(models.OutcomeFilledWithFallback, nil)
	case l.market.Status == models.StatusRejected:
		return l.fallbackFailed(exchange.Rejected(l.market.Reason))
	default:
		return l.fallbackFailed(fmt.Errorf("market %s ended %s filled=%s/%s",
			l.market.ID, l.market.Status, l.market.FilledQty, l.market.Quantity))
	}
}

// fallbackFailed если хоть что-то исполнилось: частичный успех, иначе обычная ошибка.
func (l *leg) fallbackFailed(err error) legState {
	if l.limit.FilledQty.IsPositive() || l.market.FilledQty.IsPositive() {
		return l.finish(models.OutcomePartialFallbackFailed, fmt.Errorf("%w: %w", ErrFallbackFailed, err))
	}
	if errors.Is(err, exchange.ErrRejected) {
		return l.finish(models.OutcomeRejected, err)
	}
	return l.finish(models.OutcomeFailed, fmt.Errorf("%w: %w", ErrFallbackFailed, err))
}

func (l *leg) finish(outcome models.Outcome, err error) legState {
	l.outcome = outcome
	l.err = err
	return stDone
}

func (l *leg) result() models.ExecutionResult {
	res := models.ExecutionResult{Outcome: l.outcome}
	if l.err != nil {
		res.Reason = l.err.Error()
	}
	for _, o := range []models.Order{l.limit, l.market} {
		if o.ID == "" {
			continue
		}
		res.Orders = append(res.Orders, o)
		if f, ok := models.FillOf(o); ok {
			res.Fills = append(res.Fills, f)
		}
	}
	return res
}
