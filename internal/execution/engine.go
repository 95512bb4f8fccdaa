package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/metrics"
	"trade_pilot/pkg/retry"

	"github.com/shopspring/decimal"
)

var (
	// ErrFallbackFailed лимитка частично исполнилась, а маркет-добивка не прошла.
	ErrFallbackFailed = errors.New("market fallback failed")
	// ErrOrderLeftOpen ордер не удалось довести до терминального статуса, он запомнен
	// и снимается в начале следующего Execute.
	ErrOrderLeftOpen = errors.New("order left open on exchange")
)

type Config struct {
	InstID         string
	LimitOffsetPct decimal.Decimal // 0.1 => 0.1%
	LimitTimeout   time.Duration
	PollInterval   time.Duration
	Leverage       int
	MarginMode     string
	Retry          retry.Policy
	// CancelAttempts раунды cancel + перечитать, пока ордер не терминальный.
	// Отдельно от Retry: тот только про сетевые ошибки одного вызова.
	CancelAttempts int
}

// Clock для тестов: ожидание без реального времени.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Engine struct {
	cfg    Config
	ex     exchange.Exchange
	sizing SizingRule
	clock  Clock

	mu      sync.Mutex
	orphans map[string]struct{}
}

func NewEngine(cfg Config, ex exchange.Exchange, sizing SizingRule) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	if cfg.LimitTimeout <= 0 {
		cfg.LimitTimeout = 5 * time.Minute
	}
	if cfg.CancelAttempts <= 0 {
		cfg.CancelAttempts = 10
	}
	return &Engine{cfg: cfg, ex: ex, sizing: sizing, clock: realClock{}, orphans: make(map[string]struct{})}
}

// WithClock подменить часы (тесты).
func (e *Engine) WithClock(c Clock) *Engine {
	e.clock = c
	return e
}

// Request вход одного исполнения.
type Request struct {
	CycleID  string
	Decision models.Decision
	Position models.Position
	Balance  decimal.Decimal
}

// Execute переводит решение в ордера. Результат всегда заполнен (Outcome, ордера, fills),
// ошибка дополнительно классифицирует неуспех: ErrInvalidTransition, exchange.ErrRejected,
// ErrFallbackFailed или сетевую.
func (e *Engine) Execute(ctx context.Context, req Request) (models.ExecutionResult, error) {
	plan, act, err := PlanFor(req.Decision, req.Position)
	if err != nil {
		logger.Warn("[EXEC] %s cycle=%s: %v", e.cfg.InstID, req.CycleID, err)
		return models.ExecutionResult{Outcome: models.OutcomeInvalidTransition, Reason: err.Error()}, err
	}

	// сначала добиваем ордера, брошенные прошлыми циклами
	if err := e.sweepOrphans(ctx); err != nil {
		if act {
			return failed(err), err
		}
		logger.Error("[EXEC] %s cycle=%s: %v", e.cfg.InstID, req.CycleID, err)
	}
	if !act {
		return models.ExecutionResult{Outcome: models.OutcomeNoop, Reason: "hold"}, nil
	}

	inst, err := e.instrument(ctx)
	if err != nil {
		return failed(err), err
	}
	quote, err := e.quote(ctx)
	if err != nil {
		return failed(err), err
	}
	price, err := LimitPrice(plan.Side, quote.Bid, quote.Ask, e.cfg.LimitOffsetPct, inst.TickSize)
	if err != nil {
		return failed(err), err
	}

	qty := plan.Quantity
	if plan.Leg == legEntry {
		var notional decimal.Decimal
		qty, notional, err = e.sizing.Size(req.Balance, req.Decision.Confidence, price, inst)
		if err != nil {
			if errors.Is(err, ErrBadConfidence) {
				err = fmt.Errorf("%w: %w", ErrInvalidTransition, err)
				return models.ExecutionResult{Outcome: models.OutcomeInvalidTransition, Reason: err.Error()}, err
			}
			return failed(err), err
		}
		logger.Info("[EXEC] %s sizing: balance=%s conf=%.2f notional=%s qty=%s px=%s",
			e.cfg.InstID, req.Balance, req.Decision.Confidence, notional, qty, price)
		e.setLeverage(ctx)
	}

	spec := legSpec{
		side:       plan.Side,
		qty:        qty,
		price:      price,
		reduceOnly: plan.ReduceOnly,
		limitID:    ClientOrderID(req.CycleID, plan.Leg),
		marketID:   ClientOrderID(req.CycleID, plan.Leg+"-"+legFallback),
		minSize:    inst.MinSize,
		lotSize:    inst.LotSize,
	}
	return e.runLeg(ctx, spec)
}

func failed(err error) models.ExecutionResult {
	return models.ExecutionResult{Outcome: models.OutcomeFailed, Reason: err.Error()}
}

func (e *Engine) instrument(ctx context.Context) (inst models.Instrument, err error) {
	err = e.withRetry(ctx, func(ctx context.Context) error {
		inst, err = e.ex.Instrument(ctx, e.cfg.InstID)
		return err
	})
	return inst, err
}

func (e *Engine) quote(ctx context.Context) (q exchange.Quote, err error) {
	err = e.withRetry(ctx, func(ctx context.Context) error {
		q, err = e.ex.BestQuote(ctx, e.cfg.InstID)
		return err
	})
	return q, err
}

func (e *Engine) setLeverage(ctx context.Context) {
	ls, ok := e.ex.(exchange.LeverageSetter)
	if !ok || e.cfg.Leverage <= 0 {
		return
	}
	if err := ls.SetLeverage(ctx, e.cfg.InstID, e.cfg.Leverage, e.cfg.MarginMode); err != nil {
		logger.Warn("[EXEC] %s set leverage %dx %s: %v", e.cfg.InstID, e.cfg.Leverage, e.cfg.MarginMode, err)
	}
}

func (e *Engine) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, e.cfg.Retry, exchange.IsTransient, fn)
}

// submit идемпотентная постановка: сперва ищем ордер по clientID, ставим только если его нет.
// adopted=true: ордер уже был (повтор цикла после рестарта).
func (e *Engine) submit(ctx context.Context, o models.Order) (placed models.Order, adopted bool, err error) {
	err = e.withRetry(ctx, func(ctx context.Context) error {
		found, ok, ferr := e.ex.FindOrder(ctx, o.InstID, o.ClientID)
		if ferr != nil {
			return ferr
		}
		if ok {
			placed, adopted = found, true
			return nil
		}

		res, perr := e.ex.PlaceOrder(ctx, o)
		if errors.Is(perr, exchange.ErrDuplicateClientID) {
			found, ok, ferr = e.ex.FindOrder(ctx, o.InstID, o.ClientID)
			if ferr != nil {
				return ferr
			}
			if !ok {
				return exchange.Transient(fmt.Errorf("duplicate %s reported but not found", o.ClientID))
			}
			placed, adopted = found, true
			return nil
		}
		if perr != nil {
			return perr
		}
		placed = res
		return nil
	})
	if adopted {
		logger.Info("[EXEC] %s adopted existing order clOrdId=%s id=%s status=%s",
			o.InstID, o.ClientID, placed.ID, placed.Status)
	}
	return placed, adopted, err
}

func (e *Engine) getOrder(ctx context.Context, id string) (o models.Order, err error) {
	err = e.withRetry(ctx, func(ctx context.Context) error {
		o, err = e.ex.GetOrder(ctx, e.cfg.InstID, id)
		return err
	})
	return o, err
}

func (e *Engine) cancel(ctx context.Context, id string) error {
	return e.withRetry(ctx, func(ctx context.Context) error {
		return e.ex.CancelOrder(ctx, e.cfg.InstID, id)
	})
}

// cancelUntilTerminal снимает ордер и перечитывает его, пока статус не станет терминальным.
// Не вышло за CancelAttempts раундов: ордер запоминается как брошенный, ErrOrderLeftOpen.
// Возвращённый ордер пустой, если его ни разу не удалось прочитать.
func (e *Engine) cancelUntilTerminal(ctx context.Context, id string) (models.Order, error) {
	var (
		o       models.Order
		lastErr error
	)
	for round := 1; round <= e.cfg.CancelAttempts; round++ {
		if round > 1 {
			if err := e.clock.Sleep(ctx, e.cfg.PollInterval); err != nil {
				lastErr = err
				break
			}
		}
		if err := e.cancel(ctx, id); err != nil {
			logger.Warn("[EXEC] %s cancel %s (round %d/%d): %v", e.cfg.InstID, id, round, e.cfg.CancelAttempts, err)
			lastErr = err
		}
		got, err := e.getOrder(ctx, id)
		if err != nil {
			logger.Warn("[EXEC] %s read %s after cancel: %v", e.cfg.InstID, id, err)
			lastErr = err
			continue
		}
		o = got
		if o.Status.Terminal() {
			return o, nil
		}
	}

	e.mu.Lock()
	e.orphans[id] = struct{}{}
	e.mu.Unlock()
	logger.Error("[EXEC] %s order %s still %s after %d cancel rounds, will retry next cycle",
		e.cfg.InstID, id, o.Status, e.cfg.CancelAttempts)
	if lastErr == nil {
		return o, fmt.Errorf("%w: %s status=%q", ErrOrderLeftOpen, id, o.Status)
	}
	return o, fmt.Errorf("%w: %s status=%q: %w", ErrOrderLeftOpen, id, o.Status, lastErr)
}

// sweepOrphans снимает брошенные ордера. Пока хоть один жив, новых ордеров не ставим.
func (e *Engine) sweepOrphans(ctx context.Context) error {
	e.mu.Lock()
	ids := make([]string, 0, len(e.orphans))
	for id := range e.orphans {
		ids = append(ids, id)
	}
	e.mu.Unlock()

	for _, id := range ids {
		o, err := e.cancelUntilTerminal(ctx, id)
		if err != nil {
			return err
		}
		e.mu.Lock()
		delete(e.orphans, id)
		e.mu.Unlock()
		countOrder(o)
		logger.Warn("[EXEC] %s left-open order %s closed: %s filled=%s/%s",
			e.cfg.InstID, id, o.Status, o.FilledQty, o.Quantity)
	}
	return nil
}

// LeftOpen id ордеров, которые ждут снятия.
func (e *Engine) LeftOpen() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.orphans))
	for id := range e.orphans {
		ids = append(ids, id)
	}
	return ids
}

func countOrder(o models.Order) {
	metrics.Orders.WithLabelValues(o.InstID, string(o.Type), string(o.Status)).Inc()
}
