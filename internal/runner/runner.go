package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
	"trade_pilot/internal/decision"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/execution"
	"trade_pilot/internal/helper"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/models"
	"trade_pilot/internal/notify"
	"trade_pilot/internal/tracker"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/metrics"
	"trade_pilot/pkg/retry"
	"trade_pilot/pkg/tracing"

	"github.com/shopspring/decimal"
)

// ErrCycleBusy предыдущий цикл по инструменту ещё держит лок.
var ErrCycleBusy = errors.New("cycle already in progress")

// Enricher свечи -> строки с индикаторами.
type Enricher interface {
	Enrich(candles []models.Candle) []models.EnrichedRow
}

// Executor исполнение решения (execution.Engine).
type Executor interface {
	Execute(ctx context.Context, req execution.Request) (models.ExecutionResult, error)
}

// FearGreedFeed опциональный внешний индекс.
type FearGreedFeed interface {
	Fetch(ctx context.Context) (*decision.Index, error)
}

// Health куда раннер отчитывается о циклах.
type Health interface {
	SetReady(v bool)
	CycleDone(instID string, stage models.Stage, outcome models.Outcome, at time.Time)
}

type Timeframe struct {
	Bar   string
	Limit int
}

type Config struct {
	InstID          string
	Timeframes      []Timeframe
	PollInterval    time.Duration
	DecisionTimeout time.Duration
	RecentWindow    time.Duration
	RecentLimit     int
	Retry           retry.Policy
}

// Deps всё, из чего собирается раннер одного инструмента.
// Reflector, FearGreed и Health могут быть nil.
type Deps struct {
	Market    exchange.MarketData
	Executor  Executor
	Tracker   *tracker.Tracker
	Enricher  Enricher
	Source    decision.Source
	Journal   journal.Store
	Notifier  notify.Notifier
	Lock      Lock
	Reflector *decision.Reflector
	FearGreed FearGreedFeed
	Health    Health
}

// Runner цикл FETCH → ENRICH → DECIDE → RECONCILE → EXECUTE → LOG по одному инструменту.
type Runner struct {
	cfg Config
	Deps

	now func() time.Time
}

func New(cfg Config, deps Deps) *Runner {
	if cfg.DecisionTimeout <= 0 {
		cfg.DecisionTimeout = 2 * time.Minute
	}
	if deps.Lock == nil {
		deps.Lock = NewLocalLock()
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.NewStdout()
	}
	return &Runner{cfg: cfg, Deps: deps, now: time.Now}
}

func (r *Runner) InstID() string { return r.cfg.InstID }

// Start крутит циклы до отмены ctx. Отмена видна только между циклами:
// начатый цикл доводится до LOG.
func (r *Runner) Start(ctx context.Context) {
	logger.Info("[CYCLE] %s ▶️ start, every %s", r.cfg.InstID, r.cfg.PollInterval)
	for {
		if _, err := r.RunCycle(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, ErrCycleBusy) {
			logger.Warn("[CYCLE] %s: %v", r.cfg.InstID, err)
		}

		t := time.NewTimer(r.cfg.PollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			logger.Info("[CYCLE] %s ⏹ stopped", r.cfg.InstID)
			return
		case <-t.C:
		}
	}
}

// cycle состояние одного прохода.
type cycle struct {
	rec      models.TradeRecord
	series   []models.Series
	candles  map[string][]models.Candle
	exchPos  models.Position
	invalid  error
	realized decimal.Decimal
	closed   bool
}

// RunCycle один полный цикл. Запись в журнал делается всегда, кроме занятого лока.
// Ошибка: причина, по которой цикл остановился раньше EXECUTE или EXECUTE не удался.
func (r *Runner) RunCycle(ctx context.Context) (models.TradeRecord, error) {
	start := r.now()
	c := &cycle{
		rec: models.TradeRecord{
			CycleID:        helper.CycleID(r.cfg.InstID, start, r.cfg.PollInterval),
			CycleAt:        start,
			InstID:         r.cfg.InstID,
			Decision:       models.HoldDecision(""),
			PositionBefore: r.Tracker.Snapshot(),
		},
	}

	release, ok, err := r.Lock.TryLock(ctx, "cycle:"+r.cfg.InstID)
	if err != nil {
		return c.rec, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		logger.Warn("[CYCLE] %s %s skipped: previous cycle still running", r.cfg.InstID, c.rec.CycleID)
		return c.rec, ErrCycleBusy
	}
	defer release()

	span, ctx := tracing.StartSpan(ctx, "cycle", map[string]any{"inst": r.cfg.InstID, "cycle": c.rec.CycleID})
	logger.Info("[CYCLE] %s %s begin, local=%s", r.cfg.InstID, c.rec.CycleID, c.rec.PositionBefore)

	runErr := r.run(ctx, c)
	if runErr != nil {
		c.rec.Reason = runErr.Error()
	}
	r.logStage(ctx, c)
	tracing.FinishSpan(span, runErr)
	return c.rec, runErr
}

func (r *Runner) run(ctx context.Context, c *cycle) error {
	stages := []struct {
		stage models.Stage
		fn    func(ctx context.Context, c *cycle) error
	}{
		{models.StageFetch, r.fetch},
		{models.StageEnrich, r.enrich},
		{models.StageDecide, r.decide},
		{models.StageReconcile, r.reconcile},
		{models.StageExecute, r.execute},
	}
	for _, s := range stages {
		c.rec.Stage = s.stage
		if err := r.timed(ctx, s.stage, c, s.fn); err != nil {
			if c.rec.Outcome == "" {
				c.rec.Outcome = models.OutcomeFailed
			}
			return err
		}
	}
	c.rec.Stage = models.StageLog
	return nil
}

func (r *Runner) timed(ctx context.Context, stage models.Stage, c *cycle, fn func(ctx context.Context, c *cycle) error) error {
	span, ctx := tracing.StartSpan(ctx, string(stage), nil)
	began := time.Now()
	err := fn(ctx, c)
	metrics.StageSeconds.WithLabelValues(string(stage)).Observe(time.Since(began).Seconds())
	tracing.FinishSpan(span, err)
	return err
}

func (r *Runner) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, r.cfg.Retry, exchange.IsTransient, fn)
}

func (r *Runner) fetch(ctx context.Context, c *cycle) error {
	c.candles = make(map[string][]models.Candle, len(r.cfg.Timeframes))
	for _, tf := range r.cfg.Timeframes {
		var candles []models.Candle
		err := r.withRetry(ctx, func(ctx context.Context) (err error) {
			candles, err = r.Market.GetCandles(ctx, r.cfg.InstID, tf.Bar, tf.Limit)
			return err
		})
		if err != nil {
			return fmt.Errorf("candles %s: %w", tf.Bar, err)
		}
		if len(candles) == 0 {
			return fmt.Errorf("candles %s: empty", tf.Bar)
		}
		c.candles[tf.Bar] = candles
	}

	err := r.withRetry(ctx, func(ctx context.Context) (err error) {
		c.exchPos, err = r.Market.GetPosition(ctx, r.cfg.InstID)
		return err
	})
	if err != nil {
		return fmt.Errorf("position: %w", err)
	}
	err = r.withRetry(ctx, func(ctx context.Context) (err error) {
		c.rec.Balance, err = r.Market.GetBalance(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	return nil
}

func (r *Runner) enrich(_ context.Context, c *cycle) error {
	c.series = make([]models.Series, 0, len(r.cfg.Timeframes))
	for _, tf := range r.cfg.Timeframes {
		c.series = append(c.series, models.Series{Bar: tf.Bar, Rows: r.Enricher.Enrich(c.candles[tf.Bar])})
	}
	// цена цикла: close последней свечи самого мелкого таймфрейма
	if last, ok := c.series[len(c.series)-1].Last(); ok {
		c.rec.Price = decimal.NewFromFloat(last.Close)
	}
	return nil
}

func (r *Runner) decide(ctx context.Context, c *cycle) error {
	in := decision.Context{
		InstID:   r.cfg.InstID,
		Price:    c.rec.Price,
		Balance:  c.rec.Balance,
		Position: c.exchPos,
		Series:   c.series,
	}

	if r.Journal != nil && r.cfg.RecentWindow > 0 {
		recent, err := r.Journal.Recent(ctx, c.rec.CycleAt.Add(-r.cfg.RecentWindow), r.cfg.RecentLimit)
		if err != nil {
			logger.Warn("[CYCLE] %s recent trades: %v", r.cfg.InstID, err)
		}
		in.Recent = recent
	}
	if r.Reflector != nil {
		in.Reflection = r.Reflector.Reflect(ctx, in.Recent)
		c.rec.Reflection = in.Reflection
	}
	if r.FearGreed != nil {
		idx, err := r.FearGreed.Fetch(ctx)
		if err != nil {
			logger.Warn("[CYCLE] %s fear&greed: %v", r.cfg.InstID, err)
		}
		in.FearGreed = idx
	}

	dctx, cancel := context.WithTimeout(ctx, r.cfg.DecisionTimeout)
	defer cancel()
	var d models.Decision
	err := r.withRetry(dctx, func(ctx context.Context) (err error) {
		d, err = r.Source.Decide(ctx, in)
		return err
	})
	if err == nil {
		err = decision.Validate(d)
	}
	if errors.Is(err, decision.ErrInvalidDecision) {
		// кривое решение = HOLD, но сверку всё равно делаем
		c.invalid = err
		logger.Warn("[CYCLE] %s discarded decision: %v", r.cfg.InstID, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}

	c.rec.Decision = d
	metrics.Decisions.WithLabelValues(r.cfg.InstID, string(d.Action)).Inc()
	logger.Info("[CYCLE] %s decision %s conf=%.2f: %s", r.cfg.InstID, d.Action, d.Confidence, d.Rationale)
	return nil
}

func (r *Runner) reconcile(_ context.Context, c *cycle) error {
	pos, err := r.Tracker.Reconcile(c.exchPos)
	c.rec.PositionBefore = pos
	c.rec.PositionAfter = pos

	var mm *tracker.MismatchError
	if errors.As(err, &mm) {
		c.rec.Outcome = models.OutcomeReconcileMismatch
		metrics.ReconcileMismatch.WithLabelValues(r.cfg.InstID).Inc()
		logger.Error("[CYCLE] %s reconcile mismatch: %v", r.cfg.InstID, mm)
		r.Notifier.Send(notify.FormatMismatch(r.cfg.InstID, mm.Local, mm.Exchange))
		return err
	}
	if err != nil {
		return err
	}
	if r.Health != nil {
		r.Health.SetReady(true)
	}
	return nil
}

func (r *Runner) execute(ctx context.Context, c *cycle) error {
	if c.invalid != nil {
		c.rec.Outcome = models.OutcomeInvalidTransition
		c.rec.Reason = c.invalid.Error()
		return nil
	}

	res, err := r.Executor.Execute(ctx, execution.Request{
		CycleID:  c.rec.CycleID,
		Decision: c.rec.Decision,
		Position: r.Tracker.Snapshot(),
		Balance:  c.rec.Balance,
	})
	c.rec.Outcome = res.Outcome
	c.rec.Orders = res.Orders
	c.rec.Reason = res.Reason

	// позиция меняется только по подтверждённым исполнениям, даже если добивка упала
	for _, f := range res.Fills {
		_, pnl, aerr := r.Tracker.Apply(f)
		if aerr != nil {
			logger.Error("[CYCLE] %s apply fill %s: %v", r.cfg.InstID, f.OrderID, aerr)
			continue
		}
		c.realized = c.realized.Add(pnl)
		c.closed = c.closed || c.rec.Decision.Action.IsClose()
	}
	after := r.Tracker.Snapshot()
	c.rec.PositionAfter = after
	c.rec.SizeDelta = after.Signed().Sub(c.rec.PositionBefore.Signed())
	if c.closed {
		c.rec.RealizedPnL = decimal.NewNullDecimal(c.realized)
	}

	switch {
	case errors.Is(err, execution.ErrOrderLeftOpen):
		r.Notifier.Sendf("⚠️ %s: ордер не снимается с биржи, новые ордера стоят до его отмены. Позиция %s", r.cfg.InstID, after)
	case res.Outcome == models.OutcomePartialFallbackFailed:
		r.Notifier.Sendf("⚠️ %s: лимитка исполнена частично, маркет-добивка не прошла. Позиция %s", r.cfg.InstID, after)
	case errors.Is(err, execution.ErrInvalidTransition):
		// залогировано, дальше не идёт
		return nil
	}
	if res.Outcome == models.OutcomeFailed && err != nil {
		return err
	}
	return nil
}

// logStage LOG: журнал, метрики, health, уведомление. Отмена ctx не мешает записи.
func (r *Runner) logStage(ctx context.Context, c *cycle) {
	ctx = context.WithoutCancel(ctx)
	if c.rec.Outcome == "" {
		c.rec.Outcome = models.OutcomeNoop
	}
	if c.rec.PositionAfter.Side == "" {
		c.rec.PositionAfter = r.Tracker.Snapshot()
	}

	span, ctx := tracing.StartSpan(ctx, string(models.StageLog), nil)
	began := time.Now()
	var err error
	if r.Journal != nil {
		if err = r.Journal.Record(ctx, &c.rec); err != nil {
			logger.Error("[JOURNAL] %s %s: %v", r.cfg.InstID, c.rec.CycleID, err)
		}
	}
	metrics.StageSeconds.WithLabelValues(string(models.StageLog)).Observe(time.Since(began).Seconds())
	tracing.FinishSpan(span, err)

	metrics.Cycles.WithLabelValues(r.cfg.InstID, string(c.rec.Outcome)).Inc()
	size, _ := c.rec.PositionAfter.Signed().Float64()
	metrics.PositionSize.WithLabelValues(r.cfg.InstID).Set(size)
	realized, _ := r.Tracker.Realized().Float64()
	metrics.RealizedPnL.WithLabelValues(r.cfg.InstID).Set(realized)
	if r.Health != nil {
		r.Health.CycleDone(r.cfg.InstID, c.rec.Stage, c.rec.Outcome, c.rec.CycleAt)
	}

	if len(c.rec.Orders) > 0 {
		r.Notifier.Send(notify.FormatTradeRecord(c.rec))
	}
	logger.Info("[CYCLE] %s %s done: stage=%s outcome=%s position=%s",
		r.cfg.InstID, c.rec.CycleID, c.rec.Stage, c.rec.Outcome, c.rec.PositionAfter)
}
