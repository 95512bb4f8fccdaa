package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"
	"trade_pilot/internal/decision"
	"trade_pilot/internal/exchange"
	"trade_pilot/internal/execution"
	"trade_pilot/internal/indicators"
	"trade_pilot/internal/journal"
	"trade_pilot/internal/models"
	"trade_pilot/internal/tracker"
	"trade_pilot/pkg/logger"
	"trade_pilot/pkg/retry"

	"github.com/shopspring/decimal"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

const instID = "BTC-USDT-SWAP"

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

type fakeMarket struct {
	mu sync.Mutex

	pos       models.Position
	balance   decimal.Decimal
	price     decimal.Decimal
	failFirst int // столько первых GetCandles отдадут transient
	calls     int
	down      bool
}

func (f *fakeMarket) setPrice(px string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = d(px)
}

func (f *fakeMarket) GetCandles(_ context.Context, _, bar string, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.down {
		return nil, exchange.Transient(errors.New("502 bad gateway"))
	}
	if f.calls <= f.failFirst {
		return nil, exchange.Transient(errors.New("rate limited"))
	}
	px, _ := f.price.Float64()
	step := time.Hour
	if bar == "1D" {
		step = 24 * time.Hour
	}
	out := make([]models.Candle, limit)
	for i := range out {
		out[i] = models.Candle{Timestamp: t0.Add(time.Duration(i-limit) * step), Open: px, High: px, Low: px, Close: px, Volume: 1}
	}
	return out, nil
}

func (f *fakeMarket) GetPosition(context.Context, string) (models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pos, nil
}

func (f *fakeMarket) GetBalance(context.Context) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance, nil
}

func (f *fakeMarket) BestQuote(context.Context, string) (exchange.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return exchange.Quote{Bid: f.price, Ask: f.price, At: t0}, nil
}

func (f *fakeMarket) Instrument(context.Context, string) (models.Instrument, error) {
	return models.Instrument{InstID: instID, TickSize: d("0.1"), LotSize: d("0.001"), MinSize: d("0.001")}, nil
}

type script struct {
	mu    sync.Mutex
	steps []any // models.Decision или error
	i     int
}

func (s *script) Decide(context.Context, decision.Context) (models.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.i >= len(s.steps) {
		return models.HoldDecision("script over"), nil
	}
	step := s.steps[s.i]
	s.i++
	if err, ok := step.(error); ok {
		return models.Decision{}, err
	}
	return step.(models.Decision), nil
}

type countingExec struct {
	mu    sync.Mutex
	calls []execution.Request
}

func (c *countingExec) Execute(_ context.Context, req execution.Request) (models.ExecutionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, req)
	return models.ExecutionResult{Outcome: models.OutcomeNoop}, nil
}

func (c *countingExec) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) Send(msg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
}

func (r *recorder) Sendf(format string, args ...any) { r.Send(fmt.Sprintf(format, args...)) }

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type instantClock struct{ now time.Time }

func (c *instantClock) Now() time.Time { return c.now }
func (c *instantClock) Sleep(ctx context.Context, dur time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.now = c.now.Add(dur)
	return nil
}

func testConfig() Config {
	return Config{
		InstID:          instID,
		Timeframes:      []Timeframe{{Bar: "1D", Limit: 30}, {Bar: "1H", Limit: 24}},
		PollInterval:    20 * time.Minute,
		DecisionTimeout: time.Second,
		RecentWindow:    7 * 24 * time.Hour,
		RecentLimit:     10,
		Retry:           retry.Policy{Retries: 2, BaseDelay: time.Millisecond, Multiplier: 2},
	}
}

type fixture struct {
	r       *Runner
	market  *fakeMarket
	exec    *countingExec
	journal *journal.Memory
	notify  *recorder
	source  *script
	at      time.Time
}

func newFixture(steps ...any) *fixture {
	f := &fixture{
		market:  &fakeMarket{pos: models.FlatPosition(), balance: d("10000"), price: d("20000")},
		exec:    &countingExec{},
		journal: journal.NewMemory(),
		notify:  &recorder{},
		source:  &script{steps: steps},
		at:      t0,
	}
	f.r = New(testConfig(), Deps{
		Market:   f.market,
		Executor: f.exec,
		Tracker:  tracker.New(instID, d("0.0001")),
		Enricher: indicators.Talib{},
		Source:   f.source,
		Journal:  f.journal,
		Notifier: f.notify,
	})
	f.r.now = func() time.Time { return f.at }
	return f
}

func (f *fixture) cycle(t *testing.T) (models.TradeRecord, error) {
	t.Helper()
	rec, err := f.r.RunCycle(context.Background())
	f.at = f.at.Add(20 * time.Minute)
	return rec, err
}

func TestMismatchSkipsExecuteAndAlerts(t *testing.T) {
	f := newFixture()

	rec, err := f.cycle(t)
	if err != nil || f.exec.count() != 1 || rec.Outcome != models.OutcomeNoop {
		t.Fatalf("first cycle: outcome=%s err=%v execs=%d", rec.Outcome, err, f.exec.count())
	}

	// позиция появилась на бирже мимо нас
	f.market.pos = models.Position{Side: models.SideLong, Size: d("0.5"), EntryPrice: d("19000")}
	rec, err = f.cycle(t)
	if !errors.Is(err, tracker.ErrReconcileMismatch) {
		t.Fatalf("err = %v", err)
	}
	if f.exec.count() != 1 {
		t.Fatalf("execute ran on mismatch")
	}
	if rec.Outcome != models.OutcomeReconcileMismatch || rec.Stage != models.StageReconcile {
		t.Fatalf("record = %s at %s", rec.Outcome, rec.Stage)
	}
	msgs := f.notify.all()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "local: NONE") || !strings.Contains(msgs[0], "exchange: LONG 0.5") {
		t.Fatalf("alerts = %q", msgs)
	}
	last, _ := f.journal.Last(context.Background())
	if last.ID != rec.ID || last.Outcome != models.OutcomeReconcileMismatch {
		t.Fatalf("journal last = %+v", last)
	}

	// следующий цикл сверяется заново и идёт дальше
	rec, err = f.cycle(t)
	if err != nil || f.exec.count() != 2 {
		t.Fatalf("third cycle: err=%v execs=%d", err, f.exec.count())
	}
	if !rec.PositionBefore.Equal(f.market.pos) {
		t.Fatalf("position before = %s", rec.PositionBefore)
	}
}

func TestFetchRetriesTransientThenFails(t *testing.T) {
	f := newFixture()
	f.market.failFirst = 2

	if _, err := f.cycle(t); err != nil {
		t.Fatalf("two transient failures within retry budget: %v", err)
	}

	f.market.down = true
	rec, err := f.cycle(t)
	if !exchange.IsTransient(err) {
		t.Fatalf("err = %v", err)
	}
	if rec.Stage != models.StageFetch || rec.Outcome != models.OutcomeFailed || rec.Reason == "" {
		t.Fatalf("record = %+v", rec)
	}
	if f.exec.count() != 1 {
		t.Fatalf("execute ran after failed fetch")
	}
	if all, _ := f.journal.Recent(context.Background(), t0, 0); len(all) != 2 {
		t.Fatalf("failed cycle not logged: %d records", len(all))
	}

	f.market.down = false
	if _, err := f.cycle(t); err != nil {
		t.Fatalf("next cycle should proceed: %v", err)
	}
}

func TestInvalidDecisionIsDiscarded(t *testing.T) {
	f := newFixture(
		fmt.Errorf("%w: unknown action %q", decision.ErrInvalidDecision, "moon"),
		models.Decision{Action: models.ActionOpenLong, Confidence: 7},
	)

	for i := 0; i < 2; i++ {
		rec, err := f.cycle(t)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if rec.Outcome != models.OutcomeInvalidTransition || rec.Decision.Action != models.ActionHold {
			t.Fatalf("cycle %d record = %s %s", i, rec.Outcome, rec.Decision.Action)
		}
	}
	if f.exec.count() != 0 {
		t.Fatalf("invalid decision reached execute")
	}
}

func TestDecisionSourceDownFailsCycle(t *testing.T) {
	f := newFixture(exchange.Transient(errors.New("llm 503")), exchange.Transient(errors.New("llm 503")), exchange.Transient(errors.New("llm 503")))
	rec, err := f.cycle(t)
	if err == nil || rec.Stage != models.StageDecide || rec.Outcome != models.OutcomeFailed {
		t.Fatalf("record = %s at %s, err %v", rec.Outcome, rec.Stage, err)
	}
	if f.exec.count() != 0 {
		t.Fatal("execute ran without decision")
	}
}

func TestCycleIDFollowsSlot(t *testing.T) {
	f := newFixture()
	f.at = t0.Add(7 * time.Minute)
	rec, _ := f.r.RunCycle(context.Background())
	want := fmt.Sprintf("%s-%d", instID, t0.Unix())
	if rec.CycleID != want {
		t.Fatalf("cycle id = %s, want %s", rec.CycleID, want)
	}
	if f.exec.calls[0].CycleID != want {
		t.Fatalf("engine got cycle id %s", f.exec.calls[0].CycleID)
	}
}

func TestBusyLockSkipsCycle(t *testing.T) {
	f := newFixture()
	release, ok, _ := f.r.Lock.TryLock(context.Background(), "cycle:"+instID)
	if !ok {
		t.Fatal("lock")
	}
	if _, err := f.r.RunCycle(context.Background()); !errors.Is(err, ErrCycleBusy) {
		t.Fatalf("err = %v", err)
	}
	if _, err := f.journal.Last(context.Background()); !errors.Is(err, journal.ErrNotFound) {
		t.Fatal("skipped cycle was logged")
	}
	release()
	if _, err := f.r.RunCycle(context.Background()); err != nil {
		t.Fatalf("after release: %v", err)
	}
}

func TestLocalLock(t *testing.T) {
	l := NewLocalLock()
	ctx := context.Background()
	rel, ok, _ := l.TryLock(ctx, "a")
	if !ok {
		t.Fatal("first lock")
	}
	if _, ok, _ := l.TryLock(ctx, "a"); ok {
		t.Fatal("second lock on same key")
	}
	relB, ok, _ := l.TryLock(ctx, "b")
	if !ok {
		t.Fatal("other key blocked")
	}
	relB()
	rel()
	if _, ok, _ := l.TryLock(ctx, "a"); !ok {
		t.Fatal("lock not released")
	}
}

// Полный путь через настоящий движок и бумажную биржу.
func TestOpenThenCloseEndToEnd(t *testing.T) {
	f := newFixture(
		models.Decision{Action: models.ActionOpenLong, Confidence: 0.8, Rationale: "dip"},
		models.Decision{Action: models.ActionCloseLong, Confidence: 0.9, Rationale: "target"},
	)
	paper := exchange.NewPaper(f.market, exchange.PaperConfig{Balance: d("10000"), Leverage: 1})
	eng := execution.NewEngine(execution.Config{
		InstID:       instID,
		LimitTimeout: 5 * time.Minute,
		PollInterval: 10 * time.Second,
		Retry:        retry.Policy{Retries: 1, BaseDelay: time.Millisecond},
	}, paper, execution.FixedFraction{FractionPct: d("2"), MinNotional: d("5"), MaxNotional: d("10000")}).
		WithClock(&instantClock{now: t0})
	f.r.Market = paper
	f.r.Executor = eng

	rec, err := f.cycle(t)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	want := models.Position{Side: models.SideLong, Size: d("0.008"), EntryPrice: d("20000")}
	if rec.Outcome != models.OutcomeFilled || !rec.PositionAfter.Equal(want) {
		t.Fatalf("open record: %s %s", rec.Outcome, rec.PositionAfter)
	}
	if !rec.SizeDelta.Equal(d("0.008")) || rec.RealizedPnL.Valid || rec.Stage != models.StageLog {
		t.Fatalf("open record: delta=%s pnl=%+v stage=%s", rec.SizeDelta, rec.RealizedPnL, rec.Stage)
	}
	if len(rec.Orders) != 1 || rec.Orders[0].Type != models.OrderLimit {
		t.Fatalf("orders = %+v", rec.Orders)
	}

	f.market.setPrice("20500")
	rec, err = f.cycle(t)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if rec.Outcome != models.OutcomeFilled || !rec.PositionAfter.IsFlat() || rec.PositionAfter.Side != models.SideNone {
		t.Fatalf("close record: %s %s", rec.Outcome, rec.PositionAfter)
	}
	if !rec.RealizedPnL.Valid || !rec.RealizedPnL.Decimal.Equal(d("4")) {
		t.Fatalf("realized = %+v", rec.RealizedPnL)
	}
	if !rec.SizeDelta.Equal(d("-0.008")) {
		t.Fatalf("delta = %s", rec.SizeDelta)
	}
	if !f.r.Tracker.Realized().Equal(d("4")) {
		t.Fatalf("tracker realized = %s", f.r.Tracker.Realized())
	}

	// следующий цикл видит обновлённый бумажный баланс и сверяется чисто
	rec, err = f.cycle(t)
	if err != nil || rec.Outcome != models.OutcomeNoop || !rec.Balance.Equal(d("10004")) {
		t.Fatalf("after close: %s balance=%s err=%v", rec.Outcome, rec.Balance, err)
	}

	recs, _ := f.journal.Range(context.Background(), t0, t0.Add(time.Hour))
	if len(recs) != 3 {
		t.Fatalf("journal = %d records", len(recs))
	}
	if trades := f.notify.all(); len(trades) != 2 {
		t.Fatalf("trade notifications = %d", len(trades))
	}
}

func TestManagerStartStop(t *testing.T) {
	a := newFixture()
	b := newFixture()
	b.r.cfg.InstID = "ETH-USDT-SWAP"
	m := NewManager(a.r, b.r)
	if got := len(m.Instruments()); got != 2 {
		t.Fatalf("instruments = %d", got)
	}

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := m.Start(ctx); err == nil {
		t.Fatal("double start")
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		_, errA := a.journal.Last(ctx)
		_, errB := b.journal.Last(ctx)
		if errA == nil && errB == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("runners did not complete a cycle")
		}
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := m.Stop(stopCtx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

// blockingExec висит внутри Execute, пока не закроют release.
type blockingExec struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once

	mu     sync.Mutex
	ctxErr error
	done   bool
}

func (b *blockingExec) Execute(ctx context.Context, _ execution.Request) (models.ExecutionResult, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ctxErr = ctx.Err()
	b.done = true
	return models.ExecutionResult{Outcome: models.OutcomeNoop, Reason: "leg finished"}, nil
}

func TestStopWaitsForLegInFlight(t *testing.T) {
	f := newFixture()
	ex := &blockingExec{entered: make(chan struct{}), release: make(chan struct{})}
	f.r.Executor = ex
	m := NewManager(f.r)

	ctx := context.Background()
	if err := m.Start(ctx); err != nil {
		t.Fatal(err)
	}
	select {
	case <-ex.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("executor was never called")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- m.Stop(stopCtx) }()

	select {
	case err := <-stopped:
		t.Fatalf("stop returned while the leg is still running: %v", err)
	case <-time.After(100 * time.Millisecond):
	}
	if _, err := f.journal.Last(ctx); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("record written before the leg finished: %v", err)
	}

	close(ex.release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("stop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("stop did not return after the leg finished")
	}

	ex.mu.Lock()
	done, ctxErr := ex.done, ex.ctxErr
	ex.mu.Unlock()
	if !done || ctxErr != nil {
		t.Fatalf("leg done=%v ctx err=%v, want finished with a live context", done, ctxErr)
	}
	rec, err := f.journal.Last(ctx)
	if err != nil {
		t.Fatalf("no record after stop: %v", err)
	}
	if rec.Outcome != models.OutcomeNoop || rec.Stage != models.StageLog {
		t.Fatalf("record = %s at %s", rec.Outcome, rec.Stage)
	}
}
