package journal

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
	"trade_pilot/internal/models"
	"trade_pilot/pkg/db"
	"trade_pilot/pkg/logger"

	"github.com/shopspring/decimal"
)

func TestMain(m *testing.M) {
	logger.UseNop()
	os.Exit(m.Run())
}

var t0 = time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)

func rec(i int, outcome models.Outcome, balance string) *models.TradeRecord {
	at := t0.Add(time.Duration(i) * 20 * time.Minute)
	r := &models.TradeRecord{
		CycleID:  "BTC-USDT-SWAP-" + at.Format("150405"),
		CycleAt:  at,
		InstID:   "BTC-USDT-SWAP",
		Stage:    models.StageLog,
		Decision: models.Decision{Action: models.ActionOpenLong, Confidence: 0.8, Rationale: "trend"},
		Orders: []models.Order{{
			ClientID: "c1", Type: models.OrderLimit, Side: models.OrderBuy,
			Quantity: decimal.RequireFromString("0.008"), Price: decimal.RequireFromString("20000"),
			Status: models.StatusFilled, FilledQty: decimal.RequireFromString("0.008"),
		}},
		Outcome:        outcome,
		PositionBefore: models.FlatPosition(),
		PositionAfter:  models.Position{Side: models.SideLong, Size: decimal.RequireFromString("0.008"), EntryPrice: decimal.RequireFromString("20000")},
		SizeDelta:      decimal.RequireFromString("0.008"),
		Balance:        decimal.RequireFromString(balance),
		Price:          decimal.RequireFromString("20000"),
	}
	if outcome == models.OutcomeFilled {
		r.RealizedPnL = decimal.NewNullDecimal(decimal.RequireFromString("4"))
	}
	return r
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := OpenSQLite(filepath.Join(t.TempDir(), "sub", "journal.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	out := map[string]Store{
		"memory": NewMemory(),
		"sqlite": sq,
	}

	// TRADE_PILOT_TEST_PG_DSN=postgres://...: прогнать то же самое на живом postgres
	if dsn := os.Getenv("TRADE_PILOT_TEST_PG_DSN"); dsn != "" {
		ctx := context.Background()
		pool, err := db.NewPool(ctx, db.PoolConfig{DSN: dsn, MaxConns: 2})
		if err != nil {
			t.Fatalf("pg pool: %v", err)
		}
		tm := db.NewPgTxManager(pool)
		t.Cleanup(tm.Close)
		pg, err := NewPostgres(ctx, tm)
		if err != nil {
			t.Fatalf("pg: %v", err)
		}
		if _, err := tm.Conn().Exec(ctx, "TRUNCATE trade_records"); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		out["pg"] = pg
	}
	return out
}

func TestStoreAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Last(ctx); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Last on empty = %v, want ErrNotFound", err)
			}

			var ids []int64
			for i := 0; i < 5; i++ {
				r := rec(i, models.OutcomeFilled, "10000")
				if err := s.Record(ctx, r); err != nil {
					t.Fatalf("record %d: %v", i, err)
				}
				ids = append(ids, r.ID)
			}
			for i := 1; i < len(ids); i++ {
				if ids[i] <= ids[i-1] {
					t.Fatalf("ids not increasing: %v", ids)
				}
			}

			got, err := s.Range(ctx, t0.Add(20*time.Minute), t0.Add(60*time.Minute))
			if err != nil {
				t.Fatalf("range: %v", err)
			}
			if len(got) != 3 {
				t.Fatalf("range len = %d, want 3", len(got))
			}
			for i := 1; i < len(got); i++ {
				if got[i].CycleAt.Before(got[i-1].CycleAt) {
					t.Fatalf("range not ascending")
				}
			}
			first := got[0]
			if first.ID != ids[1] || !first.CycleAt.Equal(t0.Add(20*time.Minute)) {
				t.Fatalf("first = id %d at %v", first.ID, first.CycleAt)
			}
			if !first.PositionAfter.Size.Equal(decimal.RequireFromString("0.008")) || first.PositionAfter.Side != models.SideLong {
				t.Fatalf("position after = %v", first.PositionAfter)
			}
			if !first.RealizedPnL.Valid || !first.RealizedPnL.Decimal.Equal(decimal.NewFromInt(4)) {
				t.Fatalf("realized = %+v", first.RealizedPnL)
			}
			if len(first.Orders) != 1 || first.Orders[0].Status != models.StatusFilled {
				t.Fatalf("orders = %+v", first.Orders)
			}

			recent, err := s.Recent(ctx, t0.Add(40*time.Minute), 2)
			if err != nil {
				t.Fatalf("recent: %v", err)
			}
			if len(recent) != 2 || recent[0].ID != ids[4] || recent[1].ID != ids[3] {
				t.Fatalf("recent = %d records, first id %d", len(recent), recent[0].ID)
			}
			all, err := s.Recent(ctx, t0, 0)
			if err != nil || len(all) != 5 {
				t.Fatalf("recent without limit = %d, %v", len(all), err)
			}

			last, err := s.Last(ctx)
			if err != nil || last.ID != ids[4] {
				t.Fatalf("last = %d, %v", last.ID, err)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "journal.db")

	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	r := rec(0, models.OutcomeReconcileMismatch, "10000")
	r.RealizedPnL = decimal.NullDecimal{}
	if err := s.Record(ctx, r); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = OpenSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	last, err := s.Last(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if last.Outcome != models.OutcomeReconcileMismatch || last.RealizedPnL.Valid {
		t.Fatalf("last = %+v", last)
	}
}

func TestPerformance(t *testing.T) {
	cases := []struct {
		name string
		recs []models.TradeRecord
		want string
		ok   bool
	}{
		{"empty", nil, "0", false},
		{"single", []models.TradeRecord{*rec(0, models.OutcomeNoop, "100")}, "0", false},
		{"gain", []models.TradeRecord{*rec(0, models.OutcomeNoop, "10000"), *rec(1, models.OutcomeNoop, "10004")}, "0.04", true},
		// порядок входа не важен, берём по CycleAt
		{"loss newest first", []models.TradeRecord{*rec(2, models.OutcomeNoop, "90"), *rec(0, models.OutcomeNoop, "100")}, "-10", true},
		{"zero start", []models.TradeRecord{*rec(0, models.OutcomeNoop, "0"), *rec(1, models.OutcomeNoop, "5")}, "0", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, ok := Performance(c.recs)
			if ok != c.ok || !got.Equal(decimal.RequireFromString(c.want)) {
				t.Fatalf("Performance = %s, %v; want %s, %v", got, ok, c.want, c.ok)
			}
		})
	}
}

type fakePub struct {
	got      []models.TradeRecord
	fail     bool
	closeErr error
}

func (f *fakePub) Publish(_ context.Context, r models.TradeRecord) error {
	if f.fail {
		return errors.New("broker down")
	}
	f.got = append(f.got, r)
	return nil
}

func (f *fakePub) Close() error { return f.closeErr }

func TestPublishingFanOut(t *testing.T) {
	ctx := context.Background()
	ok := &fakePub{}
	down := &fakePub{fail: true, closeErr: errors.New("close a")}
	s := WithPublishers(NewMemory(), ok, down)

	r := rec(0, models.OutcomeFilled, "10000")
	if err := s.Record(ctx, r); err != nil {
		t.Fatalf("publish failure leaked into Record: %v", err)
	}
	if len(ok.got) != 1 || ok.got[0].ID != r.ID || r.ID == 0 {
		t.Fatalf("published = %+v, id %d", ok.got, r.ID)
	}
	if last, _ := s.Last(ctx); last.ID != r.ID {
		t.Fatalf("store not written")
	}
	if err := s.Close(); err == nil || err.Error() != "close a" {
		t.Fatalf("close = %v", err)
	}
}
