package tracker

import (
	"errors"
	"math/rand"
	"testing"
	"time"
	"trade_pilot/internal/models"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func fill(side models.OrderSide, qty, px string) models.Fill {
	return models.Fill{Side: side, Quantity: d(qty), Price: d(px), At: time.Unix(1_760_000_000, 0)}
}

func TestApplyVWAPIsExact(t *testing.T) {
	tr := New("BTC-USDT-SWAP", d("0.0001"))

	if _, _, err := tr.Apply(fill(models.OrderBuy, "0.003", "20000")); err != nil {
		t.Fatal(err)
	}
	pos, pnl, err := tr.Apply(fill(models.OrderBuy, "0.005", "20400"))
	if err != nil {
		t.Fatal(err)
	}

	// (0.003*20000 + 0.005*20400) / 0.008 = 20250
	want := d("0.003").Mul(d("20000")).Add(d("0.005").Mul(d("20400"))).Div(d("0.008"))
	if !pos.EntryPrice.Equal(want) || !pos.EntryPrice.Equal(d("20250")) {
		t.Fatalf("entry = %s, want %s", pos.EntryPrice, want)
	}
	if pos.Side != models.SideLong || !pos.Size.Equal(d("0.008")) {
		t.Fatalf("pos = %s", pos)
	}
	if !pnl.IsZero() {
		t.Fatalf("adding to a position must not realize pnl, got %s", pnl)
	}
}

func TestApplySizeEqualsSignedSumSinceFlat(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		cur := models.FlatPosition()
		sum := decimal.Zero

		for step := 0; step < 20; step++ {
			side := models.OrderBuy
			if rng.Intn(2) == 0 {
				side = models.OrderSell
			}
			qty := decimal.NewFromInt(int64(rng.Intn(9) + 1)).Div(decimal.NewFromInt(1000))
			px := decimal.NewFromInt(int64(19000 + rng.Intn(2000)))

			next, _, err := ApplyFill(cur, models.Fill{Side: side, Quantity: qty, Price: px})
			if err != nil {
				t.Fatal(err)
			}
			if side == models.OrderBuy {
				sum = sum.Add(qty)
			} else {
				sum = sum.Sub(qty)
			}
			cur = next

			if !cur.Signed().Equal(sum) {
				t.Fatalf("run %d step %d: signed size %s != sum of fills %s", run, step, cur.Signed(), sum)
			}
			if cur.IsFlat() {
				if cur.Side != models.SideNone || !cur.EntryPrice.IsZero() {
					t.Fatalf("flat position must be reset, got %+v", cur)
				}
				sum = decimal.Zero
			}
		}
	}
}

func TestApplyCloseRealizesPnL(t *testing.T) {
	cases := []struct {
		name  string
		open  models.OrderSide
		close models.OrderSide
		entry string
		exit  string
		qty   string
		pnl   string
	}{
		{"long profit", models.OrderBuy, models.OrderSell, "20000", "20500", "0.008", "4"},
		{"long loss", models.OrderBuy, models.OrderSell, "20000", "19500", "0.008", "-4"},
		{"short profit", models.OrderSell, models.OrderBuy, "20000", "19500", "0.008", "4"},
		{"short loss", models.OrderSell, models.OrderBuy, "20000", "20250", "0.004", "-1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tr := New("BTC-USDT-SWAP", decimal.Zero)
			if _, _, err := tr.Apply(fill(c.open, c.qty, c.entry)); err != nil {
				t.Fatal(err)
			}
			pos, pnl, err := tr.Apply(fill(c.close, c.qty, c.exit))
			if err != nil {
				t.Fatal(err)
			}
			if !pnl.Equal(d(c.pnl)) {
				t.Fatalf("pnl = %s, want %s", pnl, c.pnl)
			}
			if !pos.IsFlat() || pos.Side != models.SideNone {
				t.Fatalf("position must reset to NONE, got %s", pos)
			}
			if !tr.Realized().Equal(d(c.pnl)) {
				t.Fatalf("cumulative realized = %s", tr.Realized())
			}
		})
	}
}

func TestApplyPartialClose(t *testing.T) {
	tr := New("BTC-USDT-SWAP", decimal.Zero)
	_, _, _ = tr.Apply(fill(models.OrderBuy, "0.010", "20000"))
	pos, pnl, err := tr.Apply(fill(models.OrderSell, "0.004", "21000"))
	if err != nil {
		t.Fatal(err)
	}
	if !pnl.Equal(d("4")) {
		t.Fatalf("pnl = %s", pnl)
	}
	if pos.Side != models.SideLong || !pos.Size.Equal(d("0.006")) || !pos.EntryPrice.Equal(d("20000")) {
		t.Fatalf("pos = %s", pos)
	}
}

func TestApplyRejectsBadFill(t *testing.T) {
	tr := New("BTC-USDT-SWAP", decimal.Zero)
	for _, f := range []models.Fill{
		fill(models.OrderBuy, "0", "20000"),
		fill(models.OrderBuy, "0.1", "0"),
		{Side: "HOLD", Quantity: d("1"), Price: d("1")},
	} {
		if _, _, err := tr.Apply(f); !errors.Is(err, ErrInvalidFill) {
			t.Fatalf("fill %+v: err = %v", f, err)
		}
	}
	if !tr.Snapshot().IsFlat() {
		t.Fatalf("bad fills must not change position")
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	tr := New("BTC-USDT-SWAP", d("0.0001"))
	exch := models.Position{Side: models.SideLong, Size: d("0.008"), EntryPrice: d("20000")}

	first, err := tr.Reconcile(exch)
	if err != nil {
		t.Fatalf("first reconcile: %v", err)
	}
	second, err := tr.Reconcile(exch)
	if err != nil {
		t.Fatalf("second reconcile: %v", err)
	}
	if !first.Equal(second) || !second.Equal(exch) {
		t.Fatalf("reconcile not idempotent: %s vs %s", first, second)
	}
}

func TestReconcileDetectsMismatch(t *testing.T) {
	cases := []struct {
		name  string
		local models.Position
		exch  models.Position
		bad   bool
	}{
		{"both flat", models.FlatPosition(), models.FlatPosition(), false},
		{"within tolerance", pos(models.SideLong, "0.008"), pos(models.SideLong, "0.00805"), false},
		{"size drift", pos(models.SideLong, "0.008"), pos(models.SideLong, "0.010"), true},
		{"side flip", pos(models.SideLong, "0.008"), pos(models.SideShort, "0.008"), true},
		{"missed close", pos(models.SideLong, "0.008"), models.FlatPosition(), true},
		{"missed open", models.FlatPosition(), pos(models.SideShort, "0.5"), true},
		{"dust on exchange", models.FlatPosition(), pos(models.SideShort, "0.00001"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			tr := New("BTC-USDT-SWAP", d("0.0001"))
			if _, err := tr.Reconcile(c.local); err != nil {
				t.Fatal(err)
			}
			got, err := tr.Reconcile(c.exch)
			if c.bad {
				var me *MismatchError
				if !errors.Is(err, ErrReconcileMismatch) || !errors.As(err, &me) {
					t.Fatalf("want mismatch, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("unexpected mismatch: %v", err)
			}
			// биржа авторитетна в любом случае
			if !got.Equal(c.exch) {
				t.Fatalf("local must be overwritten with exchange state, got %s", got)
			}
			if _, err := tr.Reconcile(c.exch); err != nil {
				t.Fatalf("next reconcile must be clean, got %v", err)
			}
		})
	}
}

func pos(side models.PositionSide, size string) models.Position {
	return models.Position{Side: side, Size: d(size), EntryPrice: d("20000")}
}
