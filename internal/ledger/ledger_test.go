package ledger

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"
)

// stubQuoter serves a fixed symbol → price map; absent symbols are
// untradeable.
type stubQuoter struct {
	prices map[string]float64
}

func (q *stubQuoter) IntradayPrice(ctx context.Context, symbol string, dateInt int, timeSlot, field string) *float64 {
	p, ok := q.prices[symbol]
	if !ok {
		return nil
	}
	return &p
}

func f(v float64) *float64 { return &v }

func newLedger(capital float64) *Ledger {
	return New(decimal.NewFromFloat(capital), "close")
}

func TestBuyUpdatesCashAndPosition(t *testing.T) {
	l := newLedger(1_000_000)

	if err := l.Buy("A", 100, f(1000), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if got := l.Cash(); !got.Equal(decimal.NewFromInt(900_000)) {
		t.Errorf("cash = %s, want 900000", got)
	}
	pos := l.Positions()
	if len(pos) != 1 {
		t.Fatalf("positions = %d, want 1", len(pos))
	}
	p := pos[0]
	if p.Symbol != "A" || p.Quantity != 100 || !p.AvgPrice.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("position = %+v", p)
	}
	if p.PurchaseDateInt != 20240102 || p.PurchaseSlot != "1020_1030" {
		t.Errorf("acquisition stamp = %d %s", p.PurchaseDateInt, p.PurchaseSlot)
	}
}

func TestBuyVolumeWeightedAverage(t *testing.T) {
	l := newLedger(1_000_000)

	if err := l.Buy("A", 100, f(1000), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := l.Buy("A", 100, f(2000), 20240205, "1120_1130"); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	p := l.Positions()[0]
	if p.Quantity != 200 || !p.AvgPrice.Equal(decimal.NewFromInt(1500)) {
		t.Errorf("position = qty %d avg %s, want 200 @ 1500", p.Quantity, p.AvgPrice)
	}
	// The acquisition stamp never moves on a top-up.
	if p.PurchaseDateInt != 20240102 || p.PurchaseSlot != "1020_1030" {
		t.Errorf("acquisition stamp moved: %d %s", p.PurchaseDateInt, p.PurchaseSlot)
	}
}

func TestBuyRejections(t *testing.T) {
	tests := []struct {
		name  string
		qty   int64
		price *float64
	}{
		{"nil price", 10, nil},
		{"nan price", 10, f(math.NaN())},
		{"zero price", 10, f(0)},
		{"negative price", 10, f(-5)},
		{"zero quantity", 0, f(100)},
		{"negative quantity", -3, f(100)},
		{"insufficient cash", 10, f(200_000)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := newLedger(1_000_000)
			err := l.Buy("A", tt.qty, tt.price, 20240102, "1020_1030")
			var rej *RejectionError
			if !errors.As(err, &rej) {
				t.Fatalf("err = %v, want RejectionError", err)
			}
			if !l.Cash().Equal(decimal.NewFromInt(1_000_000)) {
				t.Errorf("rejected buy moved cash to %s", l.Cash())
			}
			if len(l.Positions()) != 0 || len(l.Trades()) != 0 {
				t.Error("rejected buy left side effects")
			}
		})
	}
}

func TestSellRejectsOverHolding(t *testing.T) {
	l := newLedger(1_000_000)
	if err := l.Buy("A", 50, f(100), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	err := l.Sell("A", 60, f(100), 20240103)
	var rej *RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectionError", err)
	}
	if l.Quantity("A") != 50 {
		t.Errorf("quantity after rejected sell = %d, want 50", l.Quantity("A"))
	}
}

func TestSellDeletesAtZero(t *testing.T) {
	l := newLedger(1_000_000)
	if err := l.Buy("A", 50, f(100), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := l.Sell("A", 50, f(110), 20240103); err != nil {
		t.Fatalf("Sell: %v", err)
	}
	if len(l.Positions()) != 0 {
		t.Error("position should be deleted at zero quantity")
	}

	trades := l.Trades()
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].TimeSlot != "1020_1030" {
		t.Errorf("buy trade slot = %q", trades[0].TimeSlot)
	}
	// Sell records carry no time slot.
	if trades[1].TimeSlot != "" {
		t.Errorf("sell trade slot = %q, want empty", trades[1].TimeSlot)
	}
}

func TestCashConservation(t *testing.T) {
	l := newLedger(5_000_000)

	_ = l.Buy("A", 100, f(1234.56), 20240102, "1020_1030")
	_ = l.Buy("B", 37, f(999.99), 20240102, "1020_1030")
	_ = l.Sell("A", 40, f(1300.25), 20240103)
	_ = l.Buy("A", 10, f(1280.75), 20240104, "1120_1130")
	_ = l.Sell("B", 37, f(1001.01), 20240105)

	buys := decimal.Zero
	sells := decimal.Zero
	for _, tr := range l.Trades() {
		if tr.Side == SideBuy {
			buys = buys.Add(tr.Notional)
		} else {
			sells = sells.Add(tr.Notional)
		}
	}
	spent := decimal.NewFromInt(5_000_000).Sub(l.Cash())
	if !spent.Equal(buys.Sub(sells)) {
		t.Errorf("cash delta %s != buy notional %s - sell notional %s", spent, buys, sells)
	}
	if l.Cash().IsNegative() {
		t.Error("cash went negative")
	}
}

func TestValueSkipsUnpriceable(t *testing.T) {
	l := newLedger(1_000_000)
	_ = l.Buy("A", 100, f(1000), 20240102, "1020_1030")
	_ = l.Buy("B", 10, f(5000), 20240102, "1020_1030")

	// B has no current price and contributes zero.
	q := &stubQuoter{prices: map[string]float64{"A": 1100}}
	got := l.Value(context.Background(), q, 20240103, "1120_1130")
	want := l.Cash().Add(decimal.NewFromInt(110_000))
	if !got.Equal(want) {
		t.Errorf("value = %s, want %s", got, want)
	}
}

func TestCheckHoldingPeriodDays(t *testing.T) {
	l := newLedger(10_000_000)
	_ = l.Buy("A", 10, f(100), 20240101, "1020_1030")
	_ = l.Buy("B", 10, f(100), 20240125, "1020_1030")

	// 20240101 → 20240201 is 31 days, past the 30-day period; B is not.
	got := l.CheckHoldingPeriod(20240201, "1020_1030", 30, UnitDays)
	if len(got) != 1 || got[0] != "A" {
		t.Errorf("expired = %v, want [A]", got)
	}
}

func TestCheckHoldingPeriodMinutes(t *testing.T) {
	l := newLedger(10_000_000)
	_ = l.Buy("A", 10, f(100), 20240102, "1020_1030")

	// Same day, 10:20 → 11:20 is 60 minutes.
	if got := l.CheckHoldingPeriod(20240102, "1120_1130", 60, UnitMinutes); len(got) != 1 {
		t.Errorf("expired = %v, want [A]", got)
	}
	if got := l.CheckHoldingPeriod(20240102, "1110_1120", 60, UnitMinutes); len(got) != 0 {
		t.Errorf("expired = %v, want none at 50 minutes", got)
	}
}

func TestCheckHoldingPeriodSkipsUnstamped(t *testing.T) {
	l := newLedger(10_000_000)
	_ = l.Buy("A", 10, f(100), 20240102, "1020_1030")
	// Corrupt slot stamps are skipped, never force-expired.
	l.positions["A"].PurchaseSlot = "??"
	if got := l.CheckHoldingPeriod(20240102, "1520_1530", 1, UnitMinutes); len(got) != 0 {
		t.Errorf("expired = %v, want none", got)
	}
}

func TestRebalanceRenormalizesAroundUnpriceable(t *testing.T) {
	l := newLedger(1_000_000)
	q := &stubQuoter{prices: map[string]float64{"A": 250}}

	report := l.Rebalance(context.Background(),
		map[string]float64{"A": 0.6, "B": 0.4}, q, 20240102, "1020_1030")
	if !report.Applied {
		t.Fatalf("report = %+v, want applied", report)
	}
	if len(report.Excluded) != 1 || report.Excluded[0] != "B" {
		t.Errorf("excluded = %v, want [B]", report.Excluded)
	}
	// B's weight folds into A: floor(1_000_000 × 1.0 / 250) = 4000 shares.
	if got := l.Quantity("A"); got != 4000 {
		t.Errorf("quantity A = %d, want 4000", got)
	}
	if !l.Cash().Equal(decimal.Zero) {
		t.Errorf("cash = %s, want 0", l.Cash())
	}
}

func TestRebalanceIsIdempotent(t *testing.T) {
	l := newLedger(1_000_000)
	q := &stubQuoter{prices: map[string]float64{"A": 300, "B": 700}}
	targets := map[string]float64{"A": 0.5, "B": 0.5}
	ctx := context.Background()

	l.Rebalance(ctx, targets, q, 20240102, "1020_1030")
	trades := len(l.Trades())

	l.Rebalance(ctx, targets, q, 20240102, "1020_1030")
	if got := len(l.Trades()); got != trades {
		t.Errorf("second identical rebalance traded %d times", got-trades)
	}
}

func TestRebalanceEmptyTargetLiquidates(t *testing.T) {
	l := newLedger(1_000_000)
	q := &stubQuoter{prices: map[string]float64{"A": 100, "B": 200}}
	ctx := context.Background()

	_ = l.Buy("A", 100, f(100), 20240102, "1020_1030")
	_ = l.Buy("B", 50, f(200), 20240102, "1020_1030")

	report := l.Rebalance(ctx, nil, q, 20240201, "1020_1030")
	if report.Applied {
		t.Error("empty-target rebalance should not report applied")
	}
	if len(l.Positions()) != 0 {
		t.Errorf("positions after liquidation = %v", l.Positions())
	}
	if !l.Cash().Equal(decimal.NewFromInt(1_000_000)) {
		t.Errorf("cash = %s, want full capital back", l.Cash())
	}
}

func TestRebalanceKeepsUnpriceableHolding(t *testing.T) {
	l := newLedger(1_000_000)
	buyQ := &stubQuoter{prices: map[string]float64{"A": 100, "B": 200}}
	ctx := context.Background()

	l.Rebalance(ctx, map[string]float64{"A": 0.5, "B": 0.5}, buyQ, 20240102, "1020_1030")
	if l.Quantity("A") == 0 || l.Quantity("B") == 0 {
		t.Fatal("setup rebalance did not establish positions")
	}

	// Next month B is untradeable: it must survive an exit from the target
	// set untouched.
	sellQ := &stubQuoter{prices: map[string]float64{"A": 110}}
	report := l.Rebalance(ctx, map[string]float64{"A": 1.0}, sellQ, 20240201, "1020_1030")
	if !report.Applied {
		t.Fatalf("report = %+v, want applied", report)
	}
	if len(report.Unsellable) != 1 || report.Unsellable[0] != "B" {
		t.Errorf("unsellable = %v, want [B]", report.Unsellable)
	}
	if l.Quantity("B") == 0 {
		t.Error("unpriceable holding was force-sold")
	}
}

func TestRebalancePartialApplyDoesNotRollBack(t *testing.T) {
	l := newLedger(1_000_000)
	q := &stubQuoter{prices: map[string]float64{"A": 100, "B": 50}}
	ctx := context.Background()

	// Book is nearly all B: 18000 × 50 = 900000 held, 100000 cash.
	if err := l.Buy("B", 18_000, f(50), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	// A is adjusted before B, so its buy needs cash the B sell has not yet
	// freed and is rejected. The B sell still executes; nothing rolls back.
	report := l.Rebalance(ctx, map[string]float64{"A": 0.9, "B": 0.1}, q, 20240201, "1020_1030")
	if !report.Applied {
		t.Fatalf("report = %+v, want applied", report)
	}
	if len(report.Rejected) != 1 {
		t.Fatalf("rejected = %v, want one entry", report.Rejected)
	}
	if l.Quantity("A") != 0 {
		t.Errorf("quantity A = %d, want 0 (buy rejected)", l.Quantity("A"))
	}
	if l.Quantity("B") != 2000 {
		t.Errorf("quantity B = %d, want 2000", l.Quantity("B"))
	}
	if !l.Cash().Equal(decimal.NewFromInt(900_000)) {
		t.Errorf("cash = %s, want 900000", l.Cash())
	}
}

func TestPositionsViewMarksPnL(t *testing.T) {
	l := newLedger(1_000_000)
	ctx := context.Background()

	if err := l.Buy("A", 100, f(1000), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}
	if err := l.Buy("B", 50, f(200), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	// A marked up 10%, B unpriceable.
	q := &stubQuoter{prices: map[string]float64{"A": 1100}}
	views := l.PositionsView(ctx, q, 20240201, "1020_1030")
	if len(views) != 2 {
		t.Fatalf("views = %d, want 2", len(views))
	}

	a := views[0]
	if a.Symbol != "A" || a.Price == nil {
		t.Fatalf("view A = %+v", a)
	}
	if !a.MarketValue.Equal(decimal.NewFromInt(110_000)) || !a.PnL.Equal(decimal.NewFromInt(10_000)) {
		t.Errorf("A market value = %s pnl = %s", a.MarketValue, a.PnL)
	}
	if a.PnLPercent != 10 {
		t.Errorf("A pnl pct = %v, want 10", a.PnLPercent)
	}

	b := views[1]
	if b.Symbol != "B" || b.Price != nil || !b.MarketValue.IsZero() || !b.PnL.IsZero() {
		t.Errorf("view B = %+v, want unmarked", b)
	}
}

func TestSummary(t *testing.T) {
	l := newLedger(1_000_000)
	ctx := context.Background()

	if err := l.Buy("A", 100, f(1000), 20240102, "1020_1030"); err != nil {
		t.Fatalf("Buy: %v", err)
	}

	q := &stubQuoter{prices: map[string]float64{"A": 1100}}
	s := l.Summary(ctx, q, 20240201, "1020_1030")
	if s.Cash != 900_000 || s.StockValue != 110_000 || s.TotalValue != 1_010_000 {
		t.Errorf("summary = %+v", s)
	}
	if s.PnL != 10_000 || s.PnLPercent != 1 {
		t.Errorf("pnl = %v pct = %v, want 10000 and 1", s.PnL, s.PnLPercent)
	}
}
