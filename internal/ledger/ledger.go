package ledger

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"exportalpha/internal/timeline"
)

// Quoter is the price lookup the ledger needs for valuation and
// rebalancing. A nil result means the instrument is untradeable right now.
type Quoter interface {
	IntradayPrice(ctx context.Context, symbol string, dateInt int, timeSlot, field string) *float64
}

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Position is one held instrument. The acquisition timestamp is sticky:
// later top-ups never move it.
type Position struct {
	Symbol          string          `json:"symbol"`
	Quantity        int64           `json:"quantity"`
	AvgPrice        decimal.Decimal `json:"avg_price"`
	PurchaseDateInt int             `json:"purchase_date"`
	PurchaseSlot    string          `json:"purchase_time,omitempty"`
}

// Trade is an immutable audit record. Sell trades carry no time slot.
type Trade struct {
	DateInt  int             `json:"date"`
	TimeSlot string          `json:"time_slot,omitempty"`
	Symbol   string          `json:"symbol"`
	Side     Side            `json:"action"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	Notional decimal.Decimal `json:"total"`
}

// RejectionError reports a refused buy or sell. Rejections have no side
// effects and are ordinary outcomes, not faults.
type RejectionError struct {
	Op     string
	Symbol string
	Reason string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("%s %s rejected: %s", e.Op, e.Symbol, e.Reason)
}

type PeriodUnit string

const (
	UnitDays    PeriodUnit = "days"
	UnitMinutes PeriodUnit = "minutes"
)

// Ledger owns cash, positions, and the trade log of a single run. Cash is
// exact decimal arithmetic and can never go negative. Not safe for
// concurrent use; each run owns its ledger exclusively.
type Ledger struct {
	InitialCapital decimal.Decimal
	Field          string

	cash      decimal.Decimal
	positions map[string]*Position
	trades    []Trade
}

func New(initialCapital decimal.Decimal, field string) *Ledger {
	return &Ledger{
		InitialCapital: initialCapital,
		Field:          field,
		cash:           initialCapital,
		positions:      map[string]*Position{},
	}
}

func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Quantity returns the held quantity of symbol, zero when absent.
func (l *Ledger) Quantity(symbol string) int64 {
	if p, ok := l.positions[symbol]; ok {
		return p.Quantity
	}
	return 0
}

// Positions returns the current holdings sorted by symbol.
func (l *Ledger) Positions() []Position {
	out := make([]Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// PositionView is a position marked at one tick's price. Price stays nil
// when the instrument cannot be priced; the derived fields are zero then.
type PositionView struct {
	Position
	Price       *float64        `json:"current_price,omitempty"`
	MarketValue decimal.Decimal `json:"market_value"`
	PnL         decimal.Decimal `json:"pnl"`
	PnLPercent  float64         `json:"pnl_percent"`
}

// PositionsView returns the holdings marked at the given tick, sorted by
// symbol.
func (l *Ledger) PositionsView(ctx context.Context, q Quoter, dateInt int, timeSlot string) []PositionView {
	positions := l.Positions()
	out := make([]PositionView, 0, len(positions))
	for _, p := range positions {
		v := PositionView{Position: p}
		price := q.IntradayPrice(ctx, p.Symbol, dateInt, timeSlot, l.Field)
		if validPrice(price) {
			px := decimal.NewFromFloat(*price)
			v.Price = price
			v.MarketValue = px.Mul(decimal.NewFromInt(p.Quantity))
			cost := p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
			v.PnL = v.MarketValue.Sub(cost)
			if !cost.IsZero() {
				v.PnLPercent, _ = v.PnL.Div(cost).Mul(decimal.NewFromInt(100)).Float64()
			}
		}
		out = append(out, v)
	}
	return out
}

// Summary is the ledger's headline numbers at one tick.
type Summary struct {
	Cash       float64 `json:"cash"`
	StockValue float64 `json:"stock_value"`
	TotalValue float64 `json:"total_value"`
	PnL        float64 `json:"pnl"`
	PnLPercent float64 `json:"pnl_percent"`
}

func (l *Ledger) Summary(ctx context.Context, q Quoter, dateInt int, timeSlot string) Summary {
	total := l.Value(ctx, q, dateInt, timeSlot)
	pnl := total.Sub(l.InitialCapital)
	s := Summary{
		Cash:       l.cash.InexactFloat64(),
		StockValue: total.Sub(l.cash).InexactFloat64(),
		TotalValue: total.InexactFloat64(),
		PnL:        pnl.InexactFloat64(),
	}
	if !l.InitialCapital.IsZero() {
		s.PnLPercent, _ = pnl.Div(l.InitialCapital).Mul(decimal.NewFromInt(100)).Float64()
	}
	return s
}

// Trades returns the append-only trade log in execution order.
func (l *Ledger) Trades() []Trade {
	out := make([]Trade, len(l.trades))
	copy(out, l.trades)
	return out
}

// Buy debits cash and updates the position's volume-weighted average cost.
// Rejects on invalid price, non-positive quantity, or insufficient cash.
func (l *Ledger) Buy(symbol string, qty int64, price *float64, dateInt int, timeSlot string) error {
	if !validPrice(price) {
		return &RejectionError{Op: "buy", Symbol: symbol, Reason: "invalid price"}
	}
	if qty <= 0 {
		return &RejectionError{Op: "buy", Symbol: symbol, Reason: "invalid quantity"}
	}

	px := decimal.NewFromFloat(*price)
	cost := px.Mul(decimal.NewFromInt(qty))
	if cost.GreaterThan(l.cash) {
		return &RejectionError{Op: "buy", Symbol: symbol, Reason: "insufficient cash"}
	}

	l.cash = l.cash.Sub(cost)

	p, ok := l.positions[symbol]
	if !ok {
		p = &Position{Symbol: symbol, PurchaseDateInt: dateInt, PurchaseSlot: timeSlot}
		l.positions[symbol] = p
	}
	oldNotional := p.AvgPrice.Mul(decimal.NewFromInt(p.Quantity))
	p.Quantity += qty
	p.AvgPrice = oldNotional.Add(cost).Div(decimal.NewFromInt(p.Quantity))

	l.trades = append(l.trades, Trade{
		DateInt:  dateInt,
		TimeSlot: timeSlot,
		Symbol:   symbol,
		Side:     SideBuy,
		Quantity: qty,
		Price:    px,
		Notional: cost,
	})
	return nil
}

// Sell credits cash and decrements the position, deleting it exactly at
// zero quantity. Rejects on invalid price, non-positive quantity, or more
// than the held quantity.
func (l *Ledger) Sell(symbol string, qty int64, price *float64, dateInt int) error {
	if !validPrice(price) {
		return &RejectionError{Op: "sell", Symbol: symbol, Reason: "invalid price"}
	}
	if qty <= 0 {
		return &RejectionError{Op: "sell", Symbol: symbol, Reason: "invalid quantity"}
	}
	p, ok := l.positions[symbol]
	if !ok || p.Quantity < qty {
		return &RejectionError{Op: "sell", Symbol: symbol, Reason: "insufficient holdings"}
	}

	px := decimal.NewFromFloat(*price)
	revenue := px.Mul(decimal.NewFromInt(qty))
	l.cash = l.cash.Add(revenue)

	p.Quantity -= qty
	if p.Quantity == 0 {
		delete(l.positions, symbol)
	}

	l.trades = append(l.trades, Trade{
		DateInt:  dateInt,
		Symbol:   symbol,
		Side:     SideSell,
		Quantity: qty,
		Price:    px,
		Notional: revenue,
	})
	return nil
}

// Value returns cash plus the marked value of every position. A position
// without a current price contributes zero; it is not excluded from the sum.
func (l *Ledger) Value(ctx context.Context, q Quoter, dateInt int, timeSlot string) decimal.Decimal {
	total := l.cash
	for symbol, p := range l.positions {
		price := q.IntradayPrice(ctx, symbol, dateInt, timeSlot, l.Field)
		if !validPrice(price) {
			continue
		}
		total = total.Add(decimal.NewFromFloat(*price).Mul(decimal.NewFromInt(p.Quantity)))
	}
	return total
}

// CheckHoldingPeriod returns the symbols held at least periodValue units.
// Days compare calendar dates; minutes reconstruct slot-start datetimes.
// Positions without an acquisition date and unparseable slots are skipped,
// never force-expired.
func (l *Ledger) CheckHoldingPeriod(dateInt int, timeSlot string, periodValue int, unit PeriodUnit) []string {
	currentDay, err := timeline.ParseDateInt(dateInt)
	if err != nil {
		return nil
	}

	var expired []string
	for symbol, p := range l.positions {
		if p.PurchaseDateInt == 0 {
			continue
		}
		purchaseDay, err := timeline.ParseDateInt(p.PurchaseDateInt)
		if err != nil {
			continue
		}

		switch unit {
		case UnitDays:
			days := int(currentDay.Sub(purchaseDay).Hours() / 24)
			if days >= periodValue {
				expired = append(expired, symbol)
			}
		case UnitMinutes:
			if p.PurchaseSlot == "" || timeSlot == "" {
				continue
			}
			ph, pm, err := timeline.SlotStart(p.PurchaseSlot)
			if err != nil {
				continue
			}
			ch, cm, err := timeline.SlotStart(timeSlot)
			if err != nil {
				continue
			}
			purchase := time.Date(purchaseDay.Year(), purchaseDay.Month(), purchaseDay.Day(), ph, pm, 0, 0, time.UTC)
			current := time.Date(currentDay.Year(), currentDay.Month(), currentDay.Day(), ch, cm, 0, 0, time.UTC)
			if int(current.Sub(purchase).Minutes()) >= periodValue {
				expired = append(expired, symbol)
			}
		}
	}
	sort.Strings(expired)
	return expired
}

// RebalanceReport describes what one rebalance call actually did.
type RebalanceReport struct {
	Applied    bool     `json:"applied"`
	Excluded   []string `json:"excluded,omitempty"`   // targets without a valid price
	Unsellable []string `json:"unsellable,omitempty"` // holdings kept because they cannot be priced
	Rejected   []string `json:"rejected,omitempty"`   // individual buy/sell rejections
}

// Rebalance moves the book toward target weights, best effort. Unpriceable
// targets are excluded and the rest renormalized; unpriceable holdings are
// never force-sold. Trades already executed stand even if a later one in
// the same call is rejected.
func (l *Ledger) Rebalance(ctx context.Context, targets map[string]float64, q Quoter, dateInt int, timeSlot string) RebalanceReport {
	var report RebalanceReport

	totalValue := l.Value(ctx, q, dateInt, timeSlot)

	symbols := make([]string, 0, len(targets))
	for s := range targets {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	prices := map[string]decimal.Decimal{}
	weightSum := 0.0
	for _, symbol := range symbols {
		price := q.IntradayPrice(ctx, symbol, dateInt, timeSlot, l.Field)
		if !validPrice(price) {
			report.Excluded = append(report.Excluded, symbol)
			continue
		}
		prices[symbol] = decimal.NewFromFloat(*price)
		weightSum += targets[symbol]
	}

	// Nothing tradable: liquidate what can be priced and hold the rest.
	if len(prices) == 0 {
		for _, p := range l.Positions() {
			price := q.IntradayPrice(ctx, p.Symbol, dateInt, timeSlot, l.Field)
			if !validPrice(price) {
				report.Unsellable = append(report.Unsellable, p.Symbol)
				continue
			}
			if err := l.Sell(p.Symbol, p.Quantity, price, dateInt); err != nil {
				report.Rejected = append(report.Rejected, err.Error())
			}
		}
		return report
	}

	// Weights cancelling out leaves no meaningful renormalization.
	if weightSum <= 0 {
		return report
	}

	// Renormalize surviving weights and convert to share counts.
	targetQty := map[string]int64{}
	for symbol, px := range prices {
		w := targets[symbol] / weightSum
		qty := totalValue.Mul(decimal.NewFromFloat(w)).Div(px).Floor().IntPart()
		targetQty[symbol] = qty
	}

	// Holdings absent from the target set are liquidated, unless unpriceable.
	for _, p := range l.Positions() {
		if _, ok := targetQty[p.Symbol]; ok {
			continue
		}
		price := q.IntradayPrice(ctx, p.Symbol, dateInt, timeSlot, l.Field)
		if !validPrice(price) {
			report.Unsellable = append(report.Unsellable, p.Symbol)
			continue
		}
		if err := l.Sell(p.Symbol, p.Quantity, price, dateInt); err != nil {
			report.Rejected = append(report.Rejected, err.Error())
		}
	}

	// Adjust each surviving target to its share count. No rollback: an
	// individual rejection leaves earlier trades in place.
	targetSymbols := make([]string, 0, len(targetQty))
	for s := range targetQty {
		targetSymbols = append(targetSymbols, s)
	}
	sort.Strings(targetSymbols)
	for _, symbol := range targetSymbols {
		current := l.Quantity(symbol)
		want := targetQty[symbol]
		px, _ := prices[symbol].Float64()
		switch {
		case want > current:
			if err := l.Buy(symbol, want-current, &px, dateInt, timeSlot); err != nil {
				report.Rejected = append(report.Rejected, err.Error())
			}
		case want < current:
			if err := l.Sell(symbol, current-want, &px, dateInt); err != nil {
				report.Rejected = append(report.Rejected, err.Error())
			}
		}
	}

	report.Applied = true
	return report
}

func validPrice(p *float64) bool {
	return p != nil && !math.IsNaN(*p) && *p > 0
}
