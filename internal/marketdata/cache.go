package marketdata

import (
	"context"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"exportalpha/internal/repository"
)

// priceTable is one fully-loaded table: dateInt → symbol → price.
// Tables are immutable after load.
type priceTable map[int]map[string]float64

type tableKey struct {
	Field string
	Slot  string
}

type exportKey struct {
	Symbol string
	Month  string
}

// Cache memoizes whole market-data tables on first use and serves point
// lookups from memory. Every lookup returns nil rather than an error when the
// table, row, column, or value is absent: absence is an expected outcome that
// callers treat as "untradeable now". A repository failure degrades to a
// missing table (logged, retried on the next lookup).
type Cache struct {
	Repo   repository.MarketData
	Logger *zap.Logger

	mu           sync.RWMutex
	intraday     map[tableKey]priceTable
	daily        map[string]priceTable
	index        map[int]map[string]float64
	indexDates   []int
	indexLoaded  bool
	export       map[exportKey]float64
	exportLoaded bool
}

func NewCache(repo repository.MarketData, logger *zap.Logger) *Cache {
	return &Cache{
		Repo:     repo,
		Logger:   logger,
		intraday: map[tableKey]priceTable{},
		daily:    map[string]priceTable{},
	}
}

// IntradayPrice returns the price of symbol during the given slot, or nil.
func (c *Cache) IntradayPrice(ctx context.Context, symbol string, dateInt int, timeSlot, field string) *float64 {
	table := c.intradayTable(ctx, tableKey{Field: field, Slot: timeSlot})
	if table == nil {
		return nil
	}
	return cell(table, dateInt, symbol)
}

// DailyPrice returns symbol's daily price for the given field, or nil.
func (c *Cache) DailyPrice(ctx context.Context, symbol string, dateInt int, field string) *float64 {
	c.mu.RLock()
	table, ok := c.daily[field]
	c.mu.RUnlock()
	if !ok {
		rows, err := c.Repo.ListDailyPrices(ctx, field)
		if err != nil {
			c.warn("daily price table load failed", field, err)
			return nil
		}
		table = priceTable{}
		for _, r := range rows {
			row, ok := table[r.DateInt]
			if !ok {
				row = map[string]float64{}
				table[r.DateInt] = row
			}
			row[r.Symbol] = r.Price
		}
		c.mu.Lock()
		c.daily[field] = table
		c.mu.Unlock()
	}
	return cell(table, dateInt, symbol)
}

// IndexPrice returns the benchmark index value for the given field
// ("open"/"high"/"low"/"close"), or nil.
func (c *Cache) IndexPrice(ctx context.Context, dateInt int, field string) *float64 {
	if !c.ensureIndex(ctx) {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	row, ok := c.index[dateInt]
	if !ok {
		return nil
	}
	return validPrice(row[field])
}

// IndexCloseOnOrAfter returns the first available index close at or after
// dateInt, with its actual date. Used for benchmark start fallback.
func (c *Cache) IndexCloseOnOrAfter(ctx context.Context, dateInt int) (*float64, int) {
	if !c.ensureIndex(ctx) {
		return nil, 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := sort.SearchInts(c.indexDates, dateInt)
	if i >= len(c.indexDates) {
		return nil, 0
	}
	d := c.indexDates[i]
	return validPrice(c.index[d]["close"]), d
}

// IndexCloseOnOrBefore returns the last available index close at or before
// dateInt, with its actual date. Used for benchmark end fallback.
func (c *Cache) IndexCloseOnOrBefore(ctx context.Context, dateInt int) (*float64, int) {
	if !c.ensureIndex(ctx) {
		return nil, 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	i := sort.SearchInts(c.indexDates, dateInt+1)
	if i == 0 {
		return nil, 0
	}
	d := c.indexDates[i-1]
	return validPrice(c.index[d]["close"]), d
}

// ExportValue returns the monthly export figure for (symbol, "YYYY-MM"), or nil.
func (c *Cache) ExportValue(ctx context.Context, symbol, month string) *float64 {
	c.mu.RLock()
	loaded := c.exportLoaded
	c.mu.RUnlock()
	if !loaded {
		rows, err := c.Repo.ListExportValues(ctx)
		if err != nil {
			c.warn("export table load failed", "export_values", err)
			return nil
		}
		table := make(map[exportKey]float64, len(rows))
		for _, r := range rows {
			table[exportKey{Symbol: r.Symbol, Month: r.Month}] = r.Value
		}
		c.mu.Lock()
		c.export = table
		c.exportLoaded = true
		c.mu.Unlock()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.export[exportKey{Symbol: symbol, Month: month}]
	if !ok {
		return nil
	}
	return validPrice(v)
}

// Clear drops every memoized table. Tables reload lazily on next use.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intraday = map[tableKey]priceTable{}
	c.daily = map[string]priceTable{}
	c.index = nil
	c.indexDates = nil
	c.indexLoaded = false
	c.export = nil
	c.exportLoaded = false
}

type Stats struct {
	IntradayTables int  `json:"intraday_tables"`
	DailyTables    int  `json:"daily_tables"`
	IndexLoaded    bool `json:"index_loaded"`
	ExportLoaded   bool `json:"export_loaded"`
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		IntradayTables: len(c.intraday),
		DailyTables:    len(c.daily),
		IndexLoaded:    c.indexLoaded,
		ExportLoaded:   c.exportLoaded,
	}
}

func (c *Cache) intradayTable(ctx context.Context, key tableKey) priceTable {
	c.mu.RLock()
	table, ok := c.intraday[key]
	c.mu.RUnlock()
	if ok {
		return table
	}
	rows, err := c.Repo.ListIntradayPrices(ctx, key.Field, key.Slot)
	if err != nil {
		c.warn("intraday price table load failed", key.Field+"_"+key.Slot, err)
		return nil
	}
	table = priceTable{}
	for _, r := range rows {
		row, ok := table[r.DateInt]
		if !ok {
			row = map[string]float64{}
			table[r.DateInt] = row
		}
		row[r.Symbol] = r.Price
	}
	c.mu.Lock()
	c.intraday[key] = table
	c.mu.Unlock()
	return table
}

func (c *Cache) ensureIndex(ctx context.Context) bool {
	c.mu.RLock()
	loaded := c.indexLoaded
	c.mu.RUnlock()
	if loaded {
		return true
	}
	bars, err := c.Repo.ListIndexBars(ctx)
	if err != nil {
		c.warn("index table load failed", "index_bars", err)
		return false
	}
	index := make(map[int]map[string]float64, len(bars))
	dates := make([]int, 0, len(bars))
	for _, b := range bars {
		index[b.DateInt] = map[string]float64{
			"open":  b.Open,
			"high":  b.High,
			"low":   b.Low,
			"close": b.Close,
		}
		dates = append(dates, b.DateInt)
	}
	sort.Ints(dates)
	c.mu.Lock()
	c.index = index
	c.indexDates = dates
	c.indexLoaded = true
	c.mu.Unlock()
	return true
}

func (c *Cache) warn(msg, table string, err error) {
	if c.Logger != nil {
		c.Logger.Warn(msg, zap.String("table", table), zap.Error(err))
	}
}

func cell(table priceTable, dateInt int, symbol string) *float64 {
	row, ok := table[dateInt]
	if !ok {
		return nil
	}
	v, ok := row[symbol]
	if !ok {
		return nil
	}
	return validPrice(v)
}

// validPrice maps NaN to nil so "not a number" never leaks downstream.
func validPrice(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
