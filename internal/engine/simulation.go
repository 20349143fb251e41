package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"exportalpha/internal/config"
	"exportalpha/internal/ledger"
	"exportalpha/internal/marketdata"
	"exportalpha/internal/repository"
	"exportalpha/internal/signal"
	"exportalpha/internal/timeline"
)

// State is a run's lifecycle phase. Transitions are strictly forward:
// Idle → Initializing → Running → Completed or Failed.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateRunning      State = "running"
	StateCompleted    State = "completed"
	StateFailed       State = "error"
)

var (
	ErrInvalidCapital   = errors.New("engine: initial capital must be positive")
	ErrInvalidThreshold = errors.New("engine: long threshold must be positive and short threshold non-positive")
	ErrInvalidPeriod    = errors.New("engine: holding period value must be positive")
	ErrEmptyUniverse    = errors.New("engine: instrument universe is empty")
	ErrNotCompleted     = errors.New("engine: run has not completed")
	ErrNotInitialized   = errors.New("engine: run has not initialized")
)

// Params is one run's configuration.
type Params struct {
	Start                time.Time
	End                  time.Time
	InitialCapital       float64
	LongThreshold        float64
	ShortThreshold       float64
	EnableShort          bool
	ZScoreVariant        signal.Variant
	HoldingPeriodEnabled bool
	HoldingPeriodValue   int
	HoldingPeriodUnit    ledger.PeriodUnit
}

// Snapshot is one end-of-day valuation record.
type Snapshot struct {
	DateInt    int     `json:"date"`
	Date       string  `json:"date_str"`
	Cash       float64 `json:"cash"`
	StockValue float64 `json:"stock_value"`
	TotalValue float64 `json:"total_value"`
}

// Status is the polling view of a run.
type Status struct {
	State       State   `json:"status"`
	Progress    float64 `json:"progress"`
	CurrentDate string  `json:"current_date,omitempty"`
	CurrentSlot string  `json:"current_slot,omitempty"`
	Message     string  `json:"message,omitempty"`
}

// Simulation replays one configured run over its timeline. The pass itself
// is single-threaded; the mutex exists so status, portfolio, and history
// reads from the HTTP side see consistent state while the pass is running.
type Simulation struct {
	Repo     repository.MarketData
	Cache    *marketdata.Cache
	Logger   *zap.Logger
	Market   config.MarketConfig
	Backtest config.BacktestConfig
	Strategy config.StrategyConfig
	Params   Params

	mu      sync.RWMutex
	state   State
	errMsg  string
	ticks   []timeline.Tick
	tickIdx int
	led     *ledger.Ledger
	sig     *signal.Engine
	history []Snapshot
	results *Results

	stopRequested bool
}

func New(repo repository.MarketData, cache *marketdata.Cache, logger *zap.Logger, cfg config.Config, params Params) *Simulation {
	return &Simulation{
		Repo:     repo,
		Cache:    cache,
		Logger:   logger,
		Market:   cfg.Market,
		Backtest: cfg.Backtest,
		Strategy: cfg.Strategy,
		Params:   params,
		state:    StateIdle,
	}
}

// Claim moves the run out of Idle before its goroutine is launched. The
// registry calls this under its own lock so a concurrent Begin can never
// observe a claimed run as inactive.
func (s *Simulation) Claim() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateInitializing
	}
}

// Init validates parameters and builds the run's timeline, ledger, and
// signal engine. Any error here is fatal and leaves the run Failed before
// a single tick executes.
func (s *Simulation) Init(ctx context.Context) error {
	s.Claim()

	if err := s.init(ctx); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.state = StateRunning
	s.mu.Unlock()
	return nil
}

func (s *Simulation) init(ctx context.Context) error {
	p := s.Params
	if p.InitialCapital <= 0 {
		return ErrInvalidCapital
	}
	if p.LongThreshold <= 0 || p.ShortThreshold > 0 {
		return ErrInvalidThreshold
	}
	if p.HoldingPeriodEnabled && p.HoldingPeriodValue <= 0 {
		return ErrInvalidPeriod
	}
	if _, err := signal.ParseVariant(string(p.ZScoreVariant)); err != nil {
		return err
	}

	builder := &timeline.Builder{Repo: s.Repo, Logger: s.Logger, Market: s.Market}
	ticks, err := builder.Build(ctx, p.Start, p.End)
	if err != nil {
		return err
	}

	symbols, err := s.Repo.ListSymbols(ctx)
	if err != nil {
		return fmt.Errorf("engine: load instrument universe: %w", err)
	}
	if len(symbols) == 0 {
		return ErrEmptyUniverse
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = ticks
	s.led = ledger.New(decimal.NewFromFloat(p.InitialCapital), s.Market.DefaultField)
	s.sig = &signal.Engine{
		Repo:           s.Repo,
		Logger:         s.Logger,
		BaseLong:       p.LongThreshold,
		BaseShort:      p.ShortThreshold,
		UseSensitivity: s.Strategy.UseSensitivity,
		MinPValue:      s.Strategy.MinPValue,
		MinSampleSize:  s.Strategy.MinSampleSize,
	}

	s.Logger.Info("run initialized",
		zap.String("start", p.Start.Format("2006-01-02")),
		zap.String("end", p.End.Format("2006-01-02")),
		zap.Int("ticks", len(ticks)),
		zap.Int("universe", len(symbols)),
		zap.Float64("initial_capital", p.InitialCapital),
		zap.Bool("short_enabled", p.EnableShort),
		zap.String("variant", string(p.ZScoreVariant)))
	return nil
}

// Run executes the pass. A stop request is honored between ticks only: an
// in-flight tick always completes, and a stopped run still finishes as
// Completed with whatever history it accumulated.
func (s *Simulation) Run(ctx context.Context) {
	interval := s.Backtest.ProgressLogInterval
	if interval <= 0 {
		interval = 100
	}

	for i, tick := range s.ticks {
		if s.StopRequested() {
			s.Logger.Info("stop requested, ending run early",
				zap.Int("tick", i), zap.Int("total", len(s.ticks)))
			break
		}
		s.processTick(ctx, i, tick)

		if i%interval == 0 {
			s.Logger.Info("run progress",
				zap.Int("tick", i),
				zap.Int("total", len(s.ticks)),
				zap.Int("date", tick.DateInt),
				zap.String("slot", tick.TimeSlot))
		}
	}

	// Results are stored in the same locked update that publishes Completed,
	// so a Results() call can never observe the state without them.
	results := s.computeResults(ctx)
	s.mu.Lock()
	s.results = &results
	s.state = StateCompleted
	s.mu.Unlock()

	s.Logger.Info("run completed",
		zap.Float64("final_value", results.FinalValue),
		zap.Float64("total_return_pct", results.TotalReturn),
		zap.Float64("sharpe", results.SharpeRatio),
		zap.Float64("mdd_pct", results.MaxDrawdown),
		zap.Int("trades", results.TotalTrades))
}

func (s *Simulation) processTick(ctx context.Context, idx int, tick timeline.Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickIdx = idx

	if tick.IsSignalTick {
		s.rebalanceOnSignal(ctx, tick)
	}

	if s.Params.HoldingPeriodEnabled {
		s.sellExpiredHoldings(ctx, tick)
	}

	total := s.led.Value(ctx, s.Cache, tick.DateInt, tick.TimeSlot)
	if tick.IsClosingTick {
		cash := s.led.Cash()
		s.history = append(s.history, Snapshot{
			DateInt:    tick.DateInt,
			Date:       tick.Date.Format("2006-01-02"),
			Cash:       cash.InexactFloat64(),
			StockValue: total.Sub(cash).InexactFloat64(),
			TotalValue: total.InexactFloat64(),
		})
	}
}

// rebalanceOnSignal classifies the tick's month and moves the book to an
// equal-weight target. A month with no qualifying signals, or a signal
// generation failure, liquidates to cash and the run continues.
func (s *Simulation) rebalanceOnSignal(ctx context.Context, tick timeline.Tick) {
	month := tick.Month()
	signals, err := s.sig.Signals(ctx, month, s.Params.ZScoreVariant)
	if err != nil {
		s.Logger.Error("signal generation failed, month skipped",
			zap.String("month", month), zap.Error(err))
		return
	}

	var longs, shorts []string
	for _, sg := range signals {
		switch sg.Direction {
		case int(signal.Long):
			longs = append(longs, sg.Symbol)
		case int(signal.Short):
			if s.Params.EnableShort {
				shorts = append(shorts, sg.Symbol)
			}
		}
	}

	targets := map[string]float64{}
	if n := len(longs) + len(shorts); n > 0 {
		w := 1.0 / float64(n)
		for _, sym := range longs {
			targets[sym] = w
		}
		for _, sym := range shorts {
			targets[sym] = -w
		}
	}

	report := s.led.Rebalance(ctx, targets, s.Cache, tick.DateInt, tick.TimeSlot)
	s.Logger.Info("signal rebalance",
		zap.String("month", month),
		zap.Int("long", len(longs)),
		zap.Int("short", len(shorts)),
		zap.Bool("applied", report.Applied),
		zap.Int("excluded", len(report.Excluded)),
		zap.Int("unsellable", len(report.Unsellable)),
		zap.Int("rejected", len(report.Rejected)))
}

func (s *Simulation) sellExpiredHoldings(ctx context.Context, tick timeline.Tick) {
	expired := s.led.CheckHoldingPeriod(tick.DateInt, tick.TimeSlot,
		s.Params.HoldingPeriodValue, s.Params.HoldingPeriodUnit)
	for _, symbol := range expired {
		qty := s.led.Quantity(symbol)
		if qty <= 0 {
			continue
		}
		price := s.Cache.IntradayPrice(ctx, symbol, tick.DateInt, tick.TimeSlot, s.Market.DefaultField)
		if price == nil {
			s.Logger.Warn("holding period expired but unpriceable, kept",
				zap.String("symbol", symbol), zap.Int("date", tick.DateInt))
			continue
		}
		if err := s.led.Sell(symbol, qty, price, tick.DateInt); err != nil {
			s.Logger.Warn("holding period sell rejected",
				zap.String("symbol", symbol), zap.Error(err))
		}
	}
}

func (s *Simulation) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateFailed
	s.errMsg = err.Error()
	s.Logger.Error("run failed during initialization", zap.Error(err))
}

// RequestStop flags the run. The loop reads the flag between ticks; an
// in-flight tick is never interrupted.
func (s *Simulation) RequestStop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopRequested = true
}

func (s *Simulation) StopRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopRequested
}

// Active reports whether the run still owns the single-run slot.
func (s *Simulation) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state == StateInitializing || s.state == StateRunning
}

func (s *Simulation) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Simulation) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{State: s.state, Message: s.errMsg}
	switch s.state {
	case StateCompleted:
		st.Progress = 100
	case StateRunning:
		if len(s.ticks) > 0 {
			st.Progress = float64(s.tickIdx) / float64(len(s.ticks)) * 100
			tick := s.ticks[s.tickIdx]
			st.CurrentDate = tick.Date.Format("2006-01-02")
			st.CurrentSlot = tick.TimeSlot
		}
	}
	return st
}

// History returns the end-of-day snapshots recorded so far.
func (s *Simulation) History() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Snapshot, len(s.history))
	copy(out, s.history)
	return out
}

// Portfolio is the ledger view exposed over HTTP: headline numbers plus
// the holdings marked at the current tick's prices.
type Portfolio struct {
	ledger.Summary
	Positions []ledger.PositionView `json:"positions"`
}

func (s *Simulation) Portfolio(ctx context.Context) Portfolio {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.led == nil {
		return Portfolio{}
	}

	var dateInt int
	var slot string
	if len(s.ticks) > 0 {
		tick := s.ticks[min(s.tickIdx, len(s.ticks)-1)]
		dateInt, slot = tick.DateInt, tick.TimeSlot
	}
	return Portfolio{
		Summary:   s.led.Summary(ctx, s.Cache, dateInt, slot),
		Positions: s.led.PositionsView(ctx, s.Cache, dateInt, slot),
	}
}

// Sensitivity returns the run's per-industry threshold table with
// exclusion flags. Only meaningful in sensitivity mode; the table is
// derived lazily if the run has not hit a signal tick yet.
func (s *Simulation) Sensitivity(ctx context.Context) ([]signal.SensitivityEntry, error) {
	s.mu.RLock()
	sig := s.sig
	s.mu.RUnlock()
	if sig == nil {
		return nil, ErrNotInitialized
	}
	return sig.SensitivitySummary(ctx, s.Params.ZScoreVariant)
}

func (s *Simulation) Trades() []ledger.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.led == nil {
		return nil
	}
	return s.led.Trades()
}

// Results returns the final metrics, only available once Completed.
func (s *Simulation) Results() (Results, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state != StateCompleted || s.results == nil {
		return Results{}, fmt.Errorf("%w: state is %s", ErrNotCompleted, s.state)
	}
	return *s.results, nil
}
