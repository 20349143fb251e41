package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"exportalpha/internal/config"
	"exportalpha/internal/engine"
	"exportalpha/internal/ledger"
	"exportalpha/internal/marketdata"
	"exportalpha/internal/repository"
	"exportalpha/internal/run"
	"exportalpha/internal/signal"
)

// BacktestHandler is the orchestration surface: it starts runs, polls
// their state, and reads back their artifacts. BaseCtx outlives individual
// requests and is handed to the run goroutine.
type BacktestHandler struct {
	Registry *run.Registry
	Repo     repository.MarketData
	Cache    *marketdata.Cache
	Logger   *zap.Logger
	Cfg      config.Config
	BaseCtx  context.Context
}

func (h *BacktestHandler) Register(r *gin.Engine) {
	g := r.Group("/api/backtest")
	g.POST("/start", h.start)
	g.GET("/status", h.status)
	g.GET("/portfolio", h.portfolio)
	g.GET("/trades", h.trades)
	g.GET("/history", h.history)
	g.GET("/results", h.results)
	g.GET("/sensitivity", h.sensitivity)
	g.POST("/stop", h.stop)
	g.DELETE("/reset", h.reset)
}

type startRequest struct {
	StartDate            string   `json:"start_date" binding:"required"`
	EndDate              string   `json:"end_date" binding:"required"`
	InitialCapital       *float64 `json:"initial_capital"`
	LongThreshold        *float64 `json:"long_threshold"`
	ShortThreshold       *float64 `json:"short_threshold"`
	EnableShort          bool     `json:"enable_short"`
	ZScoreVariant        string   `json:"zscore_variant"`
	HoldingPeriodEnabled bool     `json:"holding_period_enabled"`
	HoldingPeriodValue   int      `json:"holding_period_value"`
	HoldingPeriodUnit    string   `json:"holding_period_unit"`
}

func (r *startRequest) params(defaults config.BacktestConfig) (engine.Params, error) {
	start, err := time.Parse("2006-01-02", r.StartDate)
	if err != nil {
		return engine.Params{}, errors.New("start_date must be YYYY-MM-DD")
	}
	end, err := time.Parse("2006-01-02", r.EndDate)
	if err != nil {
		return engine.Params{}, errors.New("end_date must be YYYY-MM-DD")
	}

	p := engine.Params{
		Start:                start,
		End:                  end,
		InitialCapital:       defaults.DefaultInitialCapital,
		LongThreshold:        defaults.DefaultLongThreshold,
		ShortThreshold:       defaults.DefaultShortThreshold,
		EnableShort:          r.EnableShort,
		ZScoreVariant:        signal.Variant(defaults.DefaultZScoreVariant),
		HoldingPeriodEnabled: r.HoldingPeriodEnabled,
		HoldingPeriodValue:   r.HoldingPeriodValue,
		HoldingPeriodUnit:    ledger.UnitDays,
	}
	if r.InitialCapital != nil {
		p.InitialCapital = *r.InitialCapital
	}
	if r.LongThreshold != nil {
		p.LongThreshold = *r.LongThreshold
	}
	if r.ShortThreshold != nil {
		p.ShortThreshold = *r.ShortThreshold
	}
	if r.ZScoreVariant != "" {
		v, err := signal.ParseVariant(r.ZScoreVariant)
		if err != nil {
			return engine.Params{}, err
		}
		p.ZScoreVariant = v
	}
	if r.HoldingPeriodUnit != "" {
		switch ledger.PeriodUnit(r.HoldingPeriodUnit) {
		case ledger.UnitDays, ledger.UnitMinutes:
			p.HoldingPeriodUnit = ledger.PeriodUnit(r.HoldingPeriodUnit)
		default:
			return engine.Params{}, errors.New("holding_period_unit must be days or minutes")
		}
	}
	return p, nil
}

// @Summary Start a backtest run
// @Tags backtest
// @Accept json
// @Param request body startRequest true "run configuration"
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/backtest/start [post]
func (h *BacktestHandler) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	params, err := req.params(h.Cfg.Backtest)
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	sim := engine.New(h.Repo, h.Cache, h.Logger, h.Cfg, params)
	r, err := h.Registry.Begin(h.BaseCtx, sim)
	if err != nil {
		if errors.Is(err, run.ErrRunActive) {
			Error(c, http.StatusConflict, "a run is already active", nil)
			return
		}
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	Ok(c, gin.H{
		"run_id":     r.ID,
		"started_at": r.StartedAt,
		"start_date": req.StartDate,
		"end_date":   req.EndDate,
	}, nil)
}

// @Summary Run status
// @Tags backtest
// @Success 200 {object} apiResponse
// @Router /api/backtest/status [get]
func (h *BacktestHandler) status(c *gin.Context) {
	r, err := h.Registry.Current()
	if err != nil {
		Ok(c, engine.Status{State: engine.StateIdle}, nil)
		return
	}
	st := r.Sim.Status()
	Ok(c, st, map[string]any{"run_id": r.ID})
}

// @Summary Current ledger snapshot
// @Tags backtest
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/backtest/portfolio [get]
func (h *BacktestHandler) portfolio(c *gin.Context) {
	r, err := h.Registry.Current()
	if err != nil {
		Error(c, http.StatusNotFound, "no run exists", nil)
		return
	}
	Ok(c, r.Sim.Portfolio(c.Request.Context()), map[string]any{"run_id": r.ID})
}

// @Summary Trade log
// @Tags backtest
// @Param limit query int false "page size"
// @Param offset query int false "page offset"
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/backtest/trades [get]
func (h *BacktestHandler) trades(c *gin.Context) {
	r, err := h.Registry.Current()
	if err != nil {
		Error(c, http.StatusNotFound, "no run exists", nil)
		return
	}
	trades := r.Sim.Trades()
	total := len(trades)

	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	Ok(c, trades[offset:end], paginationMeta(limit, offset, total))
}

// @Summary End-of-day valuation history
// @Tags backtest
// @Success 200 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/backtest/history [get]
func (h *BacktestHandler) history(c *gin.Context) {
	r, err := h.Registry.Current()
	if err != nil {
		Error(c, http.StatusNotFound, "no run exists", nil)
		return
	}
	Ok(c, r.Sim.History(), map[string]any{"run_id": r.ID})
}

// @Summary Final metrics of a completed run
// @Tags backtest
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/backtest/results [get]
func (h *BacktestHandler) results(c *gin.Context) {
	r, err := h.Registry.Current()
	if err != nil {
		Error(c, http.StatusNotFound, "no run exists", nil)
		return
	}
	results, err := r.Sim.Results()
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, results, map[string]any{"run_id": r.ID})
}

// @Summary Per-industry adjusted thresholds of the current run
// @Tags backtest
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Failure 404 {object} apiResponse
// @Router /api/backtest/sensitivity [get]
func (h *BacktestHandler) sensitivity(c *gin.Context) {
	r, err := h.Registry.Current()
	if err != nil {
		Error(c, http.StatusNotFound, "no run exists", nil)
		return
	}
	entries, err := r.Sim.Sensitivity(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, entries, map[string]any{"run_id": r.ID})
}

// @Summary Flag the active run to stop
// @Tags backtest
// @Success 200 {object} apiResponse
// @Failure 400 {object} apiResponse
// @Router /api/backtest/stop [post]
func (h *BacktestHandler) stop(c *gin.Context) {
	r, err := h.Registry.Stop()
	if err != nil {
		Error(c, http.StatusBadRequest, "no run is in flight", nil)
		return
	}
	Ok(c, gin.H{"run_id": r.ID, "stop_requested": true}, nil)
}

// @Summary Clear the finished run and the price cache
// @Tags backtest
// @Success 200 {object} apiResponse
// @Failure 409 {object} apiResponse
// @Router /api/backtest/reset [delete]
func (h *BacktestHandler) reset(c *gin.Context) {
	if err := h.Registry.Reset(); err != nil {
		Error(c, http.StatusConflict, "cannot reset while a run is active", nil)
		return
	}
	h.Cache.Clear()
	Ok(c, gin.H{"reset": true}, nil)
}
