package engine

import (
	"context"
	"math"

	"go.uber.org/zap"

	"exportalpha/internal/ledger"
	"exportalpha/internal/timeline"
)

// Results are the final metrics of a completed run. Benchmark figures are
// nil when the index table cannot cover the run's date range.
type Results struct {
	InitialCapital  float64  `json:"initial_capital"`
	FinalValue      float64  `json:"final_value"`
	TotalReturn     float64  `json:"total_return"`
	BenchmarkReturn *float64 `json:"benchmark_return"`
	ExcessReturn    *float64 `json:"excess_return"`
	SharpeRatio     float64  `json:"sharpe_ratio"`
	MaxDrawdown     float64  `json:"mdd"`
	TotalTrades     int      `json:"total_trades"`
	BuyTrades       int      `json:"buy_trades"`
	SellTrades      int      `json:"sell_trades"`
	TradingDays     int      `json:"trading_days"`
}

func (s *Simulation) computeResults(ctx context.Context) Results {
	s.mu.RLock()
	history := make([]Snapshot, len(s.history))
	copy(history, s.history)
	trades := s.led.Trades()
	s.mu.RUnlock()

	r := Results{
		InitialCapital: s.Params.InitialCapital,
		TotalTrades:    len(trades),
		TradingDays:    len(history),
	}
	for _, tr := range trades {
		if tr.Side == ledger.SideBuy {
			r.BuyTrades++
		} else {
			r.SellTrades++
		}
	}

	if len(history) == 0 {
		return r
	}

	r.FinalValue = history[len(history)-1].TotalValue
	r.TotalReturn = (r.FinalValue - r.InitialCapital) / r.InitialCapital * 100

	totals := make([]float64, len(history))
	for i, h := range history {
		totals[i] = h.TotalValue
	}
	returns := dailyReturns(totals)
	r.SharpeRatio = SharpeRatio(returns, s.Backtest.RiskFreeRate, s.Backtest.AnnualTradingDays)
	r.MaxDrawdown = MaxDrawdown(returns)

	if bench := s.benchmarkReturn(ctx); bench != nil {
		r.BenchmarkReturn = bench
		excess := r.TotalReturn - *bench
		r.ExcessReturn = &excess
	}
	return r
}

// benchmarkReturn is the index's percentage move over the run's date range,
// falling back to the nearest covered dates when the exact endpoints are
// missing.
func (s *Simulation) benchmarkReturn(ctx context.Context) *float64 {
	startInt := timeline.DateInt(s.Params.Start)
	endInt := timeline.DateInt(s.Params.End)

	start := s.Cache.IndexPrice(ctx, startInt, "close")
	if start == nil {
		var actual int
		start, actual = s.Cache.IndexCloseOnOrAfter(ctx, startInt)
		if start != nil {
			s.Logger.Info("benchmark start date shifted forward",
				zap.Int("requested", startInt), zap.Int("used", actual))
		}
	}
	end := s.Cache.IndexPrice(ctx, endInt, "close")
	if end == nil {
		var actual int
		end, actual = s.Cache.IndexCloseOnOrBefore(ctx, endInt)
		if end != nil {
			s.Logger.Info("benchmark end date shifted back",
				zap.Int("requested", endInt), zap.Int("used", actual))
		}
	}

	if start == nil || end == nil || *start <= 0 {
		s.Logger.Warn("benchmark return unavailable for run range",
			zap.Int("start", startInt), zap.Int("end", endInt))
		return nil
	}
	ret := (*end - *start) / *start * 100
	return &ret
}

// dailyReturns is the simple percentage change between consecutive totals.
func dailyReturns(totals []float64) []float64 {
	if len(totals) < 2 {
		return nil
	}
	out := make([]float64, 0, len(totals)-1)
	for i := 1; i < len(totals); i++ {
		prev := totals[i-1]
		if prev == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (totals[i]-prev)/prev)
	}
	return out
}

// SharpeRatio annualizes mean excess return over sample standard deviation.
// Defined as zero with fewer than two return samples or zero variance.
func SharpeRatio(returns []float64, riskFreeRate float64, annualDays int) float64 {
	if len(returns) < 2 || annualDays <= 0 {
		return 0
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	excess := mean - riskFreeRate/float64(annualDays)
	return excess / std * math.Sqrt(float64(annualDays))
}

// MaxDrawdown is the deepest peak-to-trough loss of the cumulative return
// index, as a negative percentage. Zero for a non-decreasing series.
func MaxDrawdown(returns []float64) float64 {
	cum := 1.0
	runMax := 1.0
	worst := 0.0
	for _, r := range returns {
		cum *= 1 + r
		if cum > runMax {
			runMax = cum
		}
		if dd := (cum - runMax) / runMax; dd < worst {
			worst = dd
		}
	}
	return worst * 100
}
