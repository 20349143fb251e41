package signal

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"go.uber.org/zap"

	"exportalpha/internal/models"
	"exportalpha/internal/repository"
)

// Variant selects which rolling z-score column drives classification.
type Variant string

const (
	VariantMoM Variant = "mom"
	VariantYoY Variant = "yoy"
	VariantQoQ Variant = "qoq"
)

var ErrUnknownVariant = errors.New("signal: unknown zscore variant")

func ParseVariant(s string) (Variant, error) {
	switch Variant(s) {
	case VariantMoM, VariantYoY, VariantQoQ:
		return Variant(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVariant, s)
}

// Direction is an instrument's classification for a month.
type Direction int

const (
	Short   Direction = -1
	Neutral Direction = 0
	Long    Direction = 1
)

// Signal is one classified instrument.
type Signal struct {
	Symbol         string  `json:"symbol"`
	Month          string  `json:"month"`
	ZScore         float64 `json:"zscore"`
	Direction      int     `json:"signal"`
	ThresholdLong  float64 `json:"threshold_long"`
	ThresholdShort float64 `json:"threshold_short"`
	IndustryGroup  string   `json:"industry_group,omitempty"`
	ExportValue    float64  `json:"export_value"`
	Delta          *float64 `json:"delta,omitempty"`
}

// Threshold is an industry's adjusted threshold pair together with the
// regression inputs it was derived from.
type Threshold struct {
	Long       float64 `json:"long"`
	Short      float64 `json:"short"`
	Slope      float64 `json:"slope"`
	PValue     float64 `json:"p_value"`
	SampleSize int     `json:"sample_size"`
	R          float64 `json:"r"`
}

// Engine classifies the instrument universe month by month. Industry
// threshold tables are derived once per variant and reused for the run's
// lifetime.
type Engine struct {
	Repo   repository.MarketData
	Logger *zap.Logger

	BaseLong       float64
	BaseShort      float64
	UseSensitivity bool
	MinPValue      float64
	MinSampleSize  int

	mu         sync.Mutex
	thresholds map[Variant]map[string]Threshold
}

// Signals classifies every symbol in the universe for one "YYYY-MM" month.
// Symbols with no surprise row or a missing z-score for the variant are
// dropped before classification; excluded industries drop their symbols
// entirely. A month with no rows yields an empty slice, not an error.
func (e *Engine) Signals(ctx context.Context, month string, variant Variant) ([]Signal, error) {
	rows, err := e.Repo.ListSurpriseByMonth(ctx, month)
	if err != nil {
		return nil, fmt.Errorf("signal: load surprise rows for %s: %w", month, err)
	}

	var thresholds map[string]Threshold
	if e.UseSensitivity {
		thresholds, err = e.Thresholds(ctx, variant)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Signal, 0, len(rows))
	for _, r := range rows {
		z := zscoreOf(r, variant)
		if z == nil || math.IsNaN(*z) {
			continue
		}

		long, short := e.BaseLong, e.BaseShort
		if e.UseSensitivity {
			th, ok := thresholds[r.IndustryGroup]
			if !ok || th.PValue > e.MinPValue || th.SampleSize < e.MinSampleSize {
				// No usable regression for the industry: the
				// conservative choice is to stay out of it.
				continue
			}
			long, short = th.Long, th.Short
		}

		s := Signal{
			Symbol:         r.Symbol,
			Month:          month,
			ZScore:         *z,
			ThresholdLong:  long,
			ThresholdShort: short,
			IndustryGroup:  r.IndustryGroup,
			ExportValue:    r.ExportValue,
			Delta:          deltaOf(r, variant),
		}
		switch {
		case *z >= long:
			s.Direction = int(Long)
		case *z <= short:
			s.Direction = int(Short)
		}
		out = append(out, s)
	}

	if e.Logger != nil {
		e.Logger.Debug("signals generated",
			zap.String("month", month),
			zap.String("variant", string(variant)),
			zap.Int("universe", len(rows)),
			zap.Int("classified", len(out)))
	}
	return out, nil
}

// Thresholds returns the adjusted threshold table for a variant, deriving
// and memoizing it on first use.
func (e *Engine) Thresholds(ctx context.Context, variant Variant) (map[string]Threshold, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.thresholds[variant]; ok {
		return t, nil
	}

	rows, err := e.Repo.ListIndustrySensitivities(ctx, string(variant))
	if err != nil {
		return nil, fmt.Errorf("signal: load sensitivities for %s: %w", variant, err)
	}

	table := make(map[string]Threshold, len(rows))
	for _, r := range rows {
		long, short := AdjustThresholds(e.BaseLong, e.BaseShort, r.Slope, r.PValue, r.SampleSize)
		table[r.IndustryGroup] = Threshold{
			Long:       long,
			Short:      short,
			Slope:      r.Slope,
			PValue:     r.PValue,
			SampleSize: r.SampleSize,
			R:          r.R,
		}
	}

	if e.thresholds == nil {
		e.thresholds = map[Variant]map[string]Threshold{}
	}
	e.thresholds[variant] = table
	return table, nil
}

// AdjustThresholds derives an industry's threshold pair from its regression
// statistics. A steep slope tightens the band, a weak or thinly sampled
// regression widens it. Results are clamped to [0.1, 2.0] long and
// [-2.0, -0.1] short.
func AdjustThresholds(baseLong, baseShort, slope, pValue float64, sampleSize int) (long, short float64) {
	adj := 1.0

	switch s := math.Abs(slope); {
	case s > 0.003:
		adj *= 0.5
	case s > 0.002:
		adj *= 0.7
	case s > 0.001:
		adj *= 0.85
	case s < 0.0005:
		adj *= 1.5
	}

	switch {
	case pValue > 0.1:
		adj *= 1.8
	case pValue > 0.05:
		adj *= 1.3
	}

	switch {
	case sampleSize < 50:
		adj *= 1.5
	case sampleSize < 100:
		adj *= 1.2
	}

	long = clamp(baseLong*adj, 0.1, 2.0)
	short = clamp(baseShort*adj, -2.0, -0.1)
	return long, short
}

// SensitivityEntry is one industry's row in the summary view.
type SensitivityEntry struct {
	IndustryGroup string `json:"industry_group"`
	Threshold
	Excluded bool `json:"excluded"`
}

// SensitivitySummary lists every industry's adjusted thresholds together
// with whether the industry is excluded under the engine's quality gates.
func (e *Engine) SensitivitySummary(ctx context.Context, variant Variant) ([]SensitivityEntry, error) {
	table, err := e.Thresholds(ctx, variant)
	if err != nil {
		return nil, err
	}

	out := make([]SensitivityEntry, 0, len(table))
	for industry, th := range table {
		out = append(out, SensitivityEntry{
			IndustryGroup: industry,
			Threshold:     th,
			Excluded:      th.PValue > e.MinPValue || th.SampleSize < e.MinSampleSize,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IndustryGroup < out[j].IndustryGroup })
	return out, nil
}

func zscoreOf(r models.SurpriseRecord, variant Variant) *float64 {
	switch variant {
	case VariantYoY:
		return r.ZScoreYoY
	case VariantQoQ:
		return r.ZScoreQoQ
	default:
		return r.ZScoreMoM
	}
}

func deltaOf(r models.SurpriseRecord, variant Variant) *float64 {
	switch variant {
	case VariantYoY:
		return r.YoY
	case VariantQoQ:
		return r.QoQ
	default:
		return r.MoM
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
