package signal

import (
	"context"
	"testing"

	"exportalpha/internal/models"
)

type stubRepo struct {
	surprises     []models.SurpriseRecord
	sensitivities []models.IndustrySensitivity

	sensitivityCalls int
}

func (s *stubRepo) ListTradingDays(ctx context.Context) ([]models.TradingDay, error) {
	return nil, nil
}

func (s *stubRepo) ListIntradayPrices(ctx context.Context, field, timeSlot string) ([]models.IntradayPrice, error) {
	return nil, nil
}

func (s *stubRepo) ListDailyPrices(ctx context.Context, field string) ([]models.DailyPrice, error) {
	return nil, nil
}

func (s *stubRepo) ListIndexBars(ctx context.Context) ([]models.IndexBar, error) {
	return nil, nil
}

func (s *stubRepo) ListExportValues(ctx context.Context) ([]models.ExportValue, error) {
	return nil, nil
}

func (s *stubRepo) ListSurpriseByMonth(ctx context.Context, month string) ([]models.SurpriseRecord, error) {
	var out []models.SurpriseRecord
	for _, r := range s.surprises {
		if r.Month == month {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRepo) ListSymbols(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubRepo) ListIndustrySensitivities(ctx context.Context, metric string) ([]models.IndustrySensitivity, error) {
	s.sensitivityCalls++
	var out []models.IndustrySensitivity
	for _, r := range s.sensitivities {
		if r.Metric == metric {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *stubRepo) CountRows(ctx context.Context) (map[string]int64, error) {
	return nil, nil
}

func f(v float64) *float64 { return &v }

func TestParseVariant(t *testing.T) {
	for _, s := range []string{"mom", "yoy", "qoq"} {
		if _, err := ParseVariant(s); err != nil {
			t.Errorf("ParseVariant(%q) failed: %v", s, err)
		}
	}
	if _, err := ParseVariant("wow"); err == nil {
		t.Error("ParseVariant(wow) should fail")
	}
}

func TestAdjustThresholds(t *testing.T) {
	tests := []struct {
		name       string
		slope      float64
		pValue     float64
		sampleSize int
		wantLong   float64
		wantShort  float64
	}{
		{"neutral inputs", 0.0008, 0.01, 200, 0.4, -0.4},
		{"very sensitive slope halves", 0.004, 0.01, 200, 0.2, -0.2},
		{"negative slope uses magnitude", -0.004, 0.01, 200, 0.2, -0.2},
		{"sensitive slope", 0.0025, 0.01, 200, 0.4 * 0.7, -0.4 * 0.7},
		{"mildly sensitive slope", 0.0015, 0.01, 200, 0.4 * 0.85, -0.4 * 0.85},
		{"insensitive slope widens", 0.0001, 0.01, 200, 0.4 * 1.5, -0.4 * 1.5},
		{"weak significance", 0.0008, 0.2, 200, 0.4 * 1.8, -0.4 * 1.8},
		{"marginal significance", 0.0008, 0.08, 200, 0.4 * 1.3, -0.4 * 1.3},
		{"tiny sample", 0.0008, 0.01, 30, 0.4 * 1.5, -0.4 * 1.5},
		{"small sample", 0.0008, 0.01, 80, 0.4 * 1.2, -0.4 * 1.2},
		{"tiers compound", 0.0001, 0.2, 30, 0.4 * 1.5 * 1.8 * 1.5, -0.4 * 1.5 * 1.8 * 1.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			long, short := AdjustThresholds(0.4, -0.4, tt.slope, tt.pValue, tt.sampleSize)
			if !near(long, tt.wantLong) || !near(short, tt.wantShort) {
				t.Errorf("AdjustThresholds = (%v, %v), want (%v, %v)",
					long, short, tt.wantLong, tt.wantShort)
			}
		})
	}
}

func TestAdjustThresholdsClamped(t *testing.T) {
	// 0.6 × 1.5 × 1.8 × 1.5 = 2.43, past the 2.0 ceiling.
	long, short := AdjustThresholds(0.6, -0.6, 0.0001, 0.2, 30)
	if long != 2.0 || short != -2.0 {
		t.Errorf("wide band = (%v, %v), want (2.0, -2.0)", long, short)
	}
	// 0.15 × 0.5 = 0.075, below the 0.1 floor.
	long, short = AdjustThresholds(0.15, -0.15, 0.004, 0.01, 200)
	if long != 0.1 || short != -0.1 {
		t.Errorf("narrow band = (%v, %v), want (0.1, -0.1)", long, short)
	}
}

func TestAdjustThresholdsAlwaysInBand(t *testing.T) {
	slopes := []float64{-0.01, -0.002, 0, 0.0004, 0.0015, 0.0025, 0.01}
	pvals := []float64{0.001, 0.06, 0.2, 0.9}
	sizes := []int{5, 60, 150}
	for _, s := range slopes {
		for _, p := range pvals {
			for _, n := range sizes {
				long, short := AdjustThresholds(0.3, -0.3, s, p, n)
				if long < 0.1 || long > 2.0 {
					t.Fatalf("long %v out of [0.1, 2.0] for slope=%v p=%v n=%d", long, s, p, n)
				}
				if short < -2.0 || short > -0.1 {
					t.Fatalf("short %v out of [-2.0, -0.1] for slope=%v p=%v n=%d", short, s, p, n)
				}
			}
		}
	}
}

func TestSignalsWithoutSensitivity(t *testing.T) {
	repo := &stubRepo{surprises: []models.SurpriseRecord{
		{Symbol: "A", Month: "2024-01", ZScoreMoM: f(0.5), IndustryGroup: "steel"},
		{Symbol: "B", Month: "2024-01", ZScoreMoM: f(-0.6), IndustryGroup: "steel"},
		{Symbol: "C", Month: "2024-01", ZScoreMoM: f(0.1), IndustryGroup: "steel"},
		{Symbol: "D", Month: "2024-01", ZScoreMoM: nil, IndustryGroup: "steel"},
	}}
	e := &Engine{Repo: repo, BaseLong: 0.4, BaseShort: -0.4}

	got, err := e.Signals(context.Background(), "2024-01", VariantMoM)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	want := map[string]int{"A": 1, "B": -1, "C": 0}
	if len(got) != len(want) {
		t.Fatalf("len(signals) = %d, want %d (missing z dropped)", len(got), len(want))
	}
	for _, s := range got {
		if want[s.Symbol] != s.Direction {
			t.Errorf("%s direction = %d, want %d", s.Symbol, s.Direction, want[s.Symbol])
		}
	}
}

func TestSignalsSensitivityAdjustsAndExcludes(t *testing.T) {
	repo := &stubRepo{
		surprises: []models.SurpriseRecord{
			// steel's adjusted long = 0.4*0.5 = 0.2, so 0.3 classifies long.
			{Symbol: "A", Month: "2024-01", ZScoreMoM: f(0.3), IndustryGroup: "steel"},
			// chem is excluded on p-value despite a huge score.
			{Symbol: "B", Month: "2024-01", ZScoreMoM: f(3.0), IndustryGroup: "chem"},
			// textile is excluded on sample size.
			{Symbol: "C", Month: "2024-01", ZScoreMoM: f(3.0), IndustryGroup: "textile"},
			// no sensitivity record for food at all.
			{Symbol: "D", Month: "2024-01", ZScoreMoM: f(3.0), IndustryGroup: "food"},
		},
		sensitivities: []models.IndustrySensitivity{
			{IndustryGroup: "steel", Metric: "mom", Slope: 0.004, PValue: 0.01, SampleSize: 200},
			{IndustryGroup: "chem", Metric: "mom", Slope: 0.004, PValue: 0.2, SampleSize: 200},
			{IndustryGroup: "textile", Metric: "mom", Slope: 0.004, PValue: 0.01, SampleSize: 10},
		},
	}
	e := &Engine{
		Repo:           repo,
		BaseLong:       0.4,
		BaseShort:      -0.4,
		UseSensitivity: true,
		MinPValue:      0.1,
		MinSampleSize:  50,
	}

	got, err := e.Signals(context.Background(), "2024-01", VariantMoM)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("len(signals) = %d, want 1 (excluded industries dropped)", len(got))
	}
	s := got[0]
	if s.Symbol != "A" || s.Direction != 1 {
		t.Errorf("signal = %+v, want A long", s)
	}
	if !near(s.ThresholdLong, 0.2) || !near(s.ThresholdShort, -0.2) {
		t.Errorf("thresholds = (%v, %v), want (0.2, -0.2)", s.ThresholdLong, s.ThresholdShort)
	}
}

func TestThresholdTableMemoized(t *testing.T) {
	repo := &stubRepo{
		sensitivities: []models.IndustrySensitivity{
			{IndustryGroup: "steel", Metric: "mom", Slope: 0.001, PValue: 0.01, SampleSize: 200},
		},
	}
	e := &Engine{Repo: repo, BaseLong: 0.4, BaseShort: -0.4, UseSensitivity: true}

	ctx := context.Background()
	if _, err := e.Thresholds(ctx, VariantMoM); err != nil {
		t.Fatalf("Thresholds: %v", err)
	}
	if _, err := e.Thresholds(ctx, VariantMoM); err != nil {
		t.Fatalf("Thresholds: %v", err)
	}
	if repo.sensitivityCalls != 1 {
		t.Errorf("sensitivity table loaded %d times, want 1", repo.sensitivityCalls)
	}
}

func TestSensitivitySummary(t *testing.T) {
	repo := &stubRepo{
		sensitivities: []models.IndustrySensitivity{
			{IndustryGroup: "steel", Metric: "mom", Slope: 0.004, PValue: 0.01, SampleSize: 200},
			{IndustryGroup: "chem", Metric: "mom", Slope: 0.004, PValue: 0.2, SampleSize: 200},
			{IndustryGroup: "textile", Metric: "mom", Slope: 0.004, PValue: 0.01, SampleSize: 10},
		},
	}
	e := &Engine{
		Repo:           repo,
		BaseLong:       0.4,
		BaseShort:      -0.4,
		UseSensitivity: true,
		MinPValue:      0.1,
		MinSampleSize:  50,
	}

	got, err := e.SensitivitySummary(context.Background(), VariantMoM)
	if err != nil {
		t.Fatalf("SensitivitySummary: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(got))
	}
	// Sorted by industry: chem, steel, textile.
	excluded := map[string]bool{"chem": true, "steel": false, "textile": true}
	for _, entry := range got {
		if entry.Excluded != excluded[entry.IndustryGroup] {
			t.Errorf("%s excluded = %v, want %v",
				entry.IndustryGroup, entry.Excluded, excluded[entry.IndustryGroup])
		}
	}
	if got[0].IndustryGroup != "chem" || got[2].IndustryGroup != "textile" {
		t.Errorf("order = %v %v %v, want chem steel textile",
			got[0].IndustryGroup, got[1].IndustryGroup, got[2].IndustryGroup)
	}
	if !near(got[1].Long, 0.2) {
		t.Errorf("steel long = %v, want 0.2", got[1].Long)
	}
}

func TestSignalsEmptyMonth(t *testing.T) {
	e := &Engine{Repo: &stubRepo{}, BaseLong: 0.4, BaseShort: -0.4}
	got, err := e.Signals(context.Background(), "2030-01", VariantMoM)
	if err != nil {
		t.Fatalf("Signals: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("len(signals) = %d, want 0", len(got))
	}
}

func near(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
