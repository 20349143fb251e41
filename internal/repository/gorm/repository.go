package gormrepository

import (
	"context"

	"gorm.io/gorm"

	"exportalpha/internal/models"
	"exportalpha/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.MarketData = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) ListTradingDays(ctx context.Context) ([]models.TradingDay, error) {
	var out []models.TradingDay
	err := s.db.WithContext(ctx).
		Order("date_int asc").
		Find(&out).Error
	return out, err
}

func (s *Store) ListIntradayPrices(ctx context.Context, field, timeSlot string) ([]models.IntradayPrice, error) {
	var out []models.IntradayPrice
	err := s.db.WithContext(ctx).
		Where("field = ? AND time_slot = ?", field, timeSlot).
		Find(&out).Error
	return out, err
}

func (s *Store) ListDailyPrices(ctx context.Context, field string) ([]models.DailyPrice, error) {
	var out []models.DailyPrice
	err := s.db.WithContext(ctx).
		Where("field = ?", field).
		Find(&out).Error
	return out, err
}

func (s *Store) ListIndexBars(ctx context.Context) ([]models.IndexBar, error) {
	var out []models.IndexBar
	err := s.db.WithContext(ctx).
		Order("date_int asc").
		Find(&out).Error
	return out, err
}

func (s *Store) ListExportValues(ctx context.Context) ([]models.ExportValue, error) {
	var out []models.ExportValue
	err := s.db.WithContext(ctx).Find(&out).Error
	return out, err
}

func (s *Store) ListSurpriseByMonth(ctx context.Context, month string) ([]models.SurpriseRecord, error) {
	var out []models.SurpriseRecord
	err := s.db.WithContext(ctx).
		Where("month = ?", month).
		Find(&out).Error
	return out, err
}

func (s *Store) ListSymbols(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).
		Model(&models.SurpriseRecord{}).
		Distinct("symbol").
		Order("symbol asc").
		Pluck("symbol", &out).Error
	return out, err
}

func (s *Store) ListIndustrySensitivities(ctx context.Context, metric string) ([]models.IndustrySensitivity, error) {
	var out []models.IndustrySensitivity
	err := s.db.WithContext(ctx).
		Where("metric = ?", metric).
		Find(&out).Error
	return out, err
}

func (s *Store) CountRows(ctx context.Context) (map[string]int64, error) {
	tables := map[string]any{
		"trading_days":           &models.TradingDay{},
		"intraday_prices":        &models.IntradayPrice{},
		"daily_prices":           &models.DailyPrice{},
		"index_bars":             &models.IndexBar{},
		"export_values":          &models.ExportValue{},
		"surprise_records":       &models.SurpriseRecord{},
		"industry_sensitivities": &models.IndustrySensitivity{},
	}
	out := make(map[string]int64, len(tables))
	for name, model := range tables {
		var n int64
		if err := s.db.WithContext(ctx).Model(model).Count(&n).Error; err != nil {
			return nil, err
		}
		out[name] = n
	}
	return out, nil
}
