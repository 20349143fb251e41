package repository

import (
	"context"

	"exportalpha/internal/models"
)

// MarketData is the read side of the reference dataset: the trading-day
// calendar, the price tables, the benchmark index, and the export-surprise
// dataset. Whole tables are fetched at once; memoization is the caller's
// concern (marketdata.Cache).
type MarketData interface {
	// ListTradingDays returns the calendar ascending by date.
	ListTradingDays(ctx context.Context) ([]models.TradingDay, error)

	// ListIntradayPrices returns every cell of one (field, slot) table.
	ListIntradayPrices(ctx context.Context, field, timeSlot string) ([]models.IntradayPrice, error)

	// ListDailyPrices returns every cell of one daily field table.
	ListDailyPrices(ctx context.Context, field string) ([]models.DailyPrice, error)

	ListIndexBars(ctx context.Context) ([]models.IndexBar, error)
	ListExportValues(ctx context.Context) ([]models.ExportValue, error)

	// ListSurpriseByMonth returns the full universe's surprise rows for one
	// "YYYY-MM" month.
	ListSurpriseByMonth(ctx context.Context, month string) ([]models.SurpriseRecord, error)

	// ListSymbols returns the distinct instrument universe of the surprise
	// dataset.
	ListSymbols(ctx context.Context) ([]string, error)

	ListIndustrySensitivities(ctx context.Context, metric string) ([]models.IndustrySensitivity, error)

	// CountRows reports per-table row counts for the data-health cron job.
	CountRows(ctx context.Context) (map[string]int64, error)
}
