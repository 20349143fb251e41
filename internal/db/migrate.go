package db

import (
	"exportalpha/internal/models"
)

// AutoMigrate creates the market-data and strategy tables. The ingest
// pipeline that fills them lives outside this service.
func (d *DB) AutoMigrate() error {
	if d == nil || d.Gorm == nil {
		return nil
	}
	return d.Gorm.AutoMigrate(
		&models.TradingDay{},
		&models.IntradayPrice{},
		&models.DailyPrice{},
		&models.IndexBar{},
		&models.ExportValue{},
		&models.SurpriseRecord{},
		&models.IndustrySensitivity{},
	)
}
