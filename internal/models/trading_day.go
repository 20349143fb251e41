package models

// TradingDay is one row of the exchange calendar extracted from the intraday
// price feed. DateInt is YYYYMMDD.
type TradingDay struct {
	DateInt int `gorm:"primaryKey;autoIncrement:false"`
}

func (TradingDay) TableName() string {
	return "trading_days"
}
