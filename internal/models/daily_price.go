package models

type DailyPrice struct {
	ID      uint64  `gorm:"primaryKey;autoIncrement"`
	Field   string  `gorm:"type:varchar(10);not null;uniqueIndex:ux_daily,priority:1"`
	DateInt int     `gorm:"not null;uniqueIndex:ux_daily,priority:2"`
	Symbol  string  `gorm:"type:varchar(20);not null;uniqueIndex:ux_daily,priority:3"`
	Price   float64 `gorm:"not null"`
}

func (DailyPrice) TableName() string {
	return "daily_prices"
}
