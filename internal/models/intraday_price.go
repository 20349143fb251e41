package models

// IntradayPrice is one cell of a (field, time slot) price table: the price of
// a symbol during a 10-minute session slot. Field is "close" or "open";
// TimeSlot is "HHMM_HHMM". A missing cell simply has no row.
type IntradayPrice struct {
	ID       uint64  `gorm:"primaryKey;autoIncrement"`
	Field    string  `gorm:"type:varchar(10);not null;uniqueIndex:ux_intraday,priority:1"`
	TimeSlot string  `gorm:"type:varchar(10);not null;uniqueIndex:ux_intraday,priority:2"`
	DateInt  int     `gorm:"not null;uniqueIndex:ux_intraday,priority:3"`
	Symbol   string  `gorm:"type:varchar(20);not null;uniqueIndex:ux_intraday,priority:4"`
	Price    float64 `gorm:"not null"`
}

func (IntradayPrice) TableName() string {
	return "intraday_prices"
}
