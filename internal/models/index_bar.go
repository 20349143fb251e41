package models

// IndexBar is one daily bar of the benchmark index.
type IndexBar struct {
	DateInt int     `gorm:"primaryKey;autoIncrement:false"`
	Open    float64 `gorm:"not null"`
	High    float64 `gorm:"not null"`
	Low     float64 `gorm:"not null"`
	Close   float64 `gorm:"not null"`
}

func (IndexBar) TableName() string {
	return "index_bars"
}
