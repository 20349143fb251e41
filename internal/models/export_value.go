package models

// ExportValue is the raw monthly trade-export figure for a symbol.
// Month is "YYYY-MM".
type ExportValue struct {
	ID     uint64  `gorm:"primaryKey;autoIncrement"`
	Symbol string  `gorm:"type:varchar(20);not null;uniqueIndex:ux_export,priority:1"`
	Month  string  `gorm:"type:varchar(7);not null;uniqueIndex:ux_export,priority:2"`
	Value  float64 `gorm:"not null"`
}

func (ExportValue) TableName() string {
	return "export_values"
}
