package models

// IndustrySensitivity is the regression of an industry group's export
// surprise metric against its constituents' forward returns. One row per
// (industry, metric) where Metric is the z-score variant ("mom"/"yoy"/"qoq").
type IndustrySensitivity struct {
	ID            uint64 `gorm:"primaryKey;autoIncrement"`
	IndustryGroup string `gorm:"type:varchar(20);not null;uniqueIndex:ux_sensitivity,priority:1"`
	Metric        string `gorm:"type:varchar(10);not null;uniqueIndex:ux_sensitivity,priority:2"`

	Slope      float64 `gorm:"not null"`
	PValue     float64 `gorm:"column:p_value;not null"`
	SampleSize int     `gorm:"not null"`
	R          float64 `gorm:"not null"`
}

func (IndustrySensitivity) TableName() string {
	return "industry_sensitivities"
}
