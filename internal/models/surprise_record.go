package models

// SurpriseRecord holds a symbol's export growth deltas and their rolling
// z-scores for one month. Z-score columns are nullable: a symbol without
// enough rolling history has no score for that variant.
type SurpriseRecord struct {
	ID     uint64 `gorm:"primaryKey;autoIncrement"`
	Symbol string `gorm:"type:varchar(20);not null;uniqueIndex:ux_surprise,priority:1"`
	Month  string `gorm:"type:varchar(7);not null;uniqueIndex:ux_surprise,priority:2;index"`

	ExportValue float64 `gorm:"not null"`
	MoM         *float64
	YoY         *float64
	QoQ         *float64
	ZScoreMoM   *float64 `gorm:"column:zscore_mom"`
	ZScoreYoY   *float64 `gorm:"column:zscore_yoy"`
	ZScoreQoQ   *float64 `gorm:"column:zscore_qoq"`

	IndustryGroup string `gorm:"type:varchar(20);index"`
}

func (SurpriseRecord) TableName() string {
	return "surprise_records"
}
