package models

// PotentialRecord is the derived valuation metric: how far the latest
// consensus price sits from the latest close. At most one row exists per
// instrument per day; a retry within the same day overwrites. Potential is
// nil unless both inputs are present and the close is strictly positive.
type PotentialRecord struct {
	UID            string   `gorm:"primaryKey;type:text;comment:instrument uid"`
	ComputedDate   string   `gorm:"primaryKey;type:text;comment:computation date YYYY-MM-DD"`
	Ticker         string   `gorm:"type:text;comment:denormalized ticker"`
	PrevClose      *float64 `gorm:"comment:latest close price"`
	ConsensusPrice *float64 `gorm:"comment:latest consensus price"`
	PotentialRel   *float64 `gorm:"index;comment:(consensus-close)/close"`
	IsStale        bool     `gorm:"not null;default:false;comment:consensus older than staleness threshold"`
}

func (PotentialRecord) TableName() string {
	return "potential_records"
}
