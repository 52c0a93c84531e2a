package models

// AnalystTarget is one analyst firm's price recommendation. Identity is
// (uid, snapshot_date, company): re-syncing the same key with identical
// fields is a no-op, with different fields an in-place update. This differs
// from ConsensusSnapshot, which always appends a new historical row.
type AnalystTarget struct {
	ID             uint64   `gorm:"primaryKey;autoIncrement"`
	UID            string   `gorm:"type:text;uniqueIndex:uq_target_key,priority:1;index:idx_target_uid_company,priority:1;not null;comment:instrument uid"`
	Ticker         *string  `gorm:"type:text;comment:denormalized ticker"`
	Company        string   `gorm:"type:text;uniqueIndex:uq_target_key,priority:3;index:idx_target_uid_company,priority:2;not null;comment:analyst firm"`
	Recommendation *string  `gorm:"type:text;comment:recommendation label"`
	SnapshotDate   string   `gorm:"type:text;uniqueIndex:uq_target_key,priority:2;not null;comment:recommendation date from payload"`
	Currency       *string  `gorm:"type:text;comment:price currency"`
	TargetPrice    *float64 `gorm:"comment:analyst target price"`
	ShowName       *string  `gorm:"type:text;comment:firm display name"`
}

func (AnalystTarget) TableName() string {
	return "analyst_targets"
}
