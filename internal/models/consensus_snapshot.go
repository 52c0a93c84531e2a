package models

// ConsensusSnapshot is one historical version of the aggregated analyst
// consensus for an instrument. Snapshots are append-only: a new row is
// written only when the business fields differ from the latest stored row
// for the uid. SnapshotDate is a bare YYYY-MM-DD processing date; the
// (uid, snapshot_date) unique index backs the same-day overwrite fallback.
type ConsensusSnapshot struct {
	ID             uint64   `gorm:"primaryKey;autoIncrement"`
	UID            string   `gorm:"type:text;index:idx_consensus_uid_date,priority:1;uniqueIndex:uq_consensus_uid_date,priority:1;not null;comment:instrument uid"`
	Ticker         string   `gorm:"type:text;comment:denormalized ticker"`
	Recommendation *string  `gorm:"type:text;comment:consensus recommendation label"`
	SnapshotDate   string   `gorm:"type:text;index:idx_consensus_uid_date,priority:2;uniqueIndex:uq_consensus_uid_date,priority:2;not null;comment:processing date YYYY-MM-DD"`
	Currency       *string  `gorm:"type:text;comment:price currency"`
	ConsensusPrice *float64 `gorm:"comment:aggregated target price"`
	MinTarget      *float64 `gorm:"comment:lowest analyst target"`
	MaxTarget      *float64 `gorm:"comment:highest analyst target"`
	Fingerprint    string   `gorm:"type:text;index;comment:content hash over canonical fields"`
}

func (ConsensusSnapshot) TableName() string {
	return "consensus_snapshots"
}
