package models

import (
	"time"

	"gorm.io/datatypes"
)

// SyncState tracks per-scope sync progress and outcome (scopes: forecasts,
// prices, potentials, prune). StatsJSON carries the last run's counters.
type SyncState struct {
	Scope         string         `gorm:"primaryKey;type:text;comment:sync scope identifier"`
	Cursor        *string        `gorm:"type:text;comment:resume cursor"`
	LastSuccessAt *time.Time     `gorm:"type:timestamptz;comment:last successful run"`
	LastAttemptAt *time.Time     `gorm:"type:timestamptz;comment:last attempted run"`
	LastError     *string        `gorm:"type:text;comment:last error message"`
	StatsJSON     datatypes.JSON `gorm:"type:jsonb;comment:last run counters"`
}

func (SyncState) TableName() string {
	return "sync_state"
}
