package models

import (
	"time"

	"gorm.io/datatypes"
)

// RawForecastSnapshot keeps the untouched broker payload for one forecast
// fetch, for replay and payload-shape debugging. Internal code never reads
// these back during a sync; normalization happens once at the client
// boundary.
type RawForecastSnapshot struct {
	ID         uint64         `gorm:"primaryKey;autoIncrement"`
	UID        string         `gorm:"type:text;index;not null;comment:instrument uid"`
	FetchedAt  time.Time      `gorm:"type:timestamptz;index;not null;comment:fetch time"`
	StatusCode int            `gorm:"not null;comment:upstream HTTP status"`
	Payload    datatypes.JSON `gorm:"type:jsonb;comment:raw response body"`
}

func (RawForecastSnapshot) TableName() string {
	return "raw_forecast_snapshots"
}
