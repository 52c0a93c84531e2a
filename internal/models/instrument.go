package models

import "time"

// Instrument is one tracked security. uid is the broker-side stable identity;
// secid is the exchange security code used by the ISS history API (for shares
// it equals the ticker). Instruments are never deleted automatically; an
// explicit delete cascades over the dependent history tables.
type Instrument struct {
	UID            string    `gorm:"primaryKey;type:text;comment:broker stable instrument id"`
	Ticker         string    `gorm:"type:text;index;not null;comment:exchange ticker"`
	Name           *string   `gorm:"type:text;comment:display name"`
	SecID          *string   `gorm:"type:text;index;comment:exchange security code"`
	ISIN           *string   `gorm:"type:text;comment:ISIN"`
	FIGI           *string   `gorm:"type:text;comment:FIGI"`
	ClassCode      *string   `gorm:"type:text;comment:exchange class code"`
	InstrumentType *string   `gorm:"type:text;comment:instrument type"`
	AssetUID       *string   `gorm:"type:text;comment:broker asset id"`
	AddedAt        time.Time `gorm:"type:timestamptz;not null;comment:first seen"`
	UpdatedAt      time.Time `gorm:"type:timestamptz;not null;comment:last attribute refresh"`
}

func (Instrument) TableName() string {
	return "instruments"
}
