package models

import "time"

// SchemaMigration records which named migrations have been applied.
type SchemaMigration struct {
	Name      string    `gorm:"primaryKey;type:text;comment:migration name"`
	AppliedAt time.Time `gorm:"type:timestamptz;not null;comment:apply time"`
}

func (SchemaMigration) TableName() string {
	return "schema_migrations"
}
