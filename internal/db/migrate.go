package db

import (
	"time"

	"gorm.io/gorm"

	"investsync/internal/models"
)

// migration is one named, idempotent schema change applied in order after
// AutoMigrate. Applied names are recorded in schema_migrations so each runs
// at most once; the bodies must still tolerate re-execution on a database
// where the record was lost.
type migration struct {
	Name string
	Run  func(tx *gorm.DB) error
}

var migrations = []migration{
	{
		// Older deployments stored consensus fingerprints lowercase-hex in a
		// column named snapshot_hash. Fold it into the current column.
		Name: "2025-10-01-consensus-fingerprint-rename",
		Run: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn(&models.ConsensusSnapshot{}, "snapshot_hash") {
				return nil
			}
			if err := tx.Exec("UPDATE consensus_snapshots SET fingerprint = snapshot_hash WHERE fingerprint IS NULL OR fingerprint = ''").Error; err != nil {
				return err
			}
			return tx.Migrator().DropColumn(&models.ConsensusSnapshot{}, "snapshot_hash")
		},
	},
	{
		// Price bars originally carried a duplicate trade_session_date column.
		Name: "2025-10-01-price-bar-drop-session-date",
		Run: func(tx *gorm.DB) error {
			if !tx.Migrator().HasColumn(&models.PriceBar{}, "trade_session_date") {
				return nil
			}
			return tx.Migrator().DropColumn(&models.PriceBar{}, "trade_session_date")
		},
	},
}

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	if err := db.Gorm.AutoMigrate(
		&models.Instrument{},
		&models.ConsensusSnapshot{},
		&models.AnalystTarget{},
		&models.PriceBar{},
		&models.PotentialRecord{},
		&models.SyncState{},
		&models.RawForecastSnapshot{},
		&models.SchemaMigration{},
	); err != nil {
		return err
	}

	for _, m := range migrations {
		applied, err := migrationApplied(db.Gorm, m.Name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := db.Gorm.Transaction(func(tx *gorm.DB) error {
			if err := m.Run(tx); err != nil {
				return err
			}
			return tx.Create(&models.SchemaMigration{Name: m.Name, AppliedAt: time.Now().UTC()}).Error
		}); err != nil {
			return err
		}
	}
	return nil
}

func migrationApplied(g *gorm.DB, name string) (bool, error) {
	var count int64
	err := g.Model(&models.SchemaMigration{}).Where("name = ?", name).Count(&count).Error
	return count > 0, err
}
