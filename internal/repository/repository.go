package repository

import (
	"context"

	"gorm.io/gorm"

	"investsync/internal/models"
)

// RecordKey is the (id, date) pair the pruner reasons about: count caps keep
// the most recent rows by date with id as the tiebreak, age caps parse the
// date in Go so unparseable dates are never deleted.
type RecordKey struct {
	ID   uint64
	Date string
}

// TargetGroup identifies one (uid, company) retention bucket.
type TargetGroup struct {
	UID     string
	Company string
}

// ClosePoint is the latest close price of a security and its trade date.
type ClosePoint struct {
	Close     float64
	TradeDate string
}

// Repository is the single storage authority for the sync engine. Writes for
// one entity key never interleave across callers: the orchestrator runs
// stages sequentially and the concurrent forecast refresh assigns each uid
// to exactly one worker.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Instruments.
	UpsertInstrument(ctx context.Context, item *models.Instrument) error
	GetInstrument(ctx context.Context, uid string) (*models.Instrument, error)
	ListInstruments(ctx context.Context) ([]models.Instrument, error)
	ListInstrumentsMissingForecasts(ctx context.Context) ([]models.Instrument, error)
	DeleteInstrumentCascade(ctx context.Context, uid string) error

	// Consensus snapshots (append-on-change protocol; insert is
	// conflict-free on (uid, snapshot_date) and reports whether a row was
	// actually written so the caller can fall back to read-compare-update).
	LatestConsensus(ctx context.Context, uid string) (*models.ConsensusSnapshot, error)
	InsertConsensus(ctx context.Context, item *models.ConsensusSnapshot) (bool, error)
	GetConsensusByDate(ctx context.Context, uid, date string) (*models.ConsensusSnapshot, error)
	UpdateConsensusByDate(ctx context.Context, item *models.ConsensusSnapshot) error
	ListConsensusUIDs(ctx context.Context) ([]string, error)
	ListConsensusKeys(ctx context.Context, uid string) ([]RecordKey, error)
	DeleteConsensusByIDs(ctx context.Context, ids []uint64) (int64, error)

	// Analyst targets (upsert-on-key protocol).
	GetTarget(ctx context.Context, uid, date, company string) (*models.AnalystTarget, error)
	InsertTarget(ctx context.Context, item *models.AnalystTarget) (bool, error)
	UpdateTarget(ctx context.Context, item *models.AnalystTarget) error
	ListTargetGroups(ctx context.Context) ([]TargetGroup, error)
	ListTargetKeys(ctx context.Context, uid, company string) ([]RecordKey, error)
	DeleteTargetsByIDs(ctx context.Context, ids []uint64) (int64, error)

	// Price bars (insert-if-absent only; bars are immutable).
	InsertPriceBarIfAbsent(ctx context.Context, item *models.PriceBar) (bool, error)
	LatestTradeDate(ctx context.Context, board, secid string) (string, error)
	LatestCloseBySecID(ctx context.Context, secid string) (*ClosePoint, error)
	CountPriceBars(ctx context.Context, board, secid string) (int64, error)
	DeletePriceBarsBefore(ctx context.Context, board, secid, cutoff string) (int64, error)

	// Potentials (at most one row per uid and day; same-day retry overwrites).
	LatestPotential(ctx context.Context, uid string) (*models.PotentialRecord, error)
	UpsertPotential(ctx context.Context, item *models.PotentialRecord) error
	ListTopPotentials(ctx context.Context, limit int, maxAgeDate string) ([]models.PotentialRecord, error)
	DeletePotentialsBefore(ctx context.Context, cutoffDate string) (int64, error)

	// Sync bookkeeping.
	GetSyncState(ctx context.Context, scope string) (*models.SyncState, error)
	SaveSyncState(ctx context.Context, state *models.SyncState) error
	InsertRawForecastSnapshot(ctx context.Context, item *models.RawForecastSnapshot) error

	// Export reads.
	ListAllConsensus(ctx context.Context) ([]models.ConsensusSnapshot, error)
	ListAllTargets(ctx context.Context) ([]models.AnalystTarget, error)
	ListLatestPotentials(ctx context.Context) ([]models.PotentialRecord, error)
}
