package gormrepository

import (
	"context"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"investsync/internal/models"
	"investsync/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- instruments -------------------------------------------------------------

func (s *Store) UpsertInstrument(ctx context.Context, item *models.Instrument) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	if strings.TrimSpace(item.UID) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uid"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ticker",
			"name",
			"sec_id",
			"isin",
			"figi",
			"class_code",
			"instrument_type",
			"asset_uid",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetInstrument(ctx context.Context, uid string) (*models.Instrument, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Instrument
	err := s.db.WithContext(ctx).Model(&models.Instrument{}).Where("uid = ?", uid).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Instrument
	if err := s.db.WithContext(ctx).
		Model(&models.Instrument{}).
		Order("ticker asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListInstrumentsMissingForecasts(ctx context.Context) ([]models.Instrument, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Instrument
	err := s.db.WithContext(ctx).
		Model(&models.Instrument{}).
		Where("uid NOT IN (?)",
			s.db.Model(&models.ConsensusSnapshot{}).Distinct("uid")).
		Order("ticker asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeleteInstrumentCascade(ctx context.Context, uid string) error {
	if s == nil || s.db == nil {
		return nil
	}
	if strings.TrimSpace(uid) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("uid = ?", uid).Delete(&models.ConsensusSnapshot{}).Error; err != nil {
			return err
		}
		if err := tx.Where("uid = ?", uid).Delete(&models.AnalystTarget{}).Error; err != nil {
			return err
		}
		if err := tx.Where("uid = ?", uid).Delete(&models.PotentialRecord{}).Error; err != nil {
			return err
		}
		if err := tx.Where("uid = ?", uid).Delete(&models.RawForecastSnapshot{}).Error; err != nil {
			return err
		}
		return tx.Where("uid = ?", uid).Delete(&models.Instrument{}).Error
	})
}

// --- consensus snapshots -----------------------------------------------------

func (s *Store) LatestConsensus(ctx context.Context, uid string) (*models.ConsensusSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ConsensusSnapshot
	err := s.db.WithContext(ctx).
		Model(&models.ConsensusSnapshot{}).
		Where("uid = ?", uid).
		Order("snapshot_date desc, id desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// InsertConsensus inserts a snapshot unless one already exists for the same
// (uid, snapshot_date). Returns whether a row was written; on false the
// caller resolves the same-day conflict with read-compare-update.
func (s *Store) InsertConsensus(ctx context.Context, item *models.ConsensusSnapshot) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}, {Name: "snapshot_date"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetConsensusByDate(ctx context.Context, uid, date string) (*models.ConsensusSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ConsensusSnapshot
	err := s.db.WithContext(ctx).
		Model(&models.ConsensusSnapshot{}).
		Where("uid = ? AND snapshot_date = ?", uid, date).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpdateConsensusByDate(ctx context.Context, item *models.ConsensusSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.ConsensusSnapshot{}).
		Where("uid = ? AND snapshot_date = ?", item.UID, item.SnapshotDate).
		Updates(map[string]interface{}{
			"ticker":          item.Ticker,
			"recommendation":  item.Recommendation,
			"currency":        item.Currency,
			"consensus_price": item.ConsensusPrice,
			"min_target":      item.MinTarget,
			"max_target":      item.MaxTarget,
			"fingerprint":     item.Fingerprint,
		}).Error
}

func (s *Store) ListConsensusUIDs(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var uids []string
	err := s.db.WithContext(ctx).
		Model(&models.ConsensusSnapshot{}).
		Distinct("uid").
		Order("uid asc").
		Pluck("uid", &uids).Error
	if err != nil {
		return nil, err
	}
	return uids, nil
}

func (s *Store) ListConsensusKeys(ctx context.Context, uid string) ([]repository.RecordKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var keys []repository.RecordKey
	err := s.db.WithContext(ctx).
		Model(&models.ConsensusSnapshot{}).
		Select("id", "snapshot_date AS date").
		Where("uid = ?", uid).
		Order("snapshot_date desc, id desc").
		Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteConsensusByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ConsensusSnapshot{})
	return res.RowsAffected, res.Error
}

// --- analyst targets ---------------------------------------------------------

func (s *Store) GetTarget(ctx context.Context, uid, date, company string) (*models.AnalystTarget, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.AnalystTarget
	err := s.db.WithContext(ctx).
		Model(&models.AnalystTarget{}).
		Where("uid = ? AND snapshot_date = ? AND company = ?", uid, date, company).
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) InsertTarget(ctx context.Context, item *models.AnalystTarget) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "uid"}, {Name: "snapshot_date"}, {Name: "company"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) UpdateTarget(ctx context.Context, item *models.AnalystTarget) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.AnalystTarget{}).
		Where("uid = ? AND snapshot_date = ? AND company = ?", item.UID, item.SnapshotDate, item.Company).
		Updates(map[string]interface{}{
			"ticker":         item.Ticker,
			"recommendation": item.Recommendation,
			"currency":       item.Currency,
			"target_price":   item.TargetPrice,
			"show_name":      item.ShowName,
		}).Error
}

func (s *Store) ListTargetGroups(ctx context.Context) ([]repository.TargetGroup, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var groups []repository.TargetGroup
	err := s.db.WithContext(ctx).
		Model(&models.AnalystTarget{}).
		Distinct("uid", "company").
		Order("uid asc").
		Scan(&groups).Error
	if err != nil {
		return nil, err
	}
	return groups, nil
}

func (s *Store) ListTargetKeys(ctx context.Context, uid, company string) ([]repository.RecordKey, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var keys []repository.RecordKey
	err := s.db.WithContext(ctx).
		Model(&models.AnalystTarget{}).
		Select("id", "snapshot_date AS date").
		Where("uid = ? AND company = ?", uid, company).
		Order("snapshot_date desc, id desc").
		Scan(&keys).Error
	if err != nil {
		return nil, err
	}
	return keys, nil
}

func (s *Store) DeleteTargetsByIDs(ctx context.Context, ids []uint64) (int64, error) {
	if s == nil || s.db == nil || len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.AnalystTarget{})
	return res.RowsAffected, res.Error
}

// --- price bars --------------------------------------------------------------

func (s *Store) InsertPriceBarIfAbsent(ctx context.Context, item *models.PriceBar) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "board_id"}, {Name: "sec_id"}, {Name: "trade_date"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) LatestTradeDate(ctx context.Context, board, secid string) (string, error) {
	if s == nil || s.db == nil {
		return "", nil
	}
	var item models.PriceBar
	err := s.db.WithContext(ctx).
		Model(&models.PriceBar{}).
		Where("board_id = ? AND sec_id = ?", board, secid).
		Order("trade_date desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return item.TradeDate, nil
}

func (s *Store) LatestCloseBySecID(ctx context.Context, secid string) (*repository.ClosePoint, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.PriceBar
	err := s.db.WithContext(ctx).
		Model(&models.PriceBar{}).
		Where("sec_id = ?", secid).
		Where("close IS NOT NULL").
		Order("trade_date desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if item.Close == nil {
		return nil, nil
	}
	return &repository.ClosePoint{Close: *item.Close, TradeDate: item.TradeDate}, nil
}

func (s *Store) CountPriceBars(ctx context.Context, board, secid string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.PriceBar{}).
		Where("board_id = ? AND sec_id = ?", board, secid).
		Count(&count).Error
	return count, err
}

func (s *Store) DeletePriceBarsBefore(ctx context.Context, board, secid, cutoff string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if strings.TrimSpace(cutoff) == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("board_id = ? AND sec_id = ?", board, secid).
		Where("trade_date < ?", cutoff).
		Delete(&models.PriceBar{})
	return res.RowsAffected, res.Error
}

// --- potentials --------------------------------------------------------------

func (s *Store) LatestPotential(ctx context.Context, uid string) (*models.PotentialRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.PotentialRecord
	err := s.db.WithContext(ctx).
		Model(&models.PotentialRecord{}).
		Where("uid = ?", uid).
		Order("computed_date desc").
		First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertPotential(ctx context.Context, item *models.PotentialRecord) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "uid"}, {Name: "computed_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"ticker",
			"prev_close",
			"consensus_price",
			"potential_rel",
			"is_stale",
		}),
	}).Create(item).Error
}

func (s *Store) ListTopPotentials(ctx context.Context, limit int, maxAgeDate string) ([]models.PotentialRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := s.db.WithContext(ctx).
		Model(&models.PotentialRecord{}).
		Where("potential_rel IS NOT NULL")
	if strings.TrimSpace(maxAgeDate) != "" {
		query = query.Where("computed_date >= ?", maxAgeDate)
	}
	var items []models.PotentialRecord
	err := query.Order("potential_rel desc").Limit(limit).Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) DeletePotentialsBefore(ctx context.Context, cutoffDate string) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if strings.TrimSpace(cutoffDate) == "" {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("computed_date < ?", cutoffDate).
		Delete(&models.PotentialRecord{})
	return res.RowsAffected, res.Error
}

// --- sync bookkeeping --------------------------------------------------------

func (s *Store) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SyncState
	err := s.db.WithContext(ctx).Model(&models.SyncState{}).Where("scope = ?", scope).First(&item).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	if strings.TrimSpace(state.Scope) == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"cursor",
			"last_success_at",
			"last_attempt_at",
			"last_error",
			"stats_json",
		}),
	}).Create(state).Error
}

func (s *Store) InsertRawForecastSnapshot(ctx context.Context, item *models.RawForecastSnapshot) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

// --- export reads ------------------------------------------------------------

func (s *Store) ListAllConsensus(ctx context.Context) ([]models.ConsensusSnapshot, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.ConsensusSnapshot
	err := s.db.WithContext(ctx).
		Model(&models.ConsensusSnapshot{}).
		Order("uid asc, snapshot_date asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListAllTargets(ctx context.Context) ([]models.AnalystTarget, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.AnalystTarget
	err := s.db.WithContext(ctx).
		Model(&models.AnalystTarget{}).
		Order("uid asc, snapshot_date asc, company asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// ListLatestPotentials returns the most recent potential row per uid.
func (s *Store) ListLatestPotentials(ctx context.Context) ([]models.PotentialRecord, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	sub := s.db.
		Model(&models.PotentialRecord{}).
		Select("uid", "MAX(computed_date) AS computed_date").
		Group("uid")
	var items []models.PotentialRecord
	err := s.db.WithContext(ctx).
		Model(&models.PotentialRecord{}).
		Joins("JOIN (?) latest ON latest.uid = potential_records.uid AND latest.computed_date = potential_records.computed_date", sub).
		Order("potential_rel desc NULLS LAST").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
