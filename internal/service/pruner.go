package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"investsync/internal/config"
	"investsync/internal/models"
	"investsync/internal/repository"
)

type PrunerService struct {
	Store  repository.Repository
	Logger *zap.Logger
	Config config.RetentionConfig
}

// PruneResult aggregates the counters of one retention pass.
type PruneResult struct {
	ConsensusDeleted int `json:"consensus_deleted"`
	TargetsDeleted   int `json:"targets_deleted"`
	Groups           int `json:"groups"`
	Errors           int `json:"errors"`
}

// isOlder reports whether date falls strictly before cutoff. Stored dates come
// in two shapes, a bare day or a 'Z'-suffixed timestamp, and both are compared
// by their day part. Rows exactly at the cutoff survive, and rows whose date
// does not parse are never aged out.
func isOlder(date string, cutoff time.Time) bool {
	day := date
	if len(day) > 10 {
		day = day[:10]
	}
	parsed, err := time.Parse("2006-01-02", day)
	if err != nil {
		return false
	}
	return parsed.Before(cutoff)
}

// keysToDrop applies both retention rules to one ordered key list (most
// recent first): everything past the count cap goes, and independently
// everything aged past the cutoff goes even inside the cap.
func keysToDrop(keys []repository.RecordKey, maxCount int, cutoff *time.Time) []uint64 {
	var drop []uint64
	for i, key := range keys {
		if maxCount > 0 && i >= maxCount {
			drop = append(drop, key.ID)
			continue
		}
		if cutoff != nil && isOlder(key.Date, *cutoff) {
			drop = append(drop, key.ID)
		}
	}
	return drop
}

// PruneHistory enforces the retention policy over consensus snapshots and
// analyst targets: a per-group count cap keeps the most recent rows, and an
// age cap removes rows older than the window regardless of count. Either
// rule disables at a non-positive setting.
func (s *PrunerService) PruneHistory(ctx context.Context) (PruneResult, error) {
	var result PruneResult
	if s == nil || s.Store == nil {
		return result, nil
	}
	var cutoff *time.Time
	if s.Config.MaxHistoryDays > 0 {
		c := time.Now().UTC().AddDate(0, 0, -s.Config.MaxHistoryDays).Truncate(24 * time.Hour)
		cutoff = &c
	}

	uids, err := s.Store.ListConsensusUIDs(ctx)
	if err != nil {
		return result, err
	}
	for _, uid := range uids {
		if ctx.Err() != nil {
			break
		}
		keys, err := s.Store.ListConsensusKeys(ctx, uid)
		if err != nil {
			result.Errors++
			continue
		}
		drop := keysToDrop(keys, s.Config.MaxConsensusPerUID, cutoff)
		if len(drop) == 0 {
			continue
		}
		deleted, err := s.Store.DeleteConsensusByIDs(ctx, drop)
		if err != nil {
			result.Errors++
			continue
		}
		result.ConsensusDeleted += int(deleted)
	}

	groups, err := s.Store.ListTargetGroups(ctx)
	if err != nil {
		return result, err
	}
	result.Groups = len(groups)
	for _, group := range groups {
		if ctx.Err() != nil {
			break
		}
		keys, err := s.Store.ListTargetKeys(ctx, group.UID, group.Company)
		if err != nil {
			result.Errors++
			continue
		}
		drop := keysToDrop(keys, s.Config.MaxTargetsPerAnalyst, cutoff)
		if len(drop) == 0 {
			continue
		}
		deleted, err := s.Store.DeleteTargetsByIDs(ctx, drop)
		if err != nil {
			result.Errors++
			continue
		}
		result.TargetsDeleted += int(deleted)
	}

	s.saveState(ctx, result)
	if s.Logger != nil && (result.ConsensusDeleted > 0 || result.TargetsDeleted > 0) {
		s.Logger.Info("retention prune finished",
			zap.Int("consensus_deleted", result.ConsensusDeleted),
			zap.Int("targets_deleted", result.TargetsDeleted))
	}
	return result, nil
}

func (s *PrunerService) saveState(ctx context.Context, result PruneResult) {
	if s.Store == nil {
		return
	}
	now := time.Now().UTC()
	state := &models.SyncState{
		Scope:         "prune",
		LastAttemptAt: &now,
	}
	if result.Errors == 0 {
		state.LastSuccessAt = &now
	}
	if stats, err := json.Marshal(result); err == nil {
		state.StatsJSON = datatypes.JSON(stats)
	}
	if err := s.Store.SaveSyncState(ctx, state); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to save prune state", zap.Error(err))
	}
}
