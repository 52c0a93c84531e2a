package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"investsync/internal/config"
	"investsync/internal/models"
	"investsync/internal/normalize"
	"investsync/internal/repository"
)

// valueTolerance bounds the dedup-by-value compare for potential rows. Far
// tighter than priceTolerance: a recomputation from identical inputs must
// reproduce bit-for-bit-close values.
const valueTolerance = 1e-9

type PotentialService struct {
	Store  repository.Repository
	Logger *zap.Logger
	Config config.PotentialConfig
}

// PotentialResult aggregates the counters of one potential computation run.
type PotentialResult struct {
	Instruments   int `json:"instruments"`
	Computed      int `json:"computed"`
	NullPotential int `json:"null_potential"`
	Stale         int `json:"stale"`
	Unchanged     int `json:"unchanged"`
	Errors        int `json:"errors"`
	Pruned        int `json:"pruned"`
}

// buildPotential derives one potential record from the latest consensus and
// close. The ratio is computed only when both inputs exist and the close is
// strictly positive; prices beyond the sanity cap are discarded as corrupt.
func buildPotential(inst models.Instrument, consensus *models.ConsensusSnapshot, close *repository.ClosePoint, today time.Time, staleDays int, maxPrice float64) *models.PotentialRecord {
	record := &models.PotentialRecord{
		UID:          inst.UID,
		ComputedDate: today.Format("2006-01-02"),
		Ticker:       inst.Ticker,
	}
	if maxPrice <= 0 {
		maxPrice = 1e6
	}
	if close != nil && close.Close > 0 && close.Close <= maxPrice {
		v := close.Close
		record.PrevClose = &v
	}
	if consensus != nil {
		if consensus.Ticker != "" {
			record.Ticker = consensus.Ticker
		}
		if consensus.ConsensusPrice != nil && *consensus.ConsensusPrice > 0 && *consensus.ConsensusPrice <= maxPrice {
			v := *consensus.ConsensusPrice
			record.ConsensusPrice = &v
		}
		if staleDays > 0 {
			if snapDate, err := time.Parse("2006-01-02", consensus.SnapshotDate); err == nil {
				if today.Sub(snapDate) > time.Duration(staleDays)*24*time.Hour {
					record.IsStale = true
				}
			}
		}
	}
	if record.PrevClose != nil && record.ConsensusPrice != nil {
		potential := (*record.ConsensusPrice - *record.PrevClose) / *record.PrevClose
		record.PotentialRel = &potential
	}
	return record
}

// samePotentialValues reports whether two records carry the same derived
// values, ignoring the computation date.
func samePotentialValues(a, b *models.PotentialRecord) bool {
	if a == nil || b == nil {
		return a == b
	}
	return normalize.FloatEqual(a.PrevClose, b.PrevClose, valueTolerance) &&
		normalize.FloatEqual(a.ConsensusPrice, b.ConsensusPrice, valueTolerance) &&
		normalize.FloatEqual(a.PotentialRel, b.PotentialRel, valueTolerance) &&
		a.IsStale == b.IsStale
}

// ComputeAll recomputes the potential for every tracked instrument. A record
// whose values match the latest stored one is not re-appended under a new
// date; a rerun within the same day overwrites that day's row.
func (s *PotentialService) ComputeAll(ctx context.Context) (PotentialResult, error) {
	var result PotentialResult
	if s == nil || s.Store == nil {
		return result, nil
	}
	instruments, err := s.Store.ListInstruments(ctx)
	if err != nil {
		return result, err
	}
	today := time.Now().UTC()
	for _, inst := range instruments {
		if ctx.Err() != nil {
			break
		}
		result.Instruments++
		if err := s.computeOne(ctx, inst, today, &result); err != nil {
			result.Errors++
			if s.Logger != nil {
				s.Logger.Warn("potential computation failed for instrument",
					zap.String("uid", inst.UID),
					zap.Error(err))
			}
		}
	}
	if s.Config.RetentionDays > 0 {
		cutoff := today.AddDate(0, 0, -s.Config.RetentionDays).Format("2006-01-02")
		pruned, err := s.Store.DeletePotentialsBefore(ctx, cutoff)
		if err != nil {
			result.Errors++
		}
		result.Pruned += int(pruned)
	}
	s.saveState(ctx, result)
	return result, nil
}

func (s *PotentialService) computeOne(ctx context.Context, inst models.Instrument, today time.Time, result *PotentialResult) error {
	consensus, err := s.Store.LatestConsensus(ctx, inst.UID)
	if err != nil {
		return err
	}
	var close *repository.ClosePoint
	if secid := secIDOf(inst); secid != "" {
		close, err = s.Store.LatestCloseBySecID(ctx, secid)
		if err != nil {
			return err
		}
	}
	record := buildPotential(inst, consensus, close, today, s.Config.StaleDays, s.Config.MaxPrice)

	latest, err := s.Store.LatestPotential(ctx, inst.UID)
	if err != nil {
		return err
	}
	if latest != nil && latest.ComputedDate != record.ComputedDate && samePotentialValues(latest, record) {
		result.Unchanged++
		return nil
	}
	if err := s.Store.UpsertPotential(ctx, record); err != nil {
		return err
	}
	result.Computed++
	if record.PotentialRel == nil {
		result.NullPotential++
	}
	if record.IsStale {
		result.Stale++
	}
	return nil
}

func (s *PotentialService) saveState(ctx context.Context, result PotentialResult) {
	if s.Store == nil {
		return
	}
	now := time.Now().UTC()
	state := &models.SyncState{
		Scope:         "potentials",
		LastAttemptAt: &now,
	}
	if result.Errors == 0 {
		state.LastSuccessAt = &now
	}
	if stats, err := json.Marshal(result); err == nil {
		state.StatsJSON = datatypes.JSON(stats)
	}
	if err := s.Store.SaveSyncState(ctx, state); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to save potential sync state", zap.Error(err))
	}
}
