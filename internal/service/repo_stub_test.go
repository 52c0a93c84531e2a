package service

import (
	"context"
	"sort"
	"sync"

	"gorm.io/gorm"

	"investsync/internal/models"
	"investsync/internal/repository"
)

// stubRepo is an in-memory repository.Repository for service tests.
type stubRepo struct {
	mu          sync.Mutex
	instruments []models.Instrument
	consensus   []models.ConsensusSnapshot
	targets     []models.AnalystTarget
	bars        map[[3]string]models.PriceBar
	potentials  map[[2]string]models.PotentialRecord
	states      map[string]models.SyncState
	raws        []models.RawForecastSnapshot
	nextID      uint64
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		bars:       make(map[[3]string]models.PriceBar),
		potentials: make(map[[2]string]models.PotentialRecord),
		states:     make(map[string]models.SyncState),
	}
}

func (r *stubRepo) id() uint64 {
	r.nextID++
	return r.nextID
}

func (r *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func (r *stubRepo) UpsertInstrument(ctx context.Context, item *models.Instrument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.instruments {
		if r.instruments[i].UID == item.UID {
			r.instruments[i] = *item
			return nil
		}
	}
	r.instruments = append(r.instruments, *item)
	return nil
}

func (r *stubRepo) GetInstrument(ctx context.Context, uid string) (*models.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.instruments {
		if r.instruments[i].UID == uid {
			inst := r.instruments[i]
			return &inst, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) ListInstruments(ctx context.Context) ([]models.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Instrument(nil), r.instruments...), nil
}

func (r *stubRepo) ListInstrumentsMissingForecasts(ctx context.Context) ([]models.Instrument, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	have := make(map[string]bool)
	for _, snap := range r.consensus {
		have[snap.UID] = true
	}
	var missing []models.Instrument
	for _, inst := range r.instruments {
		if !have[inst.UID] {
			missing = append(missing, inst)
		}
	}
	return missing, nil
}

func (r *stubRepo) DeleteInstrumentCascade(ctx context.Context, uid string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	keep := r.instruments[:0]
	for _, inst := range r.instruments {
		if inst.UID != uid {
			keep = append(keep, inst)
		}
	}
	r.instruments = keep
	keepSnaps := r.consensus[:0]
	for _, snap := range r.consensus {
		if snap.UID != uid {
			keepSnaps = append(keepSnaps, snap)
		}
	}
	r.consensus = keepSnaps
	keepTargets := r.targets[:0]
	for _, target := range r.targets {
		if target.UID != uid {
			keepTargets = append(keepTargets, target)
		}
	}
	r.targets = keepTargets
	for key := range r.potentials {
		if key[0] == uid {
			delete(r.potentials, key)
		}
	}
	return nil
}

func (r *stubRepo) LatestConsensus(ctx context.Context, uid string) (*models.ConsensusSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.ConsensusSnapshot
	for i := range r.consensus {
		snap := r.consensus[i]
		if snap.UID != uid {
			continue
		}
		if latest == nil ||
			snap.SnapshotDate > latest.SnapshotDate ||
			(snap.SnapshotDate == latest.SnapshotDate && snap.ID > latest.ID) {
			copied := snap
			latest = &copied
		}
	}
	return latest, nil
}

func (r *stubRepo) InsertConsensus(ctx context.Context, item *models.ConsensusSnapshot) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, snap := range r.consensus {
		if snap.UID == item.UID && snap.SnapshotDate == item.SnapshotDate {
			return false, nil
		}
	}
	item.ID = r.id()
	r.consensus = append(r.consensus, *item)
	return true, nil
}

func (r *stubRepo) GetConsensusByDate(ctx context.Context, uid, date string) (*models.ConsensusSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.consensus {
		if r.consensus[i].UID == uid && r.consensus[i].SnapshotDate == date {
			snap := r.consensus[i]
			return &snap, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) UpdateConsensusByDate(ctx context.Context, item *models.ConsensusSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.consensus {
		if r.consensus[i].UID == item.UID && r.consensus[i].SnapshotDate == item.SnapshotDate {
			id := r.consensus[i].ID
			r.consensus[i] = *item
			r.consensus[i].ID = id
		}
	}
	return nil
}

func (r *stubRepo) ListConsensusUIDs(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var uids []string
	for _, snap := range r.consensus {
		if !seen[snap.UID] {
			seen[snap.UID] = true
			uids = append(uids, snap.UID)
		}
	}
	sort.Strings(uids)
	return uids, nil
}

func (r *stubRepo) ListConsensusKeys(ctx context.Context, uid string) ([]repository.RecordKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []repository.RecordKey
	for _, snap := range r.consensus {
		if snap.UID == uid {
			keys = append(keys, repository.RecordKey{ID: snap.ID, Date: snap.SnapshotDate})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date > keys[j].Date
		}
		return keys[i].ID > keys[j].ID
	})
	return keys, nil
}

func (r *stubRepo) DeleteConsensusByIDs(ctx context.Context, ids []uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	keep := r.consensus[:0]
	var deleted int64
	for _, snap := range r.consensus {
		if drop[snap.ID] {
			deleted++
			continue
		}
		keep = append(keep, snap)
	}
	r.consensus = keep
	return deleted, nil
}

func (r *stubRepo) GetTarget(ctx context.Context, uid, date, company string) (*models.AnalystTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.targets {
		target := r.targets[i]
		if target.UID == uid && target.SnapshotDate == date && target.Company == company {
			return &target, nil
		}
	}
	return nil, nil
}

func (r *stubRepo) InsertTarget(ctx context.Context, item *models.AnalystTarget) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, target := range r.targets {
		if target.UID == item.UID && target.SnapshotDate == item.SnapshotDate && target.Company == item.Company {
			return false, nil
		}
	}
	item.ID = r.id()
	r.targets = append(r.targets, *item)
	return true, nil
}

func (r *stubRepo) UpdateTarget(ctx context.Context, item *models.AnalystTarget) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.targets {
		if r.targets[i].UID == item.UID && r.targets[i].SnapshotDate == item.SnapshotDate && r.targets[i].Company == item.Company {
			id := r.targets[i].ID
			r.targets[i] = *item
			r.targets[i].ID = id
		}
	}
	return nil
}

func (r *stubRepo) ListTargetGroups(ctx context.Context) ([]repository.TargetGroup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[repository.TargetGroup]bool)
	var groups []repository.TargetGroup
	for _, target := range r.targets {
		group := repository.TargetGroup{UID: target.UID, Company: target.Company}
		if !seen[group] {
			seen[group] = true
			groups = append(groups, group)
		}
	}
	return groups, nil
}

func (r *stubRepo) ListTargetKeys(ctx context.Context, uid, company string) ([]repository.RecordKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []repository.RecordKey
	for _, target := range r.targets {
		if target.UID == uid && target.Company == company {
			keys = append(keys, repository.RecordKey{ID: target.ID, Date: target.SnapshotDate})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Date != keys[j].Date {
			return keys[i].Date > keys[j].Date
		}
		return keys[i].ID > keys[j].ID
	})
	return keys, nil
}

func (r *stubRepo) DeleteTargetsByIDs(ctx context.Context, ids []uint64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	keep := r.targets[:0]
	var deleted int64
	for _, target := range r.targets {
		if drop[target.ID] {
			deleted++
			continue
		}
		keep = append(keep, target)
	}
	r.targets = keep
	return deleted, nil
}

func (r *stubRepo) InsertPriceBarIfAbsent(ctx context.Context, item *models.PriceBar) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [3]string{item.BoardID, item.SecID, item.TradeDate}
	if _, ok := r.bars[key]; ok {
		return false, nil
	}
	r.bars[key] = *item
	return true, nil
}

func (r *stubRepo) LatestTradeDate(ctx context.Context, board, secid string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := ""
	for key := range r.bars {
		if key[0] == board && key[1] == secid && key[2] > latest {
			latest = key[2]
		}
	}
	return latest, nil
}

func (r *stubRepo) LatestCloseBySecID(ctx context.Context, secid string) (*repository.ClosePoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var point *repository.ClosePoint
	latest := ""
	for key, bar := range r.bars {
		if key[1] != secid || bar.Close == nil {
			continue
		}
		if key[2] > latest {
			latest = key[2]
			point = &repository.ClosePoint{Close: *bar.Close, TradeDate: key[2]}
		}
	}
	return point, nil
}

func (r *stubRepo) CountPriceBars(ctx context.Context, board, secid string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for key := range r.bars {
		if key[0] == board && key[1] == secid {
			count++
		}
	}
	return count, nil
}

func (r *stubRepo) DeletePriceBarsBefore(ctx context.Context, board, secid, cutoff string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key := range r.bars {
		if key[0] == board && key[1] == secid && key[2] < cutoff {
			delete(r.bars, key)
			deleted++
		}
	}
	return deleted, nil
}

func (r *stubRepo) LatestPotential(ctx context.Context, uid string) (*models.PotentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *models.PotentialRecord
	for key, record := range r.potentials {
		if key[0] != uid {
			continue
		}
		if latest == nil || record.ComputedDate > latest.ComputedDate {
			copied := record
			latest = &copied
		}
	}
	return latest, nil
}

func (r *stubRepo) UpsertPotential(ctx context.Context, item *models.PotentialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.potentials[[2]string{item.UID, item.ComputedDate}] = *item
	return nil
}

func (r *stubRepo) ListTopPotentials(ctx context.Context, limit int, maxAgeDate string) ([]models.PotentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var items []models.PotentialRecord
	for _, record := range r.potentials {
		if record.PotentialRel == nil {
			continue
		}
		if maxAgeDate != "" && record.ComputedDate < maxAgeDate {
			continue
		}
		items = append(items, record)
	}
	sort.Slice(items, func(i, j int) bool {
		return *items[i].PotentialRel > *items[j].PotentialRel
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (r *stubRepo) DeletePotentialsBefore(ctx context.Context, cutoffDate string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for key := range r.potentials {
		if key[1] < cutoffDate {
			delete(r.potentials, key)
			deleted++
		}
	}
	return deleted, nil
}

func (r *stubRepo) GetSyncState(ctx context.Context, scope string) (*models.SyncState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if state, ok := r.states[scope]; ok {
		return &state, nil
	}
	return nil, nil
}

func (r *stubRepo) SaveSyncState(ctx context.Context, state *models.SyncState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[state.Scope] = *state
	return nil
}

func (r *stubRepo) InsertRawForecastSnapshot(ctx context.Context, item *models.RawForecastSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	item.ID = r.id()
	r.raws = append(r.raws, *item)
	return nil
}

func (r *stubRepo) ListAllConsensus(ctx context.Context) ([]models.ConsensusSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ConsensusSnapshot(nil), r.consensus...), nil
}

func (r *stubRepo) ListAllTargets(ctx context.Context) ([]models.AnalystTarget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.AnalystTarget(nil), r.targets...), nil
}

func (r *stubRepo) ListLatestPotentials(ctx context.Context) ([]models.PotentialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	latest := make(map[string]models.PotentialRecord)
	for key, record := range r.potentials {
		if existing, ok := latest[key[0]]; !ok || record.ComputedDate > existing.ComputedDate {
			latest[key[0]] = record
		}
	}
	var items []models.PotentialRecord
	for _, record := range latest {
		items = append(items, record)
	}
	return items, nil
}
