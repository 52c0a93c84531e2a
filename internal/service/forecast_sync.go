package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"

	"investsync/internal/client/tbank"
	"investsync/internal/config"
	"investsync/internal/models"
	"investsync/internal/normalize"
	"investsync/internal/repository"
)

// ForecastSource is the broker surface the forecast sync needs. Satisfied by
// *tbank.Client.
type ForecastSource interface {
	GetForecastBy(ctx context.Context, uid string) (*tbank.ForecastResponse, []byte, error)
	HasCredentials() bool
}

// priceTolerance bounds how far two price values may drift and still count
// as the same consensus. Upstream floats wobble in the far decimals between
// identical payloads.
const priceTolerance = 1e-6

type ForecastSyncService struct {
	Store  repository.Repository
	Broker ForecastSource
	Logger *zap.Logger
	Config config.ForecastsConfig
}

type consensusOutcome int

const (
	consensusUnchanged consensusOutcome = iota
	consensusInserted
	consensusOverwritten
)

// RefreshOptions narrows a forecast refresh run.
type RefreshOptions struct {
	UIDs        []string
	SleepPerUID time.Duration
	Concurrency int
	Timeout     time.Duration
}

// RefreshResult aggregates the counters of one forecast refresh run.
type RefreshResult struct {
	Processed           int  `json:"processed"`
	ConsensusInserted   int  `json:"consensus_inserted"`
	ConsensusOverwrote  int  `json:"consensus_overwrote"`
	ConsensusUnchanged  int  `json:"consensus_unchanged"`
	TargetsAdded        int  `json:"targets_added"`
	TargetsUpdated      int  `json:"targets_updated"`
	TargetsUnchanged    int  `json:"targets_unchanged"`
	TargetsSkipped      int  `json:"targets_skipped"`
	NoData              int  `json:"no_data"`
	Errors              int  `json:"errors"`
	HaltedOnCredentials bool `json:"halted_on_credentials"`
}

func (r *RefreshResult) add(other RefreshResult) {
	r.Processed += other.Processed
	r.ConsensusInserted += other.ConsensusInserted
	r.ConsensusOverwrote += other.ConsensusOverwrote
	r.ConsensusUnchanged += other.ConsensusUnchanged
	r.TargetsAdded += other.TargetsAdded
	r.TargetsUpdated += other.TargetsUpdated
	r.TargetsUnchanged += other.TargetsUnchanged
	r.TargetsSkipped += other.TargetsSkipped
	r.NoData += other.NoData
	r.Errors += other.Errors
}

// snapshotFromConsensus normalizes one broker consensus payload into the
// stored shape. today is the processing date in YYYY-MM-DD.
func snapshotFromConsensus(uid, ticker, today string, item *tbank.ConsensusItem) *models.ConsensusSnapshot {
	snap := &models.ConsensusSnapshot{
		UID:          uid,
		Ticker:       ticker,
		SnapshotDate: today,
	}
	if item != nil {
		if item.Ticker != "" {
			snap.Ticker = item.Ticker
		}
		snap.Recommendation = strPtrOrNil(item.Recommendation)
		snap.Currency = strPtrOrNil(item.Currency)
		snap.ConsensusPrice = normalize.Money(item.Consensus)
		snap.MinTarget = normalize.Money(item.MinTarget)
		snap.MaxTarget = normalize.Money(item.MaxTarget)
	}
	snap.Fingerprint = consensusFingerprint(snap)
	return snap
}

// consensusFingerprint hashes the canonical business fields. Two snapshots
// with equal fingerprints always compare equal field-by-field, so a
// fingerprint match short-circuits the duplicate decision; a mismatch still
// falls through to the tolerance compare.
func consensusFingerprint(snap *models.ConsensusSnapshot) string {
	return normalize.Fingerprint(
		snap.Ticker,
		strOrEmpty(snap.Recommendation),
		strOrEmpty(snap.Currency),
		normalize.FloatField(snap.ConsensusPrice),
		normalize.FloatField(snap.MinTarget),
		normalize.FloatField(snap.MaxTarget),
	)
}

// sameConsensus compares the business fields of two snapshots. Strings
// compare exactly, prices within priceTolerance. Snapshot dates are
// deliberately excluded: the question is whether the consensus changed, not
// when it was seen.
func sameConsensus(a, b *models.ConsensusSnapshot) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Fingerprint != "" && a.Fingerprint == b.Fingerprint {
		return true
	}
	return a.Ticker == b.Ticker &&
		strOrEmpty(a.Recommendation) == strOrEmpty(b.Recommendation) &&
		strOrEmpty(a.Currency) == strOrEmpty(b.Currency) &&
		normalize.FloatEqual(a.ConsensusPrice, b.ConsensusPrice, priceTolerance) &&
		normalize.FloatEqual(a.MinTarget, b.MinTarget, priceTolerance) &&
		normalize.FloatEqual(a.MaxTarget, b.MaxTarget, priceTolerance)
}

// SaveConsensus applies the append-on-change protocol for one snapshot:
// unchanged against the latest stored row is a no-op, a change appends a new
// dated row, and a second change within the same day overwrites that day's
// row in place.
func (s *ForecastSyncService) SaveConsensus(ctx context.Context, snap *models.ConsensusSnapshot) (consensusOutcome, error) {
	if s == nil || s.Store == nil || snap == nil {
		return consensusUnchanged, nil
	}
	latest, err := s.Store.LatestConsensus(ctx, snap.UID)
	if err != nil {
		return consensusUnchanged, err
	}
	if latest != nil && sameConsensus(latest, snap) {
		return consensusUnchanged, nil
	}
	inserted, err := s.Store.InsertConsensus(ctx, snap)
	if err != nil {
		return consensusUnchanged, err
	}
	if inserted {
		return consensusInserted, nil
	}
	// Same-day collision: a snapshot for this date already exists but the
	// latest row read above predates it or differs. Re-read and resolve.
	existing, err := s.Store.GetConsensusByDate(ctx, snap.UID, snap.SnapshotDate)
	if err != nil {
		return consensusUnchanged, err
	}
	if existing != nil && sameConsensus(existing, snap) {
		return consensusUnchanged, nil
	}
	if err := s.Store.UpdateConsensusByDate(ctx, snap); err != nil {
		return consensusUnchanged, err
	}
	return consensusOverwritten, nil
}

// SaveTargets upserts per-analyst targets keyed by (uid, date, company).
// Records missing any key component are counted as skipped, never guessed.
func (s *ForecastSyncService) SaveTargets(ctx context.Context, uid string, items []tbank.TargetItem) (added, updated, unchanged, skipped int, err error) {
	if s == nil || s.Store == nil {
		return 0, 0, 0, 0, nil
	}
	for _, item := range items {
		itemUID := strings.TrimSpace(item.UID)
		if itemUID == "" {
			itemUID = uid
		}
		company := strings.TrimSpace(item.Company)
		date := normalize.Date(item.RecommendationDate)
		if itemUID == "" || company == "" || date == "" {
			skipped++
			continue
		}
		target := &models.AnalystTarget{
			UID:            itemUID,
			Ticker:         strPtrOrNil(item.Ticker),
			Company:        company,
			Recommendation: strPtrOrNil(item.Recommendation),
			SnapshotDate:   date,
			Currency:       strPtrOrNil(item.Currency),
			TargetPrice:    normalize.Money(item.TargetPrice),
			ShowName:       strPtrOrNil(item.ShowName),
		}
		inserted, insErr := s.Store.InsertTarget(ctx, target)
		if insErr != nil {
			return added, updated, unchanged, skipped, insErr
		}
		if inserted {
			added++
			continue
		}
		existing, getErr := s.Store.GetTarget(ctx, itemUID, date, company)
		if getErr != nil {
			return added, updated, unchanged, skipped, getErr
		}
		if existing != nil && sameTarget(existing, target) {
			unchanged++
			continue
		}
		if updErr := s.Store.UpdateTarget(ctx, target); updErr != nil {
			return added, updated, unchanged, skipped, updErr
		}
		updated++
	}
	return added, updated, unchanged, skipped, nil
}

func sameTarget(a, b *models.AnalystTarget) bool {
	if a == nil || b == nil {
		return a == b
	}
	return strOrEmpty(a.Ticker) == strOrEmpty(b.Ticker) &&
		strOrEmpty(a.Recommendation) == strOrEmpty(b.Recommendation) &&
		strOrEmpty(a.Currency) == strOrEmpty(b.Currency) &&
		strOrEmpty(a.ShowName) == strOrEmpty(b.ShowName) &&
		normalize.FloatEqual(a.TargetPrice, b.TargetPrice, priceTolerance)
}

// RefreshOne fetches and persists the forecast for a single instrument.
func (s *ForecastSyncService) RefreshOne(ctx context.Context, inst models.Instrument) (RefreshResult, error) {
	var result RefreshResult
	if s == nil || s.Store == nil || s.Broker == nil {
		return result, nil
	}
	resp, raw, err := s.Broker.GetForecastBy(ctx, inst.UID)
	if err != nil {
		return result, err
	}
	now := time.Now().UTC()
	today := now.Format("2006-01-02")
	if resp == nil {
		result.NoData++
		s.recordRaw(ctx, inst.UID, now, http.StatusNotFound, nil)
		return result, nil
	}
	s.recordRaw(ctx, inst.UID, now, http.StatusOK, raw)

	result.Processed++
	if resp.Consensus != nil {
		snap := snapshotFromConsensus(inst.UID, inst.Ticker, today, resp.Consensus)
		outcome, err := s.SaveConsensus(ctx, snap)
		if err != nil {
			return result, err
		}
		switch outcome {
		case consensusInserted:
			result.ConsensusInserted++
		case consensusOverwritten:
			result.ConsensusOverwrote++
		default:
			result.ConsensusUnchanged++
		}
	}
	added, updated, unchanged, skipped, err := s.SaveTargets(ctx, inst.UID, resp.Targets)
	result.TargetsAdded += added
	result.TargetsUpdated += updated
	result.TargetsUnchanged += unchanged
	result.TargetsSkipped += skipped
	return result, err
}

func (s *ForecastSyncService) recordRaw(ctx context.Context, uid string, at time.Time, status int, raw []byte) {
	if len(raw) == 0 {
		raw = []byte("null")
	}
	err := s.Store.InsertRawForecastSnapshot(ctx, &models.RawForecastSnapshot{
		UID:        uid,
		FetchedAt:  at,
		StatusCode: status,
		Payload:    datatypes.JSON(raw),
	})
	if err != nil && s.Logger != nil {
		s.Logger.Warn("failed to retain raw forecast payload", zap.String("uid", uid), zap.Error(err))
	}
}

// RefreshAll refreshes forecasts for every tracked instrument sequentially.
// Per-instrument failures are counted and logged but do not stop the run;
// a credential rejection halts the whole batch immediately.
func (s *ForecastSyncService) RefreshAll(ctx context.Context, opts RefreshOptions) (RefreshResult, error) {
	var result RefreshResult
	if s == nil || s.Store == nil || s.Broker == nil {
		return result, nil
	}
	instruments, err := s.resolveInstruments(ctx, opts.UIDs)
	if err != nil {
		return result, err
	}
	sleep := opts.SleepPerUID
	if sleep <= 0 {
		sleep = s.Config.SleepPerUID
	}
	for i, inst := range instruments {
		if ctx.Err() != nil {
			result.Errors += len(instruments) - i
			break
		}
		one, err := s.RefreshOne(ctx, inst)
		result.add(one)
		if err != nil {
			if errors.Is(err, tbank.ErrUnauthorized) {
				result.HaltedOnCredentials = true
				s.saveState(ctx, result, err)
				return result, err
			}
			result.Errors++
			if s.Logger != nil {
				s.Logger.Warn("forecast refresh failed for instrument",
					zap.String("uid", inst.UID),
					zap.String("ticker", inst.Ticker),
					zap.Error(err))
			}
		}
		if sleep > 0 && i < len(instruments)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(sleep):
			}
		}
	}
	s.saveState(ctx, result, nil)
	return result, nil
}

// RefreshAllConcurrent is RefreshAll with a bounded worker pool. Each uid is
// owned by exactly one worker, so per-uid read-modify-write sequences never
// interleave. An optional wall-clock timeout abandons unstarted instruments
// and counts them as errors.
func (s *ForecastSyncService) RefreshAllConcurrent(ctx context.Context, opts RefreshOptions) (RefreshResult, error) {
	var result RefreshResult
	if s == nil || s.Store == nil || s.Broker == nil {
		return result, nil
	}
	instruments, err := s.resolveInstruments(ctx, opts.UIDs)
	if err != nil {
		return result, err
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = s.Config.Concurrency
	}
	if concurrency <= 0 {
		concurrency = 5
	}
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sem := semaphore.NewWeighted(int64(concurrency))
	var mu sync.Mutex
	var wg sync.WaitGroup
	var halted bool

	for _, inst := range instruments {
		if err := sem.Acquire(runCtx, 1); err != nil {
			mu.Lock()
			result.Errors++
			mu.Unlock()
			continue
		}
		mu.Lock()
		stop := halted
		mu.Unlock()
		if stop {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func(inst models.Instrument) {
			defer wg.Done()
			defer sem.Release(1)
			one, err := s.RefreshOne(runCtx, inst)
			mu.Lock()
			defer mu.Unlock()
			result.add(one)
			if err != nil {
				if errors.Is(err, tbank.ErrUnauthorized) {
					halted = true
					result.HaltedOnCredentials = true
					return
				}
				result.Errors++
				if s.Logger != nil {
					s.Logger.Warn("forecast refresh failed for instrument",
						zap.String("uid", inst.UID),
						zap.Error(err))
				}
			}
		}(inst)
	}
	wg.Wait()

	if result.HaltedOnCredentials {
		s.saveState(ctx, result, tbank.ErrUnauthorized)
		return result, tbank.ErrUnauthorized
	}
	s.saveState(ctx, result, nil)
	return result, nil
}

// EnsureMissing refreshes only instruments with no consensus history yet,
// typically right after instruments were added in bulk.
func (s *ForecastSyncService) EnsureMissing(ctx context.Context) (RefreshResult, error) {
	var result RefreshResult
	if s == nil || s.Store == nil || s.Broker == nil {
		return result, nil
	}
	missing, err := s.Store.ListInstrumentsMissingForecasts(ctx)
	if err != nil {
		return result, err
	}
	uids := make([]string, 0, len(missing))
	for _, inst := range missing {
		uids = append(uids, inst.UID)
	}
	if len(uids) == 0 {
		return result, nil
	}
	return s.RefreshAll(ctx, RefreshOptions{UIDs: uids, SleepPerUID: s.Config.SleepPerUID})
}

func (s *ForecastSyncService) resolveInstruments(ctx context.Context, uids []string) ([]models.Instrument, error) {
	all, err := s.Store.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	if len(uids) == 0 {
		return all, nil
	}
	wanted := make(map[string]bool, len(uids))
	for _, uid := range uids {
		wanted[uid] = true
	}
	filtered := make([]models.Instrument, 0, len(uids))
	for _, inst := range all {
		if wanted[inst.UID] {
			filtered = append(filtered, inst)
		}
	}
	return filtered, nil
}

func (s *ForecastSyncService) saveState(ctx context.Context, result RefreshResult, runErr error) {
	if s.Store == nil {
		return
	}
	now := time.Now().UTC()
	state := &models.SyncState{
		Scope:         "forecasts",
		LastAttemptAt: &now,
	}
	if runErr == nil {
		state.LastSuccessAt = &now
	} else {
		msg := runErr.Error()
		state.LastError = &msg
	}
	if stats, err := json.Marshal(result); err == nil {
		state.StatsJSON = datatypes.JSON(stats)
	}
	if err := s.Store.SaveSyncState(ctx, state); err != nil && s.Logger != nil {
		s.Logger.Warn("failed to save forecast sync state", zap.Error(err))
	}
}

func strPtrOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
