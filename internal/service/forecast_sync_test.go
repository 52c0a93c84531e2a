package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"investsync/internal/client/tbank"
	"investsync/internal/models"
)

type stubBroker struct {
	responses map[string]*tbank.ForecastResponse
	errs      map[string]error

	mu    sync.Mutex
	calls int
}

func (b *stubBroker) GetForecastBy(ctx context.Context, uid string) (*tbank.ForecastResponse, []byte, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if err, ok := b.errs[uid]; ok {
		return nil, nil, err
	}
	resp, ok := b.responses[uid]
	if !ok {
		return nil, nil, nil
	}
	return resp, []byte(`{"stub":true}`), nil
}

func (b *stubBroker) HasCredentials() bool { return true }

func fptr(v float64) *float64 { return &v }

func sptr(s string) *string { return &s }

func testForecastService(repo *stubRepo, broker *stubBroker) *ForecastSyncService {
	return &ForecastSyncService{Store: repo, Broker: broker}
}

func snapshot(uid, date string, price float64) *models.ConsensusSnapshot {
	snap := &models.ConsensusSnapshot{
		UID:            uid,
		Ticker:         "SBER",
		SnapshotDate:   date,
		Recommendation: sptr("BUY"),
		Currency:       sptr("RUB"),
		ConsensusPrice: fptr(price),
		MinTarget:      fptr(price * 0.9),
		MaxTarget:      fptr(price * 1.1),
	}
	snap.Fingerprint = consensusFingerprint(snap)
	return snap
}

func TestSaveConsensus_FirstInsert(t *testing.T) {
	repo := newStubRepo()
	svc := testForecastService(repo, nil)

	outcome, err := svc.SaveConsensus(context.Background(), snapshot("uid-1", "2026-08-28", 300))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if outcome != consensusInserted {
		t.Fatalf("outcome=%v want inserted", outcome)
	}
	if len(repo.consensus) != 1 {
		t.Fatalf("rows=%d want 1", len(repo.consensus))
	}
}

func TestSaveConsensus_UnchangedIsNoOp(t *testing.T) {
	repo := newStubRepo()
	svc := testForecastService(repo, nil)
	ctx := context.Background()

	if _, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-28", 300)); err != nil {
		t.Fatalf("err=%v", err)
	}
	// Same values on a later day must not append a new row.
	outcome, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-29", 300))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if outcome != consensusUnchanged {
		t.Fatalf("outcome=%v want unchanged", outcome)
	}
	if len(repo.consensus) != 1 {
		t.Fatalf("rows=%d want 1", len(repo.consensus))
	}
}

func TestSaveConsensus_ChangeAppends(t *testing.T) {
	repo := newStubRepo()
	svc := testForecastService(repo, nil)
	ctx := context.Background()

	if _, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-28", 300)); err != nil {
		t.Fatalf("err=%v", err)
	}
	outcome, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-29", 310))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if outcome != consensusInserted {
		t.Fatalf("outcome=%v want inserted", outcome)
	}
	if len(repo.consensus) != 2 {
		t.Fatalf("rows=%d want 2", len(repo.consensus))
	}
}

func TestSaveConsensus_SameDayOverwrite(t *testing.T) {
	repo := newStubRepo()
	svc := testForecastService(repo, nil)
	ctx := context.Background()

	if _, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-28", 300)); err != nil {
		t.Fatalf("err=%v", err)
	}
	outcome, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-28", 320))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if outcome != consensusOverwritten {
		t.Fatalf("outcome=%v want overwritten", outcome)
	}
	if len(repo.consensus) != 1 {
		t.Fatalf("rows=%d want 1", len(repo.consensus))
	}
	if got := *repo.consensus[0].ConsensusPrice; got != 320 {
		t.Fatalf("price=%v want 320", got)
	}
}

func TestSaveConsensus_ToleranceAbsorbsFloatNoise(t *testing.T) {
	repo := newStubRepo()
	svc := testForecastService(repo, nil)
	ctx := context.Background()

	if _, err := svc.SaveConsensus(ctx, snapshot("uid-1", "2026-08-28", 300)); err != nil {
		t.Fatalf("err=%v", err)
	}
	wobbled := snapshot("uid-1", "2026-08-29", 300)
	*wobbled.ConsensusPrice += 1e-9
	wobbled.Fingerprint = consensusFingerprint(wobbled)
	outcome, err := svc.SaveConsensus(ctx, wobbled)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if outcome != consensusUnchanged {
		t.Fatalf("outcome=%v want unchanged", outcome)
	}
}

func TestSaveTargets_UpsertAndSkip(t *testing.T) {
	repo := newStubRepo()
	svc := testForecastService(repo, nil)
	ctx := context.Background()

	items := []tbank.TargetItem{
		{UID: "uid-1", Company: "AlfaBank", RecommendationDate: "2026-08-20T00:00:00Z", TargetPrice: 350.0},
		{UID: "uid-1", Company: "", RecommendationDate: "2026-08-20"},
		{UID: "uid-1", Company: "VTB Capital", RecommendationDate: ""},
	}
	added, updated, unchanged, skipped, err := svc.SaveTargets(ctx, "uid-1", items)
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if added != 1 || updated != 0 || unchanged != 0 || skipped != 2 {
		t.Fatalf("added=%d updated=%d unchanged=%d skipped=%d", added, updated, unchanged, skipped)
	}

	// Re-sync with the same payload is a no-op.
	added, updated, unchanged, _, err = svc.SaveTargets(ctx, "uid-1", items[:1])
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if added != 0 || updated != 0 || unchanged != 1 {
		t.Fatalf("added=%d updated=%d unchanged=%d", added, updated, unchanged)
	}

	// Same key with a new price updates in place.
	items[0].TargetPrice = 360.0
	added, updated, _, _, err = svc.SaveTargets(ctx, "uid-1", items[:1])
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if added != 0 || updated != 1 {
		t.Fatalf("added=%d updated=%d", added, updated)
	}
	if len(repo.targets) != 1 {
		t.Fatalf("rows=%d want 1", len(repo.targets))
	}
	if got := *repo.targets[0].TargetPrice; got != 360 {
		t.Fatalf("price=%v want 360", got)
	}
}

func TestRefreshOne_NoForecastCoverage(t *testing.T) {
	repo := newStubRepo()
	broker := &stubBroker{responses: map[string]*tbank.ForecastResponse{}}
	svc := testForecastService(repo, broker)

	result, err := svc.RefreshOne(context.Background(), models.Instrument{UID: "uid-1", Ticker: "SBER"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.NoData != 1 || result.Processed != 0 {
		t.Fatalf("no_data=%d processed=%d", result.NoData, result.Processed)
	}
	if len(repo.raws) != 1 || repo.raws[0].StatusCode != 404 {
		t.Fatalf("raw snapshots=%v", repo.raws)
	}
}

func TestRefreshAll_HaltsOnCredentialRejection(t *testing.T) {
	repo := newStubRepo()
	repo.instruments = []models.Instrument{
		{UID: "uid-1", Ticker: "SBER"},
		{UID: "uid-2", Ticker: "GAZP"},
	}
	broker := &stubBroker{errs: map[string]error{"uid-1": tbank.ErrUnauthorized}}
	svc := testForecastService(repo, broker)

	result, err := svc.RefreshAll(context.Background(), RefreshOptions{})
	if !errors.Is(err, tbank.ErrUnauthorized) {
		t.Fatalf("err=%v want ErrUnauthorized", err)
	}
	if !result.HaltedOnCredentials {
		t.Fatalf("expected halted result")
	}
	if broker.calls != 1 {
		t.Fatalf("calls=%d want 1 (batch must stop)", broker.calls)
	}
}

func TestRefreshAll_CountsPerInstrumentErrors(t *testing.T) {
	repo := newStubRepo()
	repo.instruments = []models.Instrument{
		{UID: "uid-1", Ticker: "SBER"},
		{UID: "uid-2", Ticker: "GAZP"},
	}
	broker := &stubBroker{
		errs: map[string]error{"uid-1": errors.New("boom")},
		responses: map[string]*tbank.ForecastResponse{
			"uid-2": {
				Consensus: &tbank.ConsensusItem{UID: "uid-2", Ticker: "GAZP", Recommendation: "BUY", Consensus: 180.5},
			},
		},
	}
	svc := testForecastService(repo, broker)

	result, err := svc.RefreshAll(context.Background(), RefreshOptions{})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.Errors != 1 || result.Processed != 1 || result.ConsensusInserted != 1 {
		t.Fatalf("errors=%d processed=%d inserted=%d", result.Errors, result.Processed, result.ConsensusInserted)
	}
}

func TestRefreshAllConcurrent_RefreshesEveryInstrument(t *testing.T) {
	repo := newStubRepo()
	responses := make(map[string]*tbank.ForecastResponse)
	for _, uid := range []string{"uid-1", "uid-2", "uid-3", "uid-4"} {
		repo.instruments = append(repo.instruments, models.Instrument{UID: uid, Ticker: uid})
		responses[uid] = &tbank.ForecastResponse{
			Consensus: &tbank.ConsensusItem{UID: uid, Ticker: uid, Consensus: 100.0},
		}
	}
	svc := testForecastService(repo, &stubBroker{responses: responses})

	result, err := svc.RefreshAllConcurrent(context.Background(), RefreshOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if result.Processed != 4 || result.ConsensusInserted != 4 {
		t.Fatalf("processed=%d inserted=%d", result.Processed, result.ConsensusInserted)
	}
}

func TestEnsureMissing_OnlyFetchesUncovered(t *testing.T) {
	repo := newStubRepo()
	repo.instruments = []models.Instrument{
		{UID: "uid-1", Ticker: "SBER"},
		{UID: "uid-2", Ticker: "GAZP"},
	}
	repo.consensus = []models.ConsensusSnapshot{{ID: 1, UID: "uid-1", SnapshotDate: "2026-08-01"}}
	broker := &stubBroker{responses: map[string]*tbank.ForecastResponse{
		"uid-2": {Consensus: &tbank.ConsensusItem{UID: "uid-2", Consensus: 50.0}},
	}}
	svc := testForecastService(repo, broker)

	result, err := svc.EnsureMissing(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if broker.calls != 1 {
		t.Fatalf("calls=%d want 1", broker.calls)
	}
	if result.ConsensusInserted != 1 {
		t.Fatalf("inserted=%d want 1", result.ConsensusInserted)
	}
}
