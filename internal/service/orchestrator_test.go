package service

import (
	"context"
	"testing"

	"investsync/internal/client/tbank"
	"investsync/internal/models"
)

func stageStatus(report RunReport, name string) (string, bool) {
	for _, stage := range report.Stages {
		if stage.Name == name {
			return stage.Status, true
		}
	}
	return "", false
}

func TestRunFull_EnsureModeBackfillsForecasts(t *testing.T) {
	repo := newStubRepo()
	repo.instruments = []models.Instrument{
		{UID: "uid-1", Ticker: "SBER"},
		{UID: "uid-2", Ticker: "GAZP"},
	}
	repo.consensus = []models.ConsensusSnapshot{{ID: 1, UID: "uid-1", SnapshotDate: "2026-08-01"}}
	broker := &stubBroker{responses: map[string]*tbank.ForecastResponse{
		"uid-2": {Consensus: &tbank.ConsensusItem{UID: "uid-2", Consensus: 50.0}},
	}}
	o := &Orchestrator{Forecasts: testForecastService(repo, broker)}

	report := o.RunFull(context.Background(), RunOptions{Mode: "ensure"})

	if status, ok := stageStatus(report, "forecasts_backfill"); !ok || status != "ok" {
		t.Fatalf("forecasts_backfill status=%q ok=%v", status, ok)
	}
	if _, ok := stageStatus(report, "forecasts"); ok {
		t.Fatalf("ensure mode must not run the full refresh")
	}
	if broker.calls != 1 {
		t.Fatalf("calls=%d want 1", broker.calls)
	}
}

func TestRunFull_BothModeRunsBackfillThenRefresh(t *testing.T) {
	repo := newStubRepo()
	repo.instruments = []models.Instrument{{UID: "uid-1", Ticker: "SBER"}}
	broker := &stubBroker{responses: map[string]*tbank.ForecastResponse{
		"uid-1": {Consensus: &tbank.ConsensusItem{UID: "uid-1", Consensus: 300.0}},
	}}
	o := &Orchestrator{Forecasts: testForecastService(repo, broker)}

	report := o.RunFull(context.Background(), RunOptions{Mode: "both"})

	backfill, ok := stageStatus(report, "forecasts_backfill")
	if !ok || backfill != "ok" {
		t.Fatalf("forecasts_backfill status=%q ok=%v", backfill, ok)
	}
	refresh, ok := stageStatus(report, "forecasts")
	if !ok || refresh != "ok" {
		t.Fatalf("forecasts status=%q ok=%v", refresh, ok)
	}
	// The backfill fetches uid-1, the refresh fetches it again.
	if broker.calls != 2 {
		t.Fatalf("calls=%d want 2", broker.calls)
	}
}

func TestRunFull_DefaultModeSkipsBackfill(t *testing.T) {
	repo := newStubRepo()
	repo.instruments = []models.Instrument{{UID: "uid-1", Ticker: "SBER"}}
	broker := &stubBroker{responses: map[string]*tbank.ForecastResponse{
		"uid-1": {Consensus: &tbank.ConsensusItem{UID: "uid-1", Consensus: 300.0}},
	}}
	o := &Orchestrator{Forecasts: testForecastService(repo, broker)}

	report := o.RunFull(context.Background(), RunOptions{})

	if _, ok := stageStatus(report, "forecasts_backfill"); ok {
		t.Fatalf("default mode must not run the backfill")
	}
	if status, ok := stageStatus(report, "forecasts"); !ok || status != "ok" {
		t.Fatalf("forecasts status=%q ok=%v", status, ok)
	}
}
