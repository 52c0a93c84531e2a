package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Orchestrator drives a full sync cycle through its stages. Stages are
// isolated: a failing stage is recorded and the cycle moves on, because the
// stages degrade independently (prices still sync when the broker is down,
// potentials still compute from whatever history exists).
type Orchestrator struct {
	Forecasts   *ForecastSyncService
	Prices      *PriceSyncService
	Potentials  *PotentialService
	Pruner      *PrunerService
	Instruments *InstrumentSyncService
	Logger      *zap.Logger
}

// RunOptions selects which variant of the broker and exchange stages runs:
// "update" refreshes everything and pulls the missing price tail, "ensure"
// only backfills instruments with no forecast history and securities with no
// bars, "both" does ensure then update.
type RunOptions struct {
	Mode        string
	Concurrent  bool
	Concurrency int
	Timeout     time.Duration
}

// StageReport is the outcome of one stage in a cycle.
type StageReport struct {
	Name     string      `json:"name"`
	Status   string      `json:"status"`
	Error    string      `json:"error,omitempty"`
	Duration string      `json:"duration"`
	Stats    interface{} `json:"stats,omitempty"`
}

// RunReport is the outcome of one full cycle.
type RunReport struct {
	RunID      string        `json:"run_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Stages     []StageReport `json:"stages"`
}

func (r *RunReport) record(name string, started time.Time, stats interface{}, err error) {
	report := StageReport{
		Name:     name,
		Status:   "ok",
		Duration: time.Since(started).Round(time.Millisecond).String(),
		Stats:    stats,
	}
	if err != nil {
		report.Status = "failed"
		report.Error = err.Error()
	}
	r.Stages = append(r.Stages, report)
}

func (r *RunReport) skip(name, reason string) {
	r.Stages = append(r.Stages, StageReport{
		Name:   name,
		Status: "skipped",
		Error:  reason,
	})
}

// RunFull executes one complete cycle: forecasts, prices, potentials,
// retention. Broker stages are skipped outright when no credential is
// configured instead of failing on the first 401.
func (o *Orchestrator) RunFull(ctx context.Context, opts RunOptions) RunReport {
	report := RunReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	logger := o.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("sync cycle started",
		zap.String("run_id", report.RunID),
		zap.String("mode", opts.Mode))

	mode := opts.Mode
	if mode == "" {
		mode = "update"
	}
	brokerReady := o.Forecasts != nil && o.Forecasts.Broker != nil && o.Forecasts.Broker.HasCredentials()

	if o.Forecasts == nil {
		report.skip("forecasts", "not configured")
	} else if !brokerReady {
		report.skip("forecasts", "no broker credential")
	} else {
		if mode == "ensure" || mode == "both" {
			started := time.Now()
			stats, err := o.Forecasts.EnsureMissing(ctx)
			report.record("forecasts_backfill", started, stats, err)
		}
		if mode == "update" || mode == "both" {
			started := time.Now()
			var stats RefreshResult
			var err error
			if opts.Concurrent {
				stats, err = o.Forecasts.RefreshAllConcurrent(ctx, RefreshOptions{
					Concurrency: opts.Concurrency,
					Timeout:     opts.Timeout,
				})
			} else {
				stats, err = o.Forecasts.RefreshAll(ctx, RefreshOptions{})
			}
			report.record("forecasts", started, stats, err)
		}
	}

	if o.Prices == nil {
		report.skip("prices", "not configured")
	} else {
		if mode == "ensure" || mode == "both" {
			started := time.Now()
			stats, err := o.Prices.EnsureFullCoverage(ctx)
			report.record("prices_backfill", started, stats, err)
		}
		if mode == "update" || mode == "both" {
			started := time.Now()
			stats, err := o.Prices.DailyUpdateAll(ctx)
			report.record("prices", started, stats, err)
		}
	}

	if o.Potentials == nil {
		report.skip("potentials", "not configured")
	} else {
		started := time.Now()
		stats, err := o.Potentials.ComputeAll(ctx)
		report.record("potentials", started, stats, err)
	}

	if o.Pruner == nil {
		report.skip("prune", "not configured")
	} else {
		started := time.Now()
		stats, err := o.Pruner.PruneHistory(ctx)
		report.record("prune", started, stats, err)
	}

	report.FinishedAt = time.Now().UTC()
	logger.Info("sync cycle finished",
		zap.String("run_id", report.RunID),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
		zap.Int("stages", len(report.Stages)))
	return report
}
