// syncjob runs one or more sync cycles without the HTTP server, for cron or
// systemd timer deployments. A lock file keeps overlapping invocations out.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"investsync/internal/client/moex"
	"investsync/internal/client/tbank"
	"investsync/internal/config"
	"investsync/internal/db"
	"investsync/internal/joblock"
	"investsync/internal/logger"
	gormrepository "investsync/internal/repository/gorm"
	"investsync/internal/service"
)

func main() {
	var (
		cfgPath    = flag.String("config", envOr("INVEST_CONFIG", "config/config.yaml"), "config file path")
		envOnly    = flag.Bool("env-only", false, "configure from environment only, skip the config file")
		mode       = flag.String("mode", "update", "price stage: update, ensure or both")
		once       = flag.Bool("once", true, "run a single cycle and exit")
		interval   = flag.Duration("interval", time.Hour, "cycle interval when not running once")
		limit      = flag.Int("limit", 0, "max instruments per price run, 0 for all")
		sleep      = flag.Duration("sleep", 0, "pause between forecast fetches")
		budget     = flag.Duration("budget", 0, "soft wall-clock budget for the price stage")
		export     = flag.String("export", "", "write an xlsx workbook to this path after the cycle")
		lockPath   = flag.String("lock", "/tmp/investsync.lock", "lock file path, empty to disable")
		lockMaxAge = flag.Duration("lock-max-age", joblock.DefaultMaxAge, "age after which a leftover lock is broken")
	)
	flag.Parse()

	switch *mode {
	case "update", "ensure", "both":
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q (want update, ensure or both)\n", *mode)
		os.Exit(2)
	}

	cfg, err := config.Load(*cfgPath, *envOnly)
	if err != nil {
		panic(err)
	}
	if *limit > 0 {
		cfg.Prices.InstrumentLimit = *limit
	}
	if *sleep > 0 {
		cfg.Forecasts.SleepPerUID = *sleep
	}
	if *budget > 0 {
		cfg.Prices.GlobalBudget = *budget
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if *lockPath != "" {
		lock, err := joblock.Acquire(*lockPath, *lockMaxAge)
		if err != nil {
			log.Fatal("another sync run is active", zap.String("lock", *lockPath), zap.Error(err))
		}
		defer lock.Release()
	}

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	brokerClient := tbank.New(cfg.Broker, log)
	exchangeClient := moex.New(cfg.Exchange, log)
	store := gormrepository.New(dbConn.Gorm)

	forecastSvc := &service.ForecastSyncService{
		Store:  store,
		Broker: brokerClient,
		Logger: log,
		Config: cfg.Forecasts,
	}
	orchestrator := &service.Orchestrator{
		Forecasts: forecastSvc,
		Prices: &service.PriceSyncService{
			Store:     store,
			Exchange:  exchangeClient,
			Logger:    log,
			Config:    cfg.Prices,
			Retention: cfg.Retention,
			Board:     cfg.Exchange.Board,
		},
		Potentials: &service.PotentialService{Store: store, Logger: log, Config: cfg.Potential},
		Pruner:     &service.PrunerService{Store: store, Logger: log, Config: cfg.Retention},
		Logger:     log,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runOnce := func() {
		report := orchestrator.RunFull(ctx, service.RunOptions{
			Mode:       *mode,
			Concurrent: true,
			Timeout:    cfg.Forecasts.BatchTimeout,
		})
		for _, stage := range report.Stages {
			switch stage.Status {
			case "failed":
				log.Warn("stage failed",
					zap.String("run_id", report.RunID),
					zap.String("stage", stage.Name),
					zap.String("error", stage.Error))
			case "skipped":
				log.Info("stage skipped",
					zap.String("stage", stage.Name),
					zap.String("reason", stage.Error))
			}
		}
		log.Info("cycle finished",
			zap.String("run_id", report.RunID),
			zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
		if *export != "" {
			if err := writeExport(ctx, store, log, *export); err != nil {
				log.Warn("export failed", zap.Error(err))
			}
		}
	}

	runOnce()
	if *once {
		return
	}
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown requested")
			return
		case <-ticker.C:
			runOnce()
		}
	}
}

func writeExport(ctx context.Context, store *gormrepository.Store, log *zap.Logger, path string) error {
	exportSvc := &service.ExportService{Store: store, Logger: log}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if strings.HasSuffix(path, ".json") {
		return exportSvc.WriteSnapshotJSON(ctx, f)
	}
	return exportSvc.WriteWorkbook(ctx, f)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
