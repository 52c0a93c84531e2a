package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"investsync/internal/client/moex"
	"investsync/internal/client/tbank"
	"investsync/internal/config"
	cronrunner "investsync/internal/cron"
	"investsync/internal/db"
	"investsync/internal/handler"
	"investsync/internal/logger"
	gormrepository "investsync/internal/repository/gorm"
	"investsync/internal/service"
)

func main() {
	cfgPath := os.Getenv("INVEST_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("INVEST_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	brokerClient := tbank.New(cfg.Broker, logger)
	exchangeClient := moex.New(cfg.Exchange, logger)
	store := gormrepository.New(dbConn.Gorm)

	forecastSvc := &service.ForecastSyncService{
		Store:  store,
		Broker: brokerClient,
		Logger: logger,
		Config: cfg.Forecasts,
	}
	priceSvc := &service.PriceSyncService{
		Store:     store,
		Exchange:  exchangeClient,
		Logger:    logger,
		Config:    cfg.Prices,
		Retention: cfg.Retention,
		Board:     cfg.Exchange.Board,
	}
	potentialSvc := &service.PotentialService{
		Store:  store,
		Logger: logger,
		Config: cfg.Potential,
	}
	prunerSvc := &service.PrunerService{
		Store:  store,
		Logger: logger,
		Config: cfg.Retention,
	}
	instrumentSvc := &service.InstrumentSyncService{
		Store:     store,
		Broker:    brokerClient,
		Forecasts: forecastSvc,
		Logger:    logger,
		AutoFetch: cfg.Forecasts.AutoFetchOnAdd,
	}
	exportSvc := &service.ExportService{Store: store, Logger: logger}
	orchestrator := &service.Orchestrator{
		Forecasts:   forecastSvc,
		Prices:      priceSvc,
		Potentials:  potentialSvc,
		Pruner:      prunerSvc,
		Instruments: instrumentSvc,
		Logger:      logger,
	}

	if !brokerClient.HasCredentials() {
		logger.Warn("no broker token configured, forecast stages will be skipped")
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	instrumentHandler := &handler.InstrumentHandler{Repo: store, Instruments: instrumentSvc}
	instrumentHandler.Register(engine)
	syncHandler := &handler.SyncHandler{Repo: store, Orchestrator: orchestrator}
	syncHandler.Register(engine)
	potentialHandler := &handler.PotentialHandler{Repo: store}
	potentialHandler.Register(engine)
	exportHandler := &handler.ExportHandler{Export: exportSvc}
	exportHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		_, err = cronRunner.Add(cfg.Cron.FullSync, func(ctx context.Context) {
			report := orchestrator.RunFull(ctx, service.RunOptions{
				Mode:       "both",
				Concurrent: true,
				Timeout:    cfg.Forecasts.BatchTimeout,
			})
			logger.Info("cron full sync finished",
				zap.String("run_id", report.RunID),
				zap.Int("stages", len(report.Stages)))
		})
		if err != nil {
			logger.Warn("cron register full sync failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	// Backfill bars for securities added while the service was down, so the
	// first potential computation has prices to work with.
	go func() {
		result, err := priceSvc.EnsureFullCoverage(ctx)
		if err != nil {
			logger.Warn("initial price backfill failed (continuing)", zap.Error(err))
			return
		}
		if result.BarsInserted > 0 {
			logger.Info("initial price backfill complete",
				zap.Int("bars", result.BarsInserted),
				zap.Int("instruments", result.Instruments))
		}
	}()

	errCh := make(chan error, 2)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
