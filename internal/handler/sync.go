package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"investsync/internal/repository"
	"investsync/internal/service"
)

type SyncHandler struct {
	Repo         repository.Repository
	Orchestrator *service.Orchestrator
}

func (h *SyncHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/sync")
	group.POST("/run", h.runFull)
	group.POST("/forecasts", h.runForecasts)
	group.POST("/prices", h.runPrices)
	group.POST("/potentials", h.runPotentials)
	group.POST("/prune", h.runPrune)
	group.GET("/state", h.state)
}

func (h *SyncHandler) runFull(c *gin.Context) {
	if h.Orchestrator == nil {
		Error(c, http.StatusInternalServerError, "orchestrator unavailable", nil)
		return
	}
	opts := service.RunOptions{
		Mode:        strings.TrimSpace(c.Query("mode")),
		Concurrent:  boolQuery(c, "concurrent", true),
		Concurrency: intQuery(c, "concurrency", 0),
	}
	if timeout := intQuery(c, "timeout_sec", 0); timeout > 0 {
		opts.Timeout = time.Duration(timeout) * time.Second
	}
	report := h.Orchestrator.RunFull(c.Request.Context(), opts)
	Ok(c, report, nil)
}

func (h *SyncHandler) runForecasts(c *gin.Context) {
	if h.Orchestrator == nil || h.Orchestrator.Forecasts == nil {
		Error(c, http.StatusInternalServerError, "forecast sync unavailable", nil)
		return
	}
	opts := service.RefreshOptions{
		Concurrency: intQuery(c, "concurrency", 0),
	}
	if uids := strings.TrimSpace(c.Query("uids")); uids != "" {
		opts.UIDs = strings.Split(uids, ",")
	}
	var result service.RefreshResult
	var err error
	if boolQuery(c, "concurrent", true) {
		result, err = h.Orchestrator.Forecasts.RefreshAllConcurrent(c.Request.Context(), opts)
	} else {
		result, err = h.Orchestrator.Forecasts.RefreshAll(c.Request.Context(), opts)
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), map[string]any{"partial": result})
		return
	}
	Ok(c, result, nil)
}

func (h *SyncHandler) runPrices(c *gin.Context) {
	if h.Orchestrator == nil || h.Orchestrator.Prices == nil {
		Error(c, http.StatusInternalServerError, "price sync unavailable", nil)
		return
	}
	mode := strings.TrimSpace(c.Query("mode"))
	var result service.PriceSyncResult
	var err error
	if mode == "ensure" {
		result, err = h.Orchestrator.Prices.EnsureFullCoverage(c.Request.Context())
	} else {
		result, err = h.Orchestrator.Prices.DailyUpdateAll(c.Request.Context())
	}
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *SyncHandler) runPotentials(c *gin.Context) {
	if h.Orchestrator == nil || h.Orchestrator.Potentials == nil {
		Error(c, http.StatusInternalServerError, "potential service unavailable", nil)
		return
	}
	result, err := h.Orchestrator.Potentials.ComputeAll(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *SyncHandler) runPrune(c *gin.Context) {
	if h.Orchestrator == nil || h.Orchestrator.Pruner == nil {
		Error(c, http.StatusInternalServerError, "pruner unavailable", nil)
		return
	}
	result, err := h.Orchestrator.Pruner.PruneHistory(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *SyncHandler) state(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	scopes := []string{"forecasts", "prices", "prices_backfill", "potentials", "prune"}
	if scope := strings.TrimSpace(c.Query("scope")); scope != "" {
		scopes = []string{scope}
	}
	states := make(map[string]any, len(scopes))
	for _, scope := range scopes {
		state, err := h.Repo.GetSyncState(c.Request.Context(), scope)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if state != nil {
			states[scope] = state
		}
	}
	Ok(c, states, nil)
}
