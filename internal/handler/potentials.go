package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"investsync/internal/repository"
)

type PotentialHandler struct {
	Repo repository.Repository
}

func (h *PotentialHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/potentials")
	group.GET("", h.top)
	group.GET("/:uid", h.latest)
}

func (h *PotentialHandler) top(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	maxAgeDate := ""
	if days := intQuery(c, "max_age_days", 0); days > 0 {
		maxAgeDate = time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02")
	}
	items, err := h.Repo.ListTopPotentials(c.Request.Context(), limit, maxAgeDate)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

func (h *PotentialHandler) latest(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	uid := strings.TrimSpace(c.Param("uid"))
	item, err := h.Repo.LatestPotential(c.Request.Context(), uid)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "no potential recorded for instrument", nil)
		return
	}
	Ok(c, item, nil)
}
