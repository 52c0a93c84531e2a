package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"investsync/internal/repository"
	"investsync/internal/service"
)

type InstrumentHandler struct {
	Repo        repository.Repository
	Instruments *service.InstrumentSyncService
}

func (h *InstrumentHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/instruments")
	group.GET("", h.list)
	group.GET("/:uid", h.get)
	group.POST("", h.add)
	group.POST("/enrich", h.enrich)
	group.DELETE("/:uid", h.remove)
}

func (h *InstrumentHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	items, err := h.Repo.ListInstruments(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, map[string]any{"total": len(items)})
}

func (h *InstrumentHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	uid := strings.TrimSpace(c.Param("uid"))
	item, err := h.Repo.GetInstrument(c.Request.Context(), uid)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "instrument not found", nil)
		return
	}
	Ok(c, item, nil)
}

type addInstrumentRequest struct {
	Query string `json:"query" binding:"required"`
}

func (h *InstrumentHandler) add(c *gin.Context) {
	if h.Instruments == nil {
		Error(c, http.StatusInternalServerError, "instrument service unavailable", nil)
		return
	}
	var req addInstrumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	item, err := h.Instruments.AddInstrument(c.Request.Context(), req.Query)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *InstrumentHandler) enrich(c *gin.Context) {
	if h.Instruments == nil {
		Error(c, http.StatusInternalServerError, "instrument service unavailable", nil)
		return
	}
	result, err := h.Instruments.EnrichAll(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, nil)
}

func (h *InstrumentHandler) remove(c *gin.Context) {
	if h.Instruments == nil {
		Error(c, http.StatusInternalServerError, "instrument service unavailable", nil)
		return
	}
	uid := strings.TrimSpace(c.Param("uid"))
	if uid == "" {
		Error(c, http.StatusBadRequest, "uid is required", nil)
		return
	}
	if err := h.Instruments.Remove(c.Request.Context(), uid); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"deleted": uid}, nil)
}
