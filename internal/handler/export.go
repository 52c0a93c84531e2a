package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"investsync/internal/service"
)

type ExportHandler struct {
	Export *service.ExportService
}

func (h *ExportHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/export")
	group.GET("/xlsx", h.workbook)
	group.GET("/json", h.snapshot)
}

func (h *ExportHandler) workbook(c *gin.Context) {
	if h.Export == nil {
		Error(c, http.StatusInternalServerError, "export service unavailable", nil)
		return
	}
	name := fmt.Sprintf("investsync-%s.xlsx", time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", "attachment; filename="+name)
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	if err := h.Export.WriteWorkbook(c.Request.Context(), c.Writer); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
}

func (h *ExportHandler) snapshot(c *gin.Context) {
	if h.Export == nil {
		Error(c, http.StatusInternalServerError, "export service unavailable", nil)
		return
	}
	c.Header("Content-Type", "application/json")
	if err := h.Export.WriteSnapshotJSON(c.Request.Context(), c.Writer); err != nil {
		Error(c, http.StatusInternalServerError, err.Error(), nil)
		return
	}
}
