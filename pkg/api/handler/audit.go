package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/dto"
	"github.com/praxis-agent/praxis/pkg/api/service"
)

const defaultAuditLimit = 100

// AuditHandler serves the audit trail.
type AuditHandler struct {
	svc *service.Mediation
}

// NewAuditHandler creates a new AuditHandler.
func NewAuditHandler(svc *service.Mediation) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// List godoc
// @Summary      Read the audit trail
// @Description  Returns recent audit records, oldest first
// @Tags         audit
// @Produce      json
// @Param        limit query int false "Max records (default 100)"
// @Success      200 {array} types.AuditRecord
// @Router       /api/v1/audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	limit := defaultAuditLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "limit must be a non-negative integer"})
			return
		}
		limit = parsed
	}

	records, err := h.svc.Audit(c.Request.Context(), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}
