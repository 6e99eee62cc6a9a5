package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/dto"
	"github.com/praxis-agent/praxis/pkg/api/service"
)

// ConfirmationHandler serves the operator confirmation channel.
type ConfirmationHandler struct {
	svc *service.Mediation
}

// NewConfirmationHandler creates a new ConfirmationHandler.
func NewConfirmationHandler(svc *service.Mediation) *ConfirmationHandler {
	return &ConfirmationHandler{svc: svc}
}

// Stream godoc
// @Summary      Confirmation event stream
// @Description  Server-Sent Events stream of pending confirmation requests
// @Tags         confirmations
// @Produce      text/event-stream
// @Router       /api/v1/confirmations [get]
func (h *ConfirmationHandler) Stream(c *gin.Context) {
	// Set SSE headers
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	// Send initial connected event
	_, _ = c.Writer.Write([]byte("event: connected\ndata: {}\n\n"))
	c.Writer.(http.Flusher).Flush()

	sent := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pending := h.svc.PendingConfirmations()
			current := make(map[string]bool, len(pending))
			wrote := false

			for _, req := range pending {
				current[req.ID] = true
				if sent[req.ID] {
					continue
				}
				data, err := json.Marshal(req)
				if err != nil {
					continue
				}
				_, _ = c.Writer.Write([]byte("event: confirmation\ndata: " + string(data) + "\n\n"))
				sent[req.ID] = true
				wrote = true
			}

			// Answered or expired requests drop out of the pending set;
			// tell the client so it can dismiss the prompt.
			for id := range sent {
				if !current[id] {
					_, _ = c.Writer.Write([]byte("event: resolved\ndata: {\"id\":\"" + id + "\"}\n\n"))
					delete(sent, id)
					wrote = true
				}
			}

			if wrote {
				c.Writer.(http.Flusher).Flush()
			}
		}
	}
}

// Respond godoc
// @Summary      Answer a confirmation
// @Description  Approve or deny a pending confirmation request
// @Tags         confirmations
// @Accept       json
// @Produce      json
// @Param        id path string true "Confirmation ID"
// @Param        request body dto.ConfirmResponseRequest true "Decision"
// @Success      200 {object} dto.AckResponse
// @Failure      400 {object} dto.ErrorResponse
// @Failure      404 {object} dto.ErrorResponse
// @Router       /api/v1/confirmations/{id} [post]
func (h *ConfirmationHandler) Respond(c *gin.Context) {
	var req dto.ConfirmResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.RespondConfirmation(c.Param("id"), req.Approved, req.Always); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{Status: "ok"})
}
