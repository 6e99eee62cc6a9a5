package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/dto"
	"github.com/praxis-agent/praxis/pkg/api/service"
)

// PatchHandler serves diff sanitization, dry runs, applies and reverts.
type PatchHandler struct {
	svc *service.Mediation
}

// NewPatchHandler creates a new PatchHandler.
func NewPatchHandler(svc *service.Mediation) *PatchHandler {
	return &PatchHandler{svc: svc}
}

// DryRun godoc
// @Summary      Dry-run a patch
// @Description  Check whether a diff applies cleanly without touching the work tree
// @Tags         patch
// @Accept       json
// @Produce      json
// @Param        request body dto.PatchRequest true "Unified diff"
// @Success      200 {object} patch.DryRunResult
// @Failure      400 {object} dto.ErrorResponse
// @Failure      409 {object} dto.ErrorResponse
// @Router       /api/v1/patch/dry-run [post]
func (h *PatchHandler) DryRun(c *gin.Context) {
	var req dto.PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	res, err := h.svc.DryRun(c.Request.Context(), req.Diff)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Apply godoc
// @Summary      Apply a patch
// @Description  Apply a diff to the work tree through the permission gate
// @Tags         patch
// @Accept       json
// @Produce      json
// @Param        request body dto.PatchRequest true "Unified diff"
// @Success      200 {object} dto.AppliedResponse
// @Failure      400 {object} dto.ErrorResponse
// @Failure      403 {object} dto.ErrorResponse
// @Failure      409 {object} dto.ErrorResponse
// @Router       /api/v1/patch/apply [post]
func (h *PatchHandler) Apply(c *gin.Context) {
	var req dto.PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.Apply(c.Request.Context(), req.Diff); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AppliedResponse{Applied: true})
}

// Revert godoc
// @Summary      Revert a patch
// @Description  Reverse-apply a previously applied diff
// @Tags         patch
// @Accept       json
// @Produce      json
// @Param        request body dto.PatchRequest true "Unified diff"
// @Success      200 {object} dto.AppliedResponse
// @Failure      400 {object} dto.ErrorResponse
// @Failure      403 {object} dto.ErrorResponse
// @Failure      409 {object} dto.ErrorResponse
// @Router       /api/v1/patch/revert [post]
func (h *PatchHandler) Revert(c *gin.Context) {
	var req dto.PatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.Revert(c.Request.Context(), req.Diff); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AppliedResponse{Applied: true})
}

// RevertLast godoc
// @Summary      Revert the last patch
// @Description  Undo the newest journaled apply that has not been reverted yet
// @Tags         patch
// @Produce      json
// @Success      200 {object} dto.RevertedResponse
// @Failure      409 {object} dto.ErrorResponse
// @Router       /api/v1/patch/revert-last [post]
func (h *PatchHandler) RevertLast(c *gin.Context) {
	reverted, err := h.svc.RevertLast(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.RevertedResponse{Reverted: reverted})
}

// GenerateDiff godoc
// @Summary      Generate a diff
// @Description  Build a unified diff between two versions of one file
// @Tags         patch
// @Accept       json
// @Produce      json
// @Param        request body dto.GenerateDiffRequest true "File contents"
// @Success      200 {object} dto.DiffResponse
// @Failure      400 {object} dto.ErrorResponse
// @Router       /api/v1/patch/diff [post]
func (h *PatchHandler) GenerateDiff(c *gin.Context) {
	var req dto.GenerateDiffRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	diff, preview, err := h.svc.GenerateDiff(req.Path, req.OldContent, req.NewContent)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DiffResponse{
		Diff:    string(diff),
		Files:   preview.Files,
		Added:   preview.Added,
		Removed: preview.Removed,
	})
}

// Journal godoc
// @Summary      Read the patch journal
// @Description  Returns the apply/revert journal, oldest first
// @Tags         patch
// @Produce      json
// @Success      200 {array} types.JournalEntry
// @Router       /api/v1/journal [get]
func (h *PatchHandler) Journal(c *gin.Context) {
	entries := h.svc.Journal(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}
