package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/dto"
	"github.com/praxis-agent/praxis/pkg/api/service"
	"github.com/praxis-agent/praxis/pkg/policy"
)

// PermissionHandler serves permission checks and rule management.
type PermissionHandler struct {
	svc *service.Mediation
}

// NewPermissionHandler creates a new PermissionHandler.
func NewPermissionHandler(svc *service.Mediation) *PermissionHandler {
	return &PermissionHandler{svc: svc}
}

// Check godoc
// @Summary      Check a permission
// @Description  Evaluate the policy for an action without executing it
// @Tags         permission
// @Accept       json
// @Produce      json
// @Param        request body dto.CheckPermissionRequest true "Permission query"
// @Success      200 {object} dto.CheckPermissionResponse
// @Failure      400 {object} dto.ErrorResponse
// @Router       /api/v1/permission/check [post]
func (h *PermissionHandler) Check(c *gin.Context) {
	var req dto.CheckPermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	action := h.svc.CheckPermission(c.Request.Context(), policy.Query{
		Tool:    req.Tool,
		Path:    req.Path,
		Command: req.Command,
	})
	c.JSON(http.StatusOK, dto.CheckPermissionResponse{Action: string(action)})
}

// Rules godoc
// @Summary      List permission rules
// @Description  Returns the merged defaults and rules the engine evaluates
// @Tags         permission
// @Produce      json
// @Success      200 {object} policy.Set
// @Router       /api/v1/permission/rules [get]
func (h *PermissionHandler) Rules(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.RulesSnapshot())
}

// AddRule godoc
// @Summary      Add a permission rule
// @Description  Append a rule to the project layer and persist it
// @Tags         permission
// @Accept       json
// @Produce      json
// @Param        request body policy.Rule true "Rule"
// @Success      201 {object} policy.Rule
// @Failure      400 {object} dto.ErrorResponse
// @Router       /api/v1/permission/rules [post]
func (h *PermissionHandler) AddRule(c *gin.Context) {
	var rule policy.Rule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.AddRule(rule); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rule)
}

// RemoveRule godoc
// @Summary      Remove a permission rule
// @Description  Remove a project-layer rule by index and persist
// @Tags         permission
// @Produce      json
// @Param        index path int true "Project rule index"
// @Success      200 {object} dto.DeleteResponse
// @Failure      400 {object} dto.ErrorResponse
// @Router       /api/v1/permission/rules/{index} [delete]
func (h *PermissionHandler) RemoveRule(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "index must be an integer"})
		return
	}

	if err := h.svc.RemoveRule(index); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResponse{Deleted: true})
}

// SetDefault godoc
// @Summary      Set a tool's default action
// @Description  Set the project-layer default for a tool and persist
// @Tags         permission
// @Accept       json
// @Produce      json
// @Param        tool path string true "Tool name"
// @Param        request body dto.SetDefaultRequest true "Default action"
// @Success      200 {object} dto.AckResponse
// @Failure      400 {object} dto.ErrorResponse
// @Router       /api/v1/permission/defaults/{tool} [put]
func (h *PermissionHandler) SetDefault(c *gin.Context) {
	var req dto.SetDefaultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.SetDefault(c.Param("tool"), policy.Action(req.Action)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.AckResponse{Status: "ok"})
}
