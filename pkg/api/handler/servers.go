package handler

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/dto"
	"github.com/praxis-agent/praxis/pkg/api/service"
	"github.com/praxis-agent/praxis/pkg/mcp"
)

// maxToolCallBody bounds tool-call payloads read off the wire.
const maxToolCallBody = 4 << 20

// ServerHandler serves the tool server registry and tool dispatch.
type ServerHandler struct {
	svc *service.Mediation
}

// NewServerHandler creates a new ServerHandler.
func NewServerHandler(svc *service.Mediation) *ServerHandler {
	return &ServerHandler{svc: svc}
}

// List godoc
// @Summary      List tool servers
// @Description  Returns the registered tool servers
// @Tags         servers
// @Produce      json
// @Success      200 {array} mcp.ServerConfig
// @Router       /api/v1/servers [get]
func (h *ServerHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"servers": h.svc.Servers()})
}

// Register godoc
// @Summary      Register a tool server
// @Description  Add a tool server to the registry; the connection is opened lazily
// @Tags         servers
// @Accept       json
// @Produce      json
// @Param        request body mcp.ServerConfig true "Server config"
// @Success      201 {object} mcp.ServerConfig
// @Failure      400 {object} dto.ErrorResponse
// @Failure      409 {object} dto.ErrorResponse
// @Router       /api/v1/servers [post]
func (h *ServerHandler) Register(c *gin.Context) {
	var cfg mcp.ServerConfig
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.svc.RegisterServer(c.Request.Context(), cfg); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cfg)
}

// Unregister godoc
// @Summary      Remove a tool server
// @Description  Remove a tool server and close its connection
// @Tags         servers
// @Produce      json
// @Param        id path string true "Server ID"
// @Success      200 {object} dto.DeleteResponse
// @Failure      404 {object} dto.ErrorResponse
// @Router       /api/v1/servers/{id} [delete]
func (h *ServerHandler) Unregister(c *gin.Context) {
	if err := h.svc.UnregisterServer(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.DeleteResponse{Deleted: true})
}

// Tools godoc
// @Summary      List a server's tools
// @Description  Fetch the tools one server exposes
// @Tags         servers
// @Produce      json
// @Param        id path string true "Server ID"
// @Success      200 {array} mcp.Tool
// @Failure      404 {object} dto.ErrorResponse
// @Failure      502 {object} dto.ErrorResponse
// @Router       /api/v1/servers/{id}/tools [get]
func (h *ServerHandler) Tools(c *gin.Context) {
	tools, err := h.svc.Tools(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tools": tools})
}

// Call godoc
// @Summary      Call a tool
// @Description  Dispatch a tool_call payload through the permission gate to its server
// @Tags         servers
// @Accept       json
// @Produce      json
// @Param        request body object true "tool_call payload"
// @Success      200 {object} mcp.CallResult
// @Failure      400 {object} dto.ErrorResponse
// @Failure      403 {object} dto.ErrorResponse
// @Failure      502 {object} dto.ErrorResponse
// @Failure      504 {object} dto.ErrorResponse
// @Router       /api/v1/tools/call [post]
func (h *ServerHandler) Call(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxToolCallBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "failed to read request body"})
		return
	}

	res, err := h.svc.CallToolWire(c.Request.Context(), payload)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
