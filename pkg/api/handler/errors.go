package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/praxis-agent/praxis/pkg/api/dto"
	"github.com/praxis-agent/praxis/pkg/confirm"
	"github.com/praxis-agent/praxis/pkg/mcp"
	"github.com/praxis-agent/praxis/pkg/mediator"
	"github.com/praxis-agent/praxis/pkg/patch"
	"github.com/praxis-agent/praxis/pkg/store"
	"github.com/praxis-agent/praxis/pkg/types"
)

// writeError maps domain errors onto HTTP status codes. Anything
// unrecognized is a 500.
func writeError(c *gin.Context, err error) {
	var (
		validationErr *types.ValidationError
		deniedErr     *mediator.PermissionDeniedError
		conflictErr   *patch.ConflictError
		timeoutErr    *mcp.TimeoutError
		transportErr  *mcp.TransportError
		execErr       *mcp.ToolExecutionError
		journalErr    *store.JournalWriteError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &deniedErr):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, mediator.ErrConfirmRequired):
		// No confirmation channel is wired; the caller must retry once
		// one is, so this is not a hard failure.
		c.JSON(http.StatusAccepted, dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &conflictErr):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error(), Conflicts: conflictErr.Conflicts})
	case errors.Is(err, patch.ErrNotARepo):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, mcp.ErrDuplicateServer), errors.Is(err, confirm.ErrAlreadyAnswered):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, mcp.ErrServerNotFound), errors.Is(err, confirm.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &timeoutErr):
		c.JSON(http.StatusGatewayTimeout, dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &transportErr), errors.As(err, &execErr):
		c.JSON(http.StatusBadGateway, dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &journalErr):
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: err.Error()})
	}
}
