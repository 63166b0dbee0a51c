package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"autoprint/internal/core"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// respondError maps the service-layer error taxonomy onto HTTP. Invalid
// transitions and stale updates are conflicts, not server faults.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrJobNotFound),
		errors.Is(err, core.ErrUPIDNotFound),
		errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, core.ErrUPIDFormat):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_upid",
			Message: err.Error(),
		})
	case errors.Is(err, core.ErrUPIDUsed):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "upid_used",
			Message: err.Error(),
		})
	case errors.Is(err, core.ErrUPIDExhausted):
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "upid_exhausted",
			Message: err.Error(),
		})
	case errors.Is(err, core.ErrStaleUpdate):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "stale_update",
			Message: err.Error(),
		})
	case errors.Is(err, core.ErrNotOwner):
		c.JSON(http.StatusForbidden, ErrorResponse{
			Error:   "not_owner",
			Message: err.Error(),
		})
	case errors.Is(err, core.ErrDocumentInUse):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "document_in_use",
			Message: err.Error(),
		})
	case core.IsInvalidTransition(err):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "invalid_transition",
			Message: err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: err.Error(),
		})
	}
}
