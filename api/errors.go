package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/movedispatch/core/model"
)

const unavailable = "offer no longer available"

// writeError maps a service error onto a status code and a stable error code.
func (h *handler) writeError(c *gin.Context, err error) {
	status, code, msg := http.StatusInternalServerError, "internal", "internal error"
	switch {
	case errors.Is(err, model.ErrValidation):
		status, code, msg = http.StatusBadRequest, "validation", err.Error()
	case errors.Is(err, model.ErrForbidden):
		status, code, msg = http.StatusForbidden, "forbidden", err.Error()
	case errors.Is(err, model.ErrNotFound):
		status, code, msg = http.StatusNotFound, "not_found", err.Error()
	case errors.Is(err, model.ErrRaceLost):
		status, code, msg = http.StatusConflict, "already_taken", unavailable
	case errors.Is(err, model.ErrExpired):
		status, code, msg = http.StatusConflict, "expired", unavailable
	case errors.Is(err, model.ErrInvalidTransition):
		status, code, msg = http.StatusConflict, "invalid_transition", err.Error()
	default:
		h.Log.Errorf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": code, "message": msg})
}

func (h *handler) badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "validation", "message": err.Error()})
}
