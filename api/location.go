package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/movedispatch/api/middleware"
	"github.com/kilianp07/movedispatch/core/model"
)

type locationRequest struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading"`
	Speed      *float64  `json:"speed"`
	RecordedAt time.Time `json:"recorded_at"`
}

func (h *handler) emitLocation(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	ack, err := h.Tracking.Emit(c.Request.Context(), model.LocationSample{
		MoverID:    id.UserID,
		Lat:        req.Lat,
		Lng:        req.Lng,
		Heading:    req.Heading,
		Speed:      req.Speed,
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ack)
}

func (h *handler) moverLocation(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	mover := c.Param("id")
	ok, err := h.Tracking.CanView(c.Request.Context(), id.UserID, mover)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !ok {
		h.writeError(c, fmt.Errorf("%w: location of %s", model.ErrForbidden, mover))
		return
	}
	s, err := h.Tracking.Latest(c.Request.Context(), mover)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}
