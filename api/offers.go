package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kilianp07/movedispatch/api/middleware"
	"github.com/kilianp07/movedispatch/core/model"
)

// openOffers is the poll path of the delivery channel.
func (h *handler) openOffers(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	now := h.Now()
	offers, err := h.Store.ListOpenOffers(c.Request.Context(), id.UserID, now)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if offers == nil {
		offers = []model.Offer{}
	}
	c.JSON(http.StatusOK, gin.H{"offers": offers, "server_time": now.UTC()})
}

type acceptRequest struct {
	MoveID string `json:"move_id"`
}

func (h *handler) accept(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req acceptRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, err)
			return
		}
	}
	res, err := h.Resolver.Accept(c.Request.Context(), c.Param("id"), req.MoveID, id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) decline(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	o, err := h.Resolver.Decline(c.Request.Context(), c.Param("id"), id.UserID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
