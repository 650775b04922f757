package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/kilianp07/movedispatch/api/middleware"
	"github.com/kilianp07/movedispatch/auth"
	"github.com/kilianp07/movedispatch/core/classify"
	"github.com/kilianp07/movedispatch/core/model"
)

const defaultCurrency = "EUR"

type classifyRequest struct {
	Selections  map[string]int        `json:"selections"`
	CustomItems []classify.CustomItem `json:"custom_items"`
	CurrentTier model.Tier            `json:"current_tier"`
}

func (h *handler) classify(c *gin.Context) {
	var req classifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, h.Rules.Classify(req.Selections, req.CustomItems, req.CurrentTier))
}

type createMoveRequest struct {
	Category      model.Category        `json:"category"`
	ScheduledAt   *time.Time            `json:"scheduled_at"`
	Pickup        model.Place           `json:"pickup"`
	Dropoff       model.Place           `json:"dropoff"`
	Tier          model.Tier            `json:"tier"`
	Selections    map[string]int        `json:"selections"`
	CustomItems   []classify.CustomItem `json:"custom_items"`
	AcceptUpgrade bool                  `json:"accept_upgrade"`
	Price         decimal.Decimal       `json:"price"`
	Currency      string                `json:"currency"`
}

// createMove classifies the inventory and stores a requested move. When the
// inventory needs a higher tier than the one chosen, the client must resend
// with accept_upgrade set.
func (h *handler) createMove(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req createMoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	if req.Tier != "" && !req.Tier.Valid() {
		h.writeError(c, fmt.Errorf("%w: unknown tier %q", model.ErrValidation, req.Tier))
		return
	}

	res := h.Rules.Classify(req.Selections, req.CustomItems, req.Tier)
	tier := res.RecommendedTier
	if req.Tier != "" {
		if res.RequiresUpgrade && !req.AcceptUpgrade {
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{
				"error":          "upgrade_required",
				"message":        fmt.Sprintf("inventory requires tier %s, accept the upgrade to continue", res.UpgradeTo),
				"classification": res,
			})
			return
		}
		tier = model.MaxTier(req.Tier, res.RecommendedTier)
	}
	snap := res.Snapshot()
	snap.Tier = tier

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	now := h.Now().UTC()
	mv := model.Move{
		ID:             h.NewID(),
		ClientID:       id.UserID,
		Status:         model.PhaseRequested,
		Category:       req.Category,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		Classification: snap,
		Price:          req.Price,
		Currency:       currency,
		ScheduledAt:    req.ScheduledAt,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := mv.Validate(); err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.Store.CreateMove(c.Request.Context(), mv); err != nil {
		h.writeError(c, err)
		return
	}
	h.Log.Infof("move %s requested by %s, tier %s", mv.ID, mv.ClientID, tier)
	c.JSON(http.StatusCreated, gin.H{"move": mv, "classification": res})
}

// visibleMove loads the move when the caller may read it: its client, its
// assigned mover, or a dispatcher.
func (h *handler) visibleMove(c *gin.Context) (model.Move, bool) {
	id, _ := middleware.IdentityFrom(c)
	mv, err := h.Store.GetMove(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return model.Move{}, false
	}
	if id.Role != auth.RoleDispatcher && !mv.Participant(id.UserID) {
		h.writeError(c, fmt.Errorf("%w: move %s", model.ErrForbidden, mv.ID))
		return model.Move{}, false
	}
	return mv, true
}

func (h *handler) getMove(c *gin.Context) {
	mv, ok := h.visibleMove(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, mv)
}

func (h *handler) history(c *gin.Context) {
	mv, ok := h.visibleMove(c)
	if !ok {
		return
	}
	trs, err := h.Machine.History(c.Request.Context(), mv.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"move_id": mv.ID, "status": mv.Status, "history": trs})
}

type broadcastRequest struct {
	Candidates []string `json:"candidates"`
}

func (h *handler) broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	offers, err := h.Broadcaster.Broadcast(c.Request.Context(), c.Param("id"), req.Candidates)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"offers": offers})
}

type advanceRequest struct {
	From string `json:"from"`
	Note string `json:"note"`
}

func (h *handler) advance(c *gin.Context) {
	id, _ := middleware.IdentityFrom(c)
	var req advanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return
	}
	from, err := model.ParsePhase(req.From)
	if err != nil {
		h.writeError(c, err)
		return
	}
	mv, err := h.Machine.Advance(c.Request.Context(), c.Param("id"), id.UserID, from, req.Note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mv)
}

type noteRequest struct {
	Note string `json:"note"`
}

// bindNote reads an optional {"note"} body.
func (h *handler) bindNote(c *gin.Context) (string, bool) {
	var req noteRequest
	if c.Request.ContentLength == 0 {
		return "", true
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, err)
		return "", false
	}
	return req.Note, true
}

func (h *handler) cancel(c *gin.Context) {
	h.terminate(c, h.Machine.Cancel)
}

func (h *handler) dispute(c *gin.Context) {
	h.terminate(c, h.Machine.Dispute)
}

func (h *handler) terminate(c *gin.Context, op func(ctx context.Context, moveID, actor, note string) (model.Move, error)) {
	id, _ := middleware.IdentityFrom(c)
	note, ok := h.bindNote(c)
	if !ok {
		return
	}
	mv, err := op(c.Request.Context(), c.Param("id"), id.UserID, note)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, mv)
}
