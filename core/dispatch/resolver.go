package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/core/monitoring"
)

// Resolver settles accept and decline calls against the ledger.
type Resolver struct {
	store ledger.OfferStore
	pub   events.Publisher
	log   logger.Logger
	now   func() time.Time
}

// NewResolver returns a Resolver. A nil publisher discards events.
func NewResolver(store ledger.OfferStore, pub events.Publisher, log logger.Logger) *Resolver {
	if pub == nil {
		pub = events.Discard
	}
	return &Resolver{store: store, pub: pub, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Accept claims the move behind offerID for moverID. Exactly one accept per
// move succeeds; later ones fail with model.ErrRaceLost even when their own
// offer still reads pending. When moveID is empty the offer's move is used.
func (r *Resolver) Accept(ctx context.Context, offerID, moveID, moverID string) (ledger.ClaimResult, error) {
	if offerID == "" || moverID == "" {
		return ledger.ClaimResult{}, fmt.Errorf("%w: offer and mover ids are required", model.ErrValidation)
	}
	if moveID == "" {
		o, err := r.store.GetOffer(ctx, offerID)
		if err != nil {
			claimOutcomes.WithLabelValues(outcomeLabel(err)).Inc()
			return ledger.ClaimResult{}, err
		}
		moveID = o.MoveID
	}

	now := r.now()
	res, err := r.store.Claim(ctx, offerID, moveID, moverID, now)
	claimOutcomes.WithLabelValues(outcomeLabel(err)).Inc()
	if err != nil {
		if expected(err) {
			r.log.Infof("accept of offer %s by %s rejected: %v", offerID, moverID, err)
		} else {
			r.log.Errorf("accept of offer %s by %s failed: %v", offerID, moverID, err)
			monitoring.CaptureException(err, map[string]string{"op": "accept", "move_id": moveID, "offer_id": offerID})
		}
		return ledger.ClaimResult{}, err
	}
	if res.Replayed {
		r.log.Debugf("offer %s already accepted by %s", offerID, moverID)
		return res, nil
	}

	claimLatency.Observe(now.Sub(res.Offer.SentAt).Seconds())
	offersClosed.WithLabelValues(string(model.CloseBySystem)).Add(float64(len(res.Declined)))
	r.pub.Publish(events.MoveAssigned(res.Move, now))
	for _, o := range res.Declined {
		r.pub.Publish(events.OfferClosed(o, now))
	}
	r.log.Infof("move %s assigned to %s via offer %s, %d siblings declined", moveID, moverID, offerID, len(res.Declined))
	return res, nil
}

// Decline marks a single offer declined. It never affects siblings or the move.
func (r *Resolver) Decline(ctx context.Context, offerID, moverID string) (model.Offer, error) {
	if offerID == "" || moverID == "" {
		return model.Offer{}, fmt.Errorf("%w: offer and mover ids are required", model.ErrValidation)
	}
	o, err := r.store.DeclineOffer(ctx, offerID, moverID, r.now())
	if err != nil {
		if !expected(err) && !errors.Is(err, model.ErrValidation) {
			r.log.Errorf("decline of offer %s by %s failed: %v", offerID, moverID, err)
		}
		return model.Offer{}, err
	}
	offersClosed.WithLabelValues(string(model.CloseByMover)).Inc()
	r.log.Debugf("offer %s declined by %s", offerID, moverID)
	return o, nil
}

func expected(err error) bool {
	return errors.Is(err, model.ErrRaceLost) || errors.Is(err, model.ErrExpired) || errors.Is(err, model.ErrNotFound)
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, model.ErrRaceLost):
		return "already_taken"
	case errors.Is(err, model.ErrExpired):
		return "expired"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
