package ledger

import (
	"fmt"
	"time"

	"github.com/kilianp07/movedispatch/core/model"
)

// ClaimOutcome is the verdict of EvaluateClaim.
type ClaimOutcome int

const (
	// ClaimProceed means the conditional move write should be attempted.
	ClaimProceed ClaimOutcome = iota
	// ClaimReplay means the caller already owns the move.
	ClaimReplay
	// ClaimLazyExpire means the offer must be marked expired and the
	// claim rejected with ErrExpired.
	ClaimLazyExpire
)

// EvaluateClaim applies the claim rules to the current offer and move. The
// check is keyed on the move: once it is assigned every other claim loses,
// whatever the caller's offer still says.
func EvaluateClaim(o model.Offer, m model.Move, moveID, moverID string, now time.Time) (ClaimOutcome, error) {
	if o.MoveID != moveID || o.MoverID != moverID {
		return 0, fmt.Errorf("%w: offer %s", model.ErrNotFound, o.ID)
	}
	if o.Status == model.OfferAccepted && m.AssignedMover == moverID {
		return ClaimReplay, nil
	}
	if m.AssignedMover != "" || m.Status != model.PhaseRequested {
		return 0, fmt.Errorf("%w: move %s", model.ErrRaceLost, m.ID)
	}
	switch o.Status {
	case model.OfferExpired:
		return 0, fmt.Errorf("%w: offer %s", model.ErrExpired, o.ID)
	case model.OfferPending:
	default:
		return 0, fmt.Errorf("%w: offer %s is %s", model.ErrRaceLost, o.ID, o.Status)
	}
	if o.ExpiredAt(now) {
		return ClaimLazyExpire, fmt.Errorf("%w: offer %s", model.ErrExpired, o.ID)
	}
	return ClaimProceed, nil
}

// DeclineOutcome is the verdict of EvaluateDecline.
type DeclineOutcome int

const (
	DeclineProceed DeclineOutcome = iota
	// DeclineNoop means the offer is already declined.
	DeclineNoop
	// DeclineLazyExpire means the offer must be marked expired and the
	// call rejected with ErrExpired.
	DeclineLazyExpire
)

// EvaluateDecline applies the decline rules to the current offer.
func EvaluateDecline(o model.Offer, moverID string, now time.Time) (DeclineOutcome, error) {
	if o.MoverID != moverID {
		return 0, fmt.Errorf("%w: offer %s", model.ErrNotFound, o.ID)
	}
	switch o.Status {
	case model.OfferDeclined:
		return DeclineNoop, nil
	case model.OfferAccepted:
		return 0, fmt.Errorf("%w: offer %s was accepted", model.ErrValidation, o.ID)
	case model.OfferExpired:
		return 0, fmt.Errorf("%w: offer %s", model.ErrExpired, o.ID)
	}
	if o.ExpiredAt(now) {
		return DeclineLazyExpire, fmt.Errorf("%w: offer %s", model.ErrExpired, o.ID)
	}
	return DeclineProceed, nil
}

// CheckTransition validates req against the stored move.
func CheckTransition(m model.Move, req TransitionRequest) error {
	if m.Status != req.From {
		return fmt.Errorf("%w: move %s is %s, expected %s", ErrStatusChanged, m.ID, m.Status, req.From)
	}
	if !model.CanTransition(req.From, req.To) {
		return fmt.Errorf("%w: %s -> %s", model.ErrInvalidTransition, req.From, req.To)
	}
	return nil
}

// ClosesOffers reports whether the transition closes pending offers.
func ClosesOffers(req TransitionRequest) bool {
	return req.From == model.PhaseRequested && req.To.Terminal()
}

// Settle returns o closed with status and reason at now.
func Settle(o model.Offer, status model.OfferStatus, reason model.CloseReason, now time.Time) model.Offer {
	o.Status = status
	o.CloseReason = reason
	if status != model.OfferExpired {
		t := now
		o.RespondedAt = &t
	}
	return o
}

// CheckDispatchable reports whether new offers may still be attached to m.
// Stores call it again at insert time, so a claim that lands after the
// broadcaster's own check still refuses the offers.
func CheckDispatchable(m model.Move) error {
	if m.Status != model.PhaseRequested || m.AssignedMover != "" {
		return fmt.Errorf("%w: move %s is %s and cannot be dispatched", model.ErrValidation, m.ID, m.Status)
	}
	return nil
}

// SettleOrphan closes a pending offer left behind on a move that is no
// longer requested. The assignee's own offer is completed as accepted;
// every other offer is declined by the system.
func SettleOrphan(o model.Offer, m model.Move, now time.Time) model.Offer {
	if m.AssignedMover != "" && o.MoverID == m.AssignedMover {
		return Settle(o, model.OfferAccepted, "", now)
	}
	return Settle(o, model.OfferDeclined, model.CloseBySystem, now)
}
