// Package ledger holds the durable record of moves, offers, phase history and
// latest mover positions. The race-critical operation is Claim, which every
// backend implements as a single atomic conditional write keyed on the move.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/kilianp07/movedispatch/core/model"
)

// ErrStatusChanged is returned by Transition when the stored status no longer
// matches the expected one.
var ErrStatusChanged = errors.New("move status changed")

// ClaimResult describes a successful claim.
type ClaimResult struct {
	Move  model.Move  `json:"move"`
	Offer model.Offer `json:"offer"`
	// Declined lists sibling offers closed by this claim.
	Declined []model.Offer `json:"-"`
	// Replayed is true when the caller had already won this move.
	Replayed bool `json:"replayed"`
}

// TransitionRequest is a compare-and-set on a move's status.
type TransitionRequest struct {
	MoveID string
	From   model.Phase
	To     model.Phase
	Actor  string
	Note   string
	At     time.Time
}

// TransitionResult is the outcome of a successful Transition.
type TransitionResult struct {
	Move  model.Move
	Entry model.Transition
	// Closed lists pending offers closed because the move was cancelled
	// before assignment.
	Closed []model.Offer
}

// MoveStore persists moves and their phase history.
type MoveStore interface {
	CreateMove(ctx context.Context, m model.Move) error
	GetMove(ctx context.Context, id string) (model.Move, error)
	// ActiveMove returns the most recently updated non-terminal move
	// assigned to the mover. found is false when there is none.
	ActiveMove(ctx context.Context, moverID string) (m model.Move, found bool, err error)
	// Transition moves the status from req.From to req.To and appends a
	// history entry. Cancelling a requested move also closes its pending
	// offers.
	Transition(ctx context.Context, req TransitionRequest) (TransitionResult, error)
	History(ctx context.Context, moveID string) ([]model.Transition, error)
}

// OfferStore persists request ledger entries.
type OfferStore interface {
	InsertOffers(ctx context.Context, offers []model.Offer) error
	GetOffer(ctx context.Context, id string) (model.Offer, error)
	ListOffers(ctx context.Context, moveID string) ([]model.Offer, error)
	// ListOpenOffers returns the mover's pending, unexpired offers, newest first.
	ListOpenOffers(ctx context.Context, moverID string, now time.Time) ([]model.Offer, error)
	Claim(ctx context.Context, offerID, moveID, moverID string, now time.Time) (ClaimResult, error)
	DeclineOffer(ctx context.Context, offerID, moverID string, now time.Time) (model.Offer, error)
	// ExpireOffers marks pending offers past their expiry and returns them.
	ExpireOffers(ctx context.Context, now time.Time) ([]model.Offer, error)
}

// LocationStore keeps the latest sample per mover.
type LocationStore interface {
	// UpsertLocation stores s unless an equal or newer sample exists.
	UpsertLocation(ctx context.Context, s model.LocationSample) (stored bool, err error)
	LatestLocation(ctx context.Context, moverID string) (model.LocationSample, error)
}

// Store is the full persistence surface.
type Store interface {
	MoveStore
	OfferStore
	LocationStore
	Close() error
}
