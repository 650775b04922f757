package model

import "time"

// OfferStatus is the state of a request ledger entry.
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferDeclined OfferStatus = "declined"
	OfferExpired  OfferStatus = "expired"
)

// CloseReason records who settled a non-accepted offer.
type CloseReason string

const (
	// CloseByMover is set when the candidate declined.
	CloseByMover CloseReason = "mover"
	// CloseBySystem is set when a sibling won or the move was cancelled.
	CloseBySystem CloseReason = "system"
	// CloseByExpiry is set when the offer window elapsed.
	CloseByExpiry CloseReason = "expired"
)

// Offer is one candidate mover's time-boxed chance at one move.
type Offer struct {
	ID          string      `json:"id"`
	MoveID      string      `json:"move_id"`
	MoverID     string      `json:"mover_id"`
	Attempt     int         `json:"attempt"`
	Status      OfferStatus `json:"status"`
	SentAt      time.Time   `json:"sent_at"`
	RespondedAt *time.Time  `json:"responded_at,omitempty"`
	ExpiresAt   time.Time   `json:"expires_at"`
	CloseReason CloseReason `json:"close_reason,omitempty"`
}

// ExpiredAt reports whether the offer window has elapsed at now,
// whatever the stored status says.
func (o Offer) ExpiredAt(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

// OpenAt reports whether the offer can still be answered at now.
func (o Offer) OpenAt(now time.Time) bool {
	return o.Status == OfferPending && !o.ExpiredAt(now)
}
