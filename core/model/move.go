package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Category tells whether a move should start now or at a scheduled time.
type Category string

const (
	CategoryInstant   Category = "instant"
	CategoryScheduled Category = "scheduled"
)

// Tier is a service level. Tiers are ordered light < regular < premium.
type Tier string

const (
	TierLight   Tier = "light"
	TierRegular Tier = "regular"
	TierPremium Tier = "premium"
)

// Rank returns the position of t in the tier order, or -1 when unknown.
func (t Tier) Rank() int {
	switch t {
	case TierLight:
		return 0
	case TierRegular:
		return 1
	case TierPremium:
		return 2
	default:
		return -1
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool { return t.Rank() >= 0 }

// MaxTier returns the higher of a and b.
func MaxTier(a, b Tier) Tier {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Place describes a pickup or dropoff point.
type Place struct {
	Address     string  `json:"address"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Floor       int     `json:"floor,omitempty"`
	HasElevator bool    `json:"has_elevator,omitempty"`
}

// ClassificationSnapshot is the last classification applied to a move.
type ClassificationSnapshot struct {
	TotalItems    int     `json:"total_items"`
	TotalWeightKg float64 `json:"total_weight_kg"`
	TotalPoints   float64 `json:"total_points"`
	Tier          Tier    `json:"tier"`
}

// Move is one relocation job.
type Move struct {
	ID             string                 `json:"id"`
	ClientID       string                 `json:"client_id"`
	Status         Phase                  `json:"status"`
	Category       Category               `json:"category"`
	AssignedMover  string                 `json:"assigned_mover,omitempty"`
	Pickup         Place                  `json:"pickup"`
	Dropoff        Place                  `json:"dropoff"`
	Classification ClassificationSnapshot `json:"classification"`
	Price          decimal.Decimal        `json:"price"`
	Currency       string                 `json:"currency"`
	ScheduledAt    *time.Time             `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

// Validate checks the fields required to create a move.
func (m Move) Validate() error {
	switch {
	case m.ID == "":
		return fmt.Errorf("%w: move id is required", ErrValidation)
	case m.ClientID == "":
		return fmt.Errorf("%w: client id is required", ErrValidation)
	case m.Category != CategoryInstant && m.Category != CategoryScheduled:
		return fmt.Errorf("%w: unknown category %q", ErrValidation, m.Category)
	case m.Category == CategoryScheduled && m.ScheduledAt == nil:
		return fmt.Errorf("%w: scheduled moves need scheduled_at", ErrValidation)
	case !m.Classification.Tier.Valid():
		return fmt.Errorf("%w: unknown tier %q", ErrValidation, m.Classification.Tier)
	case m.Price.IsNegative():
		return fmt.Errorf("%w: price must not be negative", ErrValidation)
	}
	if err := validCoords(m.Pickup.Lat, m.Pickup.Lng); err != nil {
		return fmt.Errorf("pickup: %w", err)
	}
	if err := validCoords(m.Dropoff.Lat, m.Dropoff.Lng); err != nil {
		return fmt.Errorf("dropoff: %w", err)
	}
	return nil
}

// Participant reports whether id is the client or the assigned mover.
func (m Move) Participant(id string) bool {
	return id != "" && (id == m.ClientID || id == m.AssignedMover)
}

func validCoords(lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return fmt.Errorf("%w: coordinates out of range (%f, %f)", ErrValidation, lat, lng)
	}
	return nil
}
