package model

import (
	"fmt"
	"time"
)

// LocationSample is a position reported by a mover.
type LocationSample struct {
	MoverID    string    `json:"mover_id"`
	MoveID     string    `json:"move_id,omitempty"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    *float64  `json:"heading,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// Validate checks identity, coordinates and the optional motion fields.
func (s LocationSample) Validate() error {
	if s.MoverID == "" {
		return fmt.Errorf("%w: mover id is required", ErrValidation)
	}
	if s.RecordedAt.IsZero() {
		return fmt.Errorf("%w: recorded_at is required", ErrValidation)
	}
	if err := validCoords(s.Lat, s.Lng); err != nil {
		return err
	}
	if s.Heading != nil && (*s.Heading < 0 || *s.Heading >= 360) {
		return fmt.Errorf("%w: heading must be in [0,360)", ErrValidation)
	}
	if s.Speed != nil && *s.Speed < 0 {
		return fmt.Errorf("%w: speed must not be negative", ErrValidation)
	}
	return nil
}

// Newer reports whether s was recorded after other.
func (s LocationSample) Newer(other LocationSample) bool {
	return s.RecordedAt.After(other.RecordedAt)
}
