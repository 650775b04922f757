package dispatch

import (
	"fmt"
	"time"
)

// Config defines dispatch-related settings.
type Config struct {
	// OfferWindow is how long a candidate can answer an offer.
	OfferWindow time.Duration `json:"offer_window"`
	// SweepInterval is the period of the background expiry sweep.
	SweepInterval time.Duration `json:"sweep_interval"`
	// MaxCandidates bounds a single broadcast.
	MaxCandidates int `json:"max_candidates"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.OfferWindow == 0 {
		c.OfferWindow = 60 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 5 * time.Second
	}
	if c.MaxCandidates == 0 {
		c.MaxCandidates = 50
	}
}

// Validate checks the configured values.
func (c Config) Validate() error {
	if c.OfferWindow <= 0 {
		return fmt.Errorf("dispatch.offer_window must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("dispatch.sweep_interval must be positive")
	}
	if c.MaxCandidates < 1 {
		return fmt.Errorf("dispatch.max_candidates must be at least 1")
	}
	return nil
}
