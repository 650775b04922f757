package tracking

import (
	"fmt"
	"time"
)

// Config holds the suggested emission cadence.
type Config struct {
	// ActiveInterval applies while the mover's move is in an operational phase.
	ActiveInterval time.Duration `json:"active_interval"`
	// IdleInterval applies otherwise.
	IdleInterval time.Duration `json:"idle_interval"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.ActiveInterval == 0 {
		c.ActiveInterval = 5 * time.Second
	}
	if c.IdleInterval == 0 {
		c.IdleInterval = 60 * time.Second
	}
}

// Validate checks the intervals.
func (c Config) Validate() error {
	if c.ActiveInterval <= 0 || c.IdleInterval <= 0 {
		return fmt.Errorf("tracking intervals must be positive")
	}
	if c.ActiveInterval > c.IdleInterval {
		return fmt.Errorf("tracking.active_interval must not exceed tracking.idle_interval")
	}
	return nil
}
