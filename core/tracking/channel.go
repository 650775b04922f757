// Package tracking relays mover positions to the parties of the mover's
// active move. Samples are fire-and-forget; the store keeps only the newest
// one per mover.
package tracking

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/metrics"
	"github.com/kilianp07/movedispatch/core/model"
)

// Store is the persistence needed by the channel.
type Store interface {
	ActiveMove(ctx context.Context, moverID string) (model.Move, bool, error)
	ledger.LocationStore
}

// Ack is returned to the emitting mover.
type Ack struct {
	// Stored is false when a newer sample was already known.
	Stored bool `json:"stored"`
	// MoveID is the active move the sample was attached to.
	MoveID string `json:"move_id,omitempty"`
	// NextInterval is the suggested delay before the next sample.
	NextInterval time.Duration `json:"-"`
	NextSeconds  float64       `json:"next_interval_seconds"`
	ServerTime   time.Time     `json:"server_time"`
}

// Channel accepts samples from movers and fans them out.
type Channel struct {
	store   Store
	pub     events.Publisher
	history metrics.LocationRecorder
	cfg     Config
	log     logger.Logger
	now     func() time.Time
}

// NewChannel returns a Channel. history may be nil when positions are not
// retained.
func NewChannel(store Store, pub events.Publisher, history metrics.LocationRecorder, cfg Config, log logger.Logger) *Channel {
	if pub == nil {
		pub = events.Discard
	}
	if history == nil {
		history = metrics.NopSink{}
	}
	cfg.SetDefaults()
	return &Channel{store: store, pub: pub, history: history, cfg: cfg, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (c *Channel) SetClock(now func() time.Time) { c.now = now }

// Emit records a sample. Out of order and duplicate samples are accepted but
// not stored or relayed.
func (c *Channel) Emit(ctx context.Context, s model.LocationSample) (Ack, error) {
	if err := s.Validate(); err != nil {
		return Ack{}, err
	}
	now := c.now()
	s.ReceivedAt = now
	s.MoveID = ""

	recipients := []string{s.MoverID}
	interval := c.cfg.IdleInterval
	mv, found, err := c.store.ActiveMove(ctx, s.MoverID)
	if err != nil {
		return Ack{}, fmt.Errorf("active move: %w", err)
	}
	if found {
		s.MoveID = mv.ID
		recipients = append(recipients, mv.ClientID)
		if mv.Status.Active() {
			interval = c.cfg.ActiveInterval
		}
	}

	stored, err := c.store.UpsertLocation(ctx, s)
	if err != nil {
		return Ack{}, fmt.Errorf("store location: %w", err)
	}
	ack := Ack{Stored: stored, MoveID: s.MoveID, NextInterval: interval, NextSeconds: interval.Seconds(), ServerTime: now}
	if !stored {
		c.log.Debugf("stale sample from %s recorded at %s", s.MoverID, s.RecordedAt.Format(time.RFC3339Nano))
		return ack, nil
	}
	if err := c.history.RecordLocation(s); err != nil {
		c.log.Warnf("location history: %v", err)
	}
	c.pub.Publish(events.LocationUpdated(s, now, recipients...))
	return ack, nil
}

// Latest returns the newest stored sample of the mover.
func (c *Channel) Latest(ctx context.Context, moverID string) (model.LocationSample, error) {
	return c.store.LatestLocation(ctx, moverID)
}

// CanView reports whether viewer may read the mover's position: the mover
// itself, or the client of the mover's active move.
func (c *Channel) CanView(ctx context.Context, viewer, moverID string) (bool, error) {
	if viewer == "" {
		return false, nil
	}
	if viewer == moverID {
		return true, nil
	}
	mv, found, err := c.store.ActiveMove(ctx, moverID)
	if err != nil {
		return false, err
	}
	return found && mv.ClientID == viewer, nil
}
