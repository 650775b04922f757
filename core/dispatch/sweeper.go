package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/model"
)

// Sweeper periodically expires pending offers past their window. Accept
// re-checks expiry itself, so the sweep only keeps the ledger tidy and tells
// movers their offers closed.
type Sweeper struct {
	store    ledger.OfferStore
	pub      events.Publisher
	interval time.Duration
	log      logger.Logger
	now      func() time.Time
}

// NewSweeper returns a Sweeper ticking at cfg.SweepInterval.
func NewSweeper(store ledger.OfferStore, pub events.Publisher, cfg Config, log logger.Logger) *Sweeper {
	if pub == nil {
		pub = events.Discard
	}
	cfg.SetDefaults()
	return &Sweeper{store: store, pub: pub, interval: cfg.SweepInterval, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (s *Sweeper) SetClock(now func() time.Time) { s.now = now }

// SweepOnce expires overdue offers and returns them.
func (s *Sweeper) SweepOnce(ctx context.Context) ([]model.Offer, error) {
	now := s.now()
	expired, err := s.store.ExpireOffers(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, nil
	}
	offersClosed.WithLabelValues(string(model.CloseByExpiry)).Add(float64(len(expired)))
	for _, o := range expired {
		s.pub.Publish(events.OfferClosed(o, now))
	}
	s.log.Debugf("expired %d offers", len(expired))
	return expired, nil
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Errorf("offer sweep: %v", err)
			}
		}
	}
}
