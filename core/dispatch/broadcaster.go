// Package dispatch turns requested moves into time-boxed offers and resolves
// the acceptance race between candidate movers.
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/model"
)

// Store is the persistence needed by the broadcaster.
type Store interface {
	ledger.MoveStore
	ledger.OfferStore
}

// Broadcaster writes one offer per candidate and announces them.
type Broadcaster struct {
	store Store
	pub   events.Publisher
	cfg   Config
	log   logger.Logger
	now   func() time.Time
	newID func() string
}

// NewBroadcaster returns a Broadcaster. A nil publisher discards events.
func NewBroadcaster(store Store, pub events.Publisher, cfg Config, log logger.Logger) *Broadcaster {
	if pub == nil {
		pub = events.Discard
	}
	cfg.SetDefaults()
	return &Broadcaster{store: store, pub: pub, cfg: cfg, log: log, now: time.Now, newID: uuid.NewString}
}

// SetClock replaces the time source.
func (b *Broadcaster) SetClock(now func() time.Time) { b.now = now }

// Broadcast creates offers for the candidates of a requested move.
// Candidates that still hold an open offer for the move are skipped; the
// others get a new attempt. It returns only the offers it created.
func (b *Broadcaster) Broadcast(ctx context.Context, moveID string, candidates []string) ([]model.Offer, error) {
	cands, err := normalizeCandidates(candidates, b.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}
	m, err := b.store.GetMove(ctx, moveID)
	if err != nil {
		return nil, err
	}
	if err := ledger.CheckDispatchable(m); err != nil {
		return nil, err
	}
	existing, err := b.store.ListOffers(ctx, moveID)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}

	now := b.now()
	attempts := make(map[string]int, len(existing))
	open := make(map[string]bool, len(existing))
	for _, o := range existing {
		if o.Attempt > attempts[o.MoverID] {
			attempts[o.MoverID] = o.Attempt
		}
		if o.OpenAt(now) {
			open[o.MoverID] = true
		}
	}

	offers := make([]model.Offer, 0, len(cands))
	for _, mover := range cands {
		if open[mover] {
			b.log.Debugf("mover %s already holds an open offer for move %s", mover, moveID)
			continue
		}
		offers = append(offers, model.Offer{
			ID:        b.newID(),
			MoveID:    moveID,
			MoverID:   mover,
			Attempt:   attempts[mover] + 1,
			Status:    model.OfferPending,
			SentAt:    now,
			ExpiresAt: now.Add(b.cfg.OfferWindow),
		})
	}
	if len(offers) == 0 {
		return offers, nil
	}
	if err := b.store.InsertOffers(ctx, offers); err != nil {
		return nil, fmt.Errorf("insert offers: %w", err)
	}
	offersCreated.Add(float64(len(offers)))
	for _, o := range offers {
		b.pub.Publish(events.OfferCreated(o, now))
	}
	b.log.Infof("broadcast move %s to %d movers, window %s", moveID, len(offers), b.cfg.OfferWindow)
	return offers, nil
}

func normalizeCandidates(candidates []string, limit int) ([]string, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: at least one candidate is required", model.ErrValidation)
	}
	seen := make(map[string]bool, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if c == "" {
			return nil, fmt.Errorf("%w: empty candidate id", model.ErrValidation)
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	if limit > 0 && len(out) > limit {
		return nil, fmt.Errorf("%w: %d candidates exceed the limit of %d", model.ErrValidation, len(out), limit)
	}
	return out, nil
}
