// Package inbox is the consumer side of offer delivery. Push events and poll
// results feed one Inbox keyed by offer id; an offer that was answered,
// closed or expired locally is tombstoned and never shown again.
package inbox

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/model"
)

// Envelope is a real-time event as received over the wire.
type Envelope struct {
	ID         string          `json:"id"`
	Kind       events.Kind     `json:"kind"`
	ServerTime time.Time       `json:"server_time"`
	Payload    json.RawMessage `json:"payload"`
}

// DecodeEnvelope parses one event frame.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode event: %w", err)
	}
	if env.ID == "" || env.Kind == "" {
		return Envelope{}, fmt.Errorf("decode event: id and kind are required")
	}
	return env, nil
}

// Inbox holds the offers currently visible to one mover.
type Inbox struct {
	mu      sync.Mutex
	visible map[string]model.Offer
	tombs   map[string]struct{}
	now     func() time.Time
}

// New returns an empty Inbox. A nil clock uses time.Now.
func New(now func() time.Time) *Inbox {
	if now == nil {
		now = time.Now
	}
	return &Inbox{visible: map[string]model.Offer{}, tombs: map[string]struct{}{}, now: now}
}

// Add surfaces o. It returns false when o was already visible, tombstoned,
// not pending or past its expiry.
func (in *Inbox) Add(o model.Offer) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	if _, dead := in.tombs[o.ID]; dead {
		return false
	}
	if !o.OpenAt(in.now()) {
		in.tombs[o.ID] = struct{}{}
		delete(in.visible, o.ID)
		return false
	}
	if _, ok := in.visible[o.ID]; ok {
		return false
	}
	in.visible[o.ID] = o
	return true
}

// Resolve tombstones the offer. Call it after accept, decline or dismissal.
func (in *Inbox) Resolve(id string) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.tombs[id] = struct{}{}
	delete(in.visible, id)
}

// Resolved reports whether the offer is tombstoned.
func (in *Inbox) Resolved(id string) bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	_, ok := in.tombs[id]
	return ok
}

// Apply feeds one push event. Events of other kinds are ignored.
func (in *Inbox) Apply(env Envelope) (bool, error) {
	switch env.Kind {
	case events.KindOfferCreated:
		var o model.Offer
		if err := json.Unmarshal(env.Payload, &o); err != nil {
			return false, fmt.Errorf("offer payload: %w", err)
		}
		return in.Add(o), nil
	case events.KindOfferClosed:
		in.Resolve(env.ID)
		return false, nil
	}
	return false, nil
}

// Reconcile feeds one poll result taken at serverTime. Visible offers sent
// before serverTime that the server no longer lists were closed and are
// tombstoned; newer ones may simply postdate the query. It returns the
// number of newly surfaced offers.
func (in *Inbox) Reconcile(open []model.Offer, serverTime time.Time) int {
	listed := make(map[string]struct{}, len(open))
	added := 0
	for _, o := range open {
		listed[o.ID] = struct{}{}
		if in.Add(o) {
			added++
		}
	}
	in.mu.Lock()
	defer in.mu.Unlock()
	for id, o := range in.visible {
		if _, ok := listed[id]; !ok && o.SentAt.Before(serverTime) {
			in.tombs[id] = struct{}{}
			delete(in.visible, id)
		}
	}
	return added
}

// Pending returns the visible offers, newest first. Offers that expired
// since they were added are tombstoned on the way.
func (in *Inbox) Pending() []model.Offer {
	in.mu.Lock()
	defer in.mu.Unlock()
	now := in.now()
	out := make([]model.Offer, 0, len(in.visible))
	for id, o := range in.visible {
		if o.ExpiredAt(now) {
			in.tombs[id] = struct{}{}
			delete(in.visible, id)
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.After(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Current returns the offer to display: the most recent pending one.
func (in *Inbox) Current() (model.Offer, bool) {
	p := in.Pending()
	if len(p) == 0 {
		return model.Offer{}, false
	}
	return p[0], true
}
