// Package tracker keeps the newest known position per mover on the
// consumer side. Samples may arrive late or twice; only a strictly newer
// recorded_at replaces the current one.
package tracker

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kilianp07/movedispatch/core/model"
)

// Tracker is safe for concurrent use.
type Tracker struct {
	mu     sync.RWMutex
	latest map[string]model.LocationSample
}

// New returns an empty Tracker.
func New() *Tracker {
	return &Tracker{latest: make(map[string]model.LocationSample)}
}

// Observe records s and reports whether it became the mover's latest.
func (t *Tracker) Observe(s model.LocationSample) bool {
	if s.MoverID == "" {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.latest[s.MoverID]; ok && !s.Newer(cur) {
		return false
	}
	t.latest[s.MoverID] = s
	return true
}

// ObserveJSON decodes a location.updated payload and observes it.
func (t *Tracker) ObserveJSON(payload []byte) (bool, error) {
	var s model.LocationSample
	if err := json.Unmarshal(payload, &s); err != nil {
		return false, fmt.Errorf("location payload: %w", err)
	}
	return t.Observe(s), nil
}

// Latest returns the newest sample seen for the mover.
func (t *Tracker) Latest(moverID string) (model.LocationSample, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.latest[moverID]
	return s, ok
}

// Forget drops the mover, e.g. once its move reached a terminal phase.
func (t *Tracker) Forget(moverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.latest, moverID)
}
