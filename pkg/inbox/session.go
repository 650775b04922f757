package inbox

import (
	"sync"
	"time"

	"github.com/kilianp07/movedispatch/core/model"
)

// Session displays at most one offer at a time and owns the single
// countdown bound to that offer's expiry. When the countdown ends the offer
// is tombstoned and the next one, if any, is shown.
type Session struct {
	mu       sync.Mutex
	inbox    *Inbox
	now      func() time.Time
	onExpire func(model.Offer)
	onShow   func(model.Offer)

	shown  model.Offer
	timer  *time.Timer
	closed bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// OnExpire is called when the displayed offer runs out of time.
func OnExpire(fn func(model.Offer)) SessionOption {
	return func(s *Session) { s.onExpire = fn }
}

// OnShow is called every time a different offer is displayed.
func OnShow(fn func(model.Offer)) SessionOption {
	return func(s *Session) { s.onShow = fn }
}

// NewSession binds a session to in.
func NewSession(in *Inbox, opts ...SessionOption) *Session {
	s := &Session{inbox: in, now: in.now, onExpire: func(model.Offer) {}, onShow: func(model.Offer) {}}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Refresh shows the inbox's current offer. The countdown is only replaced
// when the displayed offer changes.
func (s *Session) Refresh() (model.Offer, bool) {
	next, ok := s.inbox.Current()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return model.Offer{}, false
	}
	if !ok {
		s.stopLocked()
		s.shown = model.Offer{}
		s.mu.Unlock()
		return model.Offer{}, false
	}
	if next.ID == s.shown.ID && s.timer != nil {
		s.mu.Unlock()
		return next, true
	}
	s.stopLocked()
	s.shown = next
	id := next.ID
	s.timer = time.AfterFunc(next.ExpiresAt.Sub(s.now()), func() { s.expire(id) })
	s.mu.Unlock()

	s.onShow(next)
	return next, true
}

// Shown returns the displayed offer.
func (s *Session) Shown() (model.Offer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shown, s.shown.ID != ""
}

// Remaining returns the time left on the displayed offer.
func (s *Session) Remaining() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shown.ID == "" {
		return 0
	}
	if d := s.shown.ExpiresAt.Sub(s.now()); d > 0 {
		return d
	}
	return 0
}

// Dismiss resolves the offer, typically after accept or decline returned,
// and shows the next one.
func (s *Session) Dismiss(id string) (model.Offer, bool) {
	s.inbox.Resolve(id)
	s.mu.Lock()
	if s.shown.ID == id {
		s.stopLocked()
		s.shown = model.Offer{}
	}
	s.mu.Unlock()
	return s.Refresh()
}

// Close stops the countdown. The session cannot be reused.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopLocked()
	s.shown = model.Offer{}
}

func (s *Session) expire(id string) {
	s.mu.Lock()
	if s.closed || s.shown.ID != id {
		s.mu.Unlock()
		return
	}
	o := s.shown
	s.timer = nil
	s.shown = model.Offer{}
	s.mu.Unlock()

	s.inbox.Resolve(id)
	s.onExpire(o)
	s.Refresh()
}

func (s *Session) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
