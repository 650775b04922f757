package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/movedispatch/core/model"
)

// MemoryStore is an in-process Store. A single mutex serialises writes, which
// makes Claim atomic.
type MemoryStore struct {
	mu        sync.RWMutex
	moves     map[string]model.Move
	offers    map[string]model.Offer
	byMove    map[string][]string
	history   map[string][]model.Transition
	locations map[string]model.LocationSample
	seq       int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		moves:     map[string]model.Move{},
		offers:    map[string]model.Offer{},
		byMove:    map[string][]string{},
		history:   map[string][]model.Transition{},
		locations: map[string]model.LocationSample{},
	}
}

func (s *MemoryStore) CreateMove(_ context.Context, m model.Move) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.moves[m.ID]; ok {
		return fmt.Errorf("%w: move %s already exists", model.ErrValidation, m.ID)
	}
	s.moves[m.ID] = m
	return nil
}

func (s *MemoryStore) GetMove(_ context.Context, id string) (model.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.moves[id]
	if !ok {
		return model.Move{}, fmt.Errorf("%w: move %s", model.ErrNotFound, id)
	}
	return m, nil
}

func (s *MemoryStore) ActiveMove(_ context.Context, moverID string) (model.Move, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best model.Move
	found := false
	for _, m := range s.moves {
		if m.AssignedMover != moverID || m.Status.Terminal() {
			continue
		}
		if !found || m.UpdatedAt.After(best.UpdatedAt) {
			best, found = m, true
		}
	}
	return best, found, nil
}

func (s *MemoryStore) Transition(_ context.Context, req TransitionRequest) (TransitionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.moves[req.MoveID]
	if !ok {
		return TransitionResult{}, fmt.Errorf("%w: move %s", model.ErrNotFound, req.MoveID)
	}
	if err := CheckTransition(m, req); err != nil {
		return TransitionResult{}, err
	}
	m.Status = req.To
	m.UpdatedAt = req.At
	s.moves[m.ID] = m
	res := TransitionResult{Move: m, Entry: s.appendHistory(m.ID, req.From, req.To, req.Actor, req.Note, req.At)}
	if ClosesOffers(req) {
		res.Closed = s.closePending(m.ID, "", req.At)
	}
	return res, nil
}

func (s *MemoryStore) History(_ context.Context, moveID string) ([]model.Transition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.moves[moveID]; !ok {
		return nil, fmt.Errorf("%w: move %s", model.ErrNotFound, moveID)
	}
	return append([]model.Transition(nil), s.history[moveID]...), nil
}

func (s *MemoryStore) InsertOffers(_ context.Context, offers []model.Offer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range offers {
		if _, ok := s.offers[o.ID]; ok {
			return fmt.Errorf("%w: offer %s already exists", model.ErrValidation, o.ID)
		}
		m, ok := s.moves[o.MoveID]
		if !ok {
			return fmt.Errorf("%w: move %s", model.ErrNotFound, o.MoveID)
		}
		if err := CheckDispatchable(m); err != nil {
			return err
		}
	}
	for _, o := range offers {
		s.offers[o.ID] = o
		s.byMove[o.MoveID] = append(s.byMove[o.MoveID], o.ID)
	}
	return nil
}

func (s *MemoryStore) GetOffer(_ context.Context, id string) (model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.offers[id]
	if !ok {
		return model.Offer{}, fmt.Errorf("%w: offer %s", model.ErrNotFound, id)
	}
	return o, nil
}

func (s *MemoryStore) ListOffers(_ context.Context, moveID string) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byMove[moveID]
	out := make([]model.Offer, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.offers[id])
	}
	return out, nil
}

func (s *MemoryStore) ListOpenOffers(_ context.Context, moverID string, now time.Time) ([]model.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Offer
	for _, o := range s.offers {
		if o.MoverID == moverID && o.OpenAt(now) {
			out = append(out, o)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Claim(_ context.Context, offerID, moveID, moverID string, now time.Time) (ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return ClaimResult{}, fmt.Errorf("%w: offer %s", model.ErrNotFound, offerID)
	}
	m, ok := s.moves[o.MoveID]
	if !ok {
		return ClaimResult{}, fmt.Errorf("%w: move %s", model.ErrNotFound, o.MoveID)
	}
	outcome, err := EvaluateClaim(o, m, moveID, moverID, now)
	switch {
	case outcome == ClaimLazyExpire:
		s.offers[o.ID] = Settle(o, model.OfferExpired, model.CloseByExpiry, now)
		return ClaimResult{}, err
	case err != nil:
		return ClaimResult{}, err
	case outcome == ClaimReplay:
		return ClaimResult{Move: m, Offer: o, Replayed: true}, nil
	}

	m.AssignedMover = moverID
	m.Status = model.PhaseAssigned
	m.UpdatedAt = now
	s.moves[m.ID] = m

	o.Status = model.OfferAccepted
	o.RespondedAt = &now
	s.offers[o.ID] = o

	declined := s.closePending(m.ID, o.ID, now)
	s.appendHistory(m.ID, model.PhaseRequested, model.PhaseAssigned, moverID, "offer "+o.ID+" accepted", now)
	return ClaimResult{Move: m, Offer: o, Declined: declined}, nil
}

func (s *MemoryStore) DeclineOffer(_ context.Context, offerID, moverID string, now time.Time) (model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[offerID]
	if !ok {
		return model.Offer{}, fmt.Errorf("%w: offer %s", model.ErrNotFound, offerID)
	}
	outcome, err := EvaluateDecline(o, moverID, now)
	switch {
	case outcome == DeclineLazyExpire:
		s.offers[o.ID] = Settle(o, model.OfferExpired, model.CloseByExpiry, now)
		return model.Offer{}, err
	case err != nil:
		return model.Offer{}, err
	case outcome == DeclineNoop:
		return o, nil
	}
	o = Settle(o, model.OfferDeclined, model.CloseByMover, now)
	s.offers[o.ID] = o
	return o, nil
}

func (s *MemoryStore) ExpireOffers(_ context.Context, now time.Time) ([]model.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Offer
	for id, o := range s.offers {
		if o.Status == model.OfferPending && o.ExpiredAt(now) {
			o = Settle(o, model.OfferExpired, model.CloseByExpiry, now)
			s.offers[id] = o
			out = append(out, o)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) UpsertLocation(_ context.Context, smp model.LocationSample) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.locations[smp.MoverID]
	if ok && !smp.Newer(cur) {
		return false, nil
	}
	s.locations[smp.MoverID] = smp
	return true, nil
}

func (s *MemoryStore) LatestLocation(_ context.Context, moverID string) (model.LocationSample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	smp, ok := s.locations[moverID]
	if !ok {
		return model.LocationSample{}, fmt.Errorf("%w: no location for mover %s", model.ErrNotFound, moverID)
	}
	return smp, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// closePending declines every pending offer of the move except keep.
// Callers hold s.mu.
func (s *MemoryStore) closePending(moveID, keep string, now time.Time) []model.Offer {
	var closed []model.Offer
	for _, id := range s.byMove[moveID] {
		o := s.offers[id]
		if id == keep || o.Status != model.OfferPending {
			continue
		}
		o = Settle(o, model.OfferDeclined, model.CloseBySystem, now)
		s.offers[id] = o
		closed = append(closed, o)
	}
	return closed
}

func (s *MemoryStore) appendHistory(moveID string, from, to model.Phase, actor, note string, at time.Time) model.Transition {
	s.seq++
	tr := model.Transition{Seq: s.seq, MoveID: moveID, From: from, To: to, Actor: actor, Note: note, At: at}
	s.history[moveID] = append(s.history[moveID], tr)
	return tr
}

func sortNewestFirst(offers []model.Offer) {
	sort.Slice(offers, func(i, j int) bool {
		if !offers[i].SentAt.Equal(offers[j].SentAt) {
			return offers[i].SentAt.After(offers[j].SentAt)
		}
		return offers[i].ID < offers[j].ID
	})
}
