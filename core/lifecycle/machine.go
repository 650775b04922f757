// Package lifecycle drives an assigned move through its ordered phases and
// the absorbing cancellation and dispute states.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/movedispatch/core/events"
	"github.com/kilianp07/movedispatch/core/ledger"
	"github.com/kilianp07/movedispatch/core/logger"
	"github.com/kilianp07/movedispatch/core/model"
	"github.com/kilianp07/movedispatch/core/monitoring"
)

// maxTerminalAttempts bounds re-reads when a cancel or dispute races another
// transition.
const maxTerminalAttempts = 3

// Machine applies phase transitions with compare-and-set semantics.
type Machine struct {
	store ledger.MoveStore
	pub   events.Publisher
	log   logger.Logger
	now   func() time.Time
}

// NewMachine returns a Machine. A nil publisher discards events.
func NewMachine(store ledger.MoveStore, pub events.Publisher, log logger.Logger) *Machine {
	if pub == nil {
		pub = events.Discard
	}
	return &Machine{store: store, pub: pub, log: log, now: time.Now}
}

// SetClock replaces the time source.
func (m *Machine) SetClock(now func() time.Time) { m.now = now }

// Advance moves the move from `from` to the next phase. Only the assigned
// mover may advance. When the move already sits in the next phase the call
// is a no-op, so retries are safe. Any other mismatch is rejected with
// model.ErrInvalidTransition and leaves the move unchanged.
func (m *Machine) Advance(ctx context.Context, moveID, actor string, from model.Phase, note string) (model.Move, error) {
	if !from.Valid() {
		return model.Move{}, fmt.Errorf("%w: unknown phase %q", model.ErrValidation, from)
	}
	mv, err := m.store.GetMove(ctx, moveID)
	if err != nil {
		return model.Move{}, err
	}
	if actor == "" || mv.AssignedMover != actor {
		return mv, m.reject(mv, "advance", fmt.Errorf("%w: %s is not the assigned mover of %s", model.ErrInvalidTransition, actor, mv.ID))
	}
	if !from.Advanceable() {
		return mv, m.reject(mv, "advance", fmt.Errorf("%w: %s cannot be advanced", model.ErrInvalidTransition, from))
	}
	next, _ := from.Next()
	if mv.Status == next {
		m.log.Debugf("advance %s from %s replayed", mv.ID, from)
		return mv, nil
	}
	if mv.Status != from {
		return mv, m.reject(mv, "advance", fmt.Errorf("%w: move %s is %s, caller expected %s", model.ErrInvalidTransition, mv.ID, mv.Status, from))
	}

	res, err := m.store.Transition(ctx, ledger.TransitionRequest{MoveID: mv.ID, From: from, To: next, Actor: actor, Note: note, At: m.now()})
	if errors.Is(err, ledger.ErrStatusChanged) {
		cur, gerr := m.store.GetMove(ctx, moveID)
		if gerr != nil {
			return mv, gerr
		}
		if cur.Status == next {
			return cur, nil
		}
		return cur, m.reject(cur, "advance", fmt.Errorf("%w: %v", model.ErrInvalidTransition, err))
	}
	if err != nil {
		return mv, err
	}
	m.applied(res)
	return res.Move, nil
}

// Cancel ends the move on behalf of its client or assigned mover. The target
// phase follows the actor's role. Repeating a cancellation is a no-op.
func (m *Machine) Cancel(ctx context.Context, moveID, actor, note string) (model.Move, error) {
	return m.terminate(ctx, moveID, actor, note, "cancel", func(mv model.Move) (model.Phase, error) {
		switch {
		case actor != "" && actor == mv.ClientID:
			return model.PhaseCancelledByClient, nil
		case actor != "" && actor == mv.AssignedMover:
			return model.PhaseCancelledByMover, nil
		default:
			return "", fmt.Errorf("%w: %s does not take part in move %s", model.ErrForbidden, actor, mv.ID)
		}
	})
}

// Dispute flags the move as disputed on behalf of either party.
func (m *Machine) Dispute(ctx context.Context, moveID, actor, note string) (model.Move, error) {
	return m.terminate(ctx, moveID, actor, note, "dispute", func(mv model.Move) (model.Phase, error) {
		if !mv.Participant(actor) {
			return "", fmt.Errorf("%w: %s does not take part in move %s", model.ErrForbidden, actor, mv.ID)
		}
		return model.PhaseDisputed, nil
	})
}

// History returns the move's transitions in order.
func (m *Machine) History(ctx context.Context, moveID string) ([]model.Transition, error) {
	return m.store.History(ctx, moveID)
}

func (m *Machine) terminate(ctx context.Context, moveID, actor, note, op string, target func(model.Move) (model.Phase, error)) (model.Move, error) {
	for attempt := 0; attempt < maxTerminalAttempts; attempt++ {
		mv, err := m.store.GetMove(ctx, moveID)
		if err != nil {
			return model.Move{}, err
		}
		to, err := target(mv)
		if err != nil {
			return mv, err
		}
		if mv.Status == to {
			return mv, nil
		}
		if !model.CanTransition(mv.Status, to) {
			invalidTransitions.WithLabelValues(op).Inc()
			m.log.Warnf("%s of move %s rejected in phase %s", op, mv.ID, mv.Status)
			return mv, fmt.Errorf("%w: cannot %s a move in phase %s", model.ErrInvalidTransition, op, mv.Status)
		}
		res, err := m.store.Transition(ctx, ledger.TransitionRequest{MoveID: mv.ID, From: mv.Status, To: to, Actor: actor, Note: note, At: m.now()})
		if errors.Is(err, ledger.ErrStatusChanged) {
			continue
		}
		if err != nil {
			return mv, err
		}
		m.applied(res)
		return res.Move, nil
	}
	return model.Move{}, fmt.Errorf("%s move %s: status kept changing", op, moveID)
}

func (m *Machine) applied(res ledger.TransitionResult) {
	now := res.Entry.At
	phaseTransitions.WithLabelValues(string(res.Entry.To)).Inc()
	m.pub.Publish(events.PhaseChanged(res.Move, res.Entry, now))
	for _, o := range res.Closed {
		m.pub.Publish(events.OfferClosed(o, now))
	}
	m.log.Infof("move %s: %s -> %s by %s", res.Move.ID, res.Entry.From, res.Entry.To, res.Entry.Actor)
}

// reject counts, logs and reports an integrity failure.
func (m *Machine) reject(mv model.Move, op string, err error) error {
	invalidTransitions.WithLabelValues(op).Inc()
	m.log.Errorf("%s rejected: %v", op, err)
	monitoring.CaptureException(err, map[string]string{"op": op, "move_id": mv.ID, "status": string(mv.Status)})
	return err
}
