package model

import "fmt"

// Phase is the lifecycle status of a move. The operational phases form a
// strict order; the cancellation and dispute phases are absorbing alternates.
type Phase string

const (
	PhaseRequested      Phase = "requested"
	PhaseAssigned       Phase = "assigned"
	PhaseEnRoute        Phase = "en_route"
	PhaseArrivedPickup  Phase = "arrived_pickup"
	PhaseLoading        Phase = "loading"
	PhaseInTransit      Phase = "in_transit"
	PhaseArrivedDropoff Phase = "arrived_dropoff"
	PhaseCompleted      Phase = "completed"

	PhaseCancelledByClient Phase = "cancelled_by_client"
	PhaseCancelledByMover  Phase = "cancelled_by_mover"
	PhaseDisputed          Phase = "disputed"
)

var phaseOrder = []Phase{
	PhaseRequested,
	PhaseAssigned,
	PhaseEnRoute,
	PhaseArrivedPickup,
	PhaseLoading,
	PhaseInTransit,
	PhaseArrivedDropoff,
	PhaseCompleted,
}

// alternates lists, for each absorbing phase, the phases it can be entered from.
var alternates = map[Phase][]Phase{
	PhaseCancelledByClient: {PhaseRequested, PhaseAssigned, PhaseEnRoute, PhaseArrivedPickup},
	PhaseCancelledByMover:  {PhaseAssigned, PhaseEnRoute, PhaseArrivedPickup},
	PhaseDisputed:          {PhaseAssigned, PhaseEnRoute, PhaseArrivedPickup, PhaseLoading, PhaseInTransit, PhaseArrivedDropoff},
}

// ParsePhase converts s into a known Phase.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: unknown phase %q", ErrValidation, s)
	}
	return p, nil
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	if p.Rank() >= 0 {
		return true
	}
	_, ok := alternates[p]
	return ok
}

// Rank returns the position of p in the operational order, or -1 for
// alternates and unknown values.
func (p Phase) Rank() int {
	for i, o := range phaseOrder {
		if o == p {
			return i
		}
	}
	return -1
}

// Next returns the operational phase following p. It returns false for the
// last phase and for alternates.
func (p Phase) Next() (Phase, bool) {
	r := p.Rank()
	if r < 0 || r == len(phaseOrder)-1 {
		return "", false
	}
	return phaseOrder[r+1], true
}

// Advanceable reports whether the assigned mover may move p forward.
func (p Phase) Advanceable() bool {
	r := p.Rank()
	return r >= PhaseAssigned.Rank() && r < PhaseCompleted.Rank()
}

// Active reports whether a mover is executing the move in phase p.
func (p Phase) Active() bool { return p.Advanceable() }

// Terminal reports whether no further transition can leave p.
func (p Phase) Terminal() bool {
	if p == PhaseCompleted {
		return true
	}
	_, ok := alternates[p]
	return ok
}

// CanTransition reports whether from -> to is allowed by the phase graph.
func CanTransition(from, to Phase) bool {
	if next, ok := from.Next(); ok && next == to {
		return true
	}
	for _, src := range alternates[to] {
		if src == from {
			return true
		}
	}
	return false
}

// Phases returns the operational order.
func Phases() []Phase {
	return append([]Phase(nil), phaseOrder...)
}
