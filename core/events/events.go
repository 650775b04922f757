package events

import (
	"slices"
	"time"

	"github.com/kilianp07/movedispatch/core/model"
)

// Kind names an event type.
type Kind string

const (
	KindOfferCreated    Kind = "offer.created"
	KindOfferClosed     Kind = "offer.closed"
	KindMoveAssigned    Kind = "move.assigned"
	KindPhaseChanged    Kind = "move.phase_changed"
	KindLocationUpdated Kind = "location.updated"
)

// Event is the envelope sent to subscribers. ID is the offer id or move id
// the event refers to; receivers dedupe on (Kind, ID).
type Event struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	ServerTime time.Time `json:"server_time"`
	Payload    any       `json:"payload"`
	Recipients []string  `json:"-"`
}

// AddressedTo reports whether user is one of the recipients.
func (e Event) AddressedTo(user string) bool {
	return slices.Contains(e.Recipients, user)
}

// Publisher accepts events for delivery. Implementations must not block.
type Publisher interface {
	Publish(Event)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// OfferCreated builds the event announcing a new offer to its mover.
func OfferCreated(o model.Offer, now time.Time) Event {
	return Event{ID: o.ID, Kind: KindOfferCreated, ServerTime: now, Payload: o, Recipients: []string{o.MoverID}}
}

// OfferClosed builds the event telling a mover an offer is no longer open.
func OfferClosed(o model.Offer, now time.Time) Event {
	return Event{ID: o.ID, Kind: KindOfferClosed, ServerTime: now, Payload: o, Recipients: []string{o.MoverID}}
}

// MoveAssigned builds the event sent to the client and the winning mover.
func MoveAssigned(m model.Move, now time.Time) Event {
	return Event{ID: m.ID, Kind: KindMoveAssigned, ServerTime: now, Payload: m, Recipients: parties(m)}
}

// PhasePayload carries the move snapshot and the transition that produced it.
type PhasePayload struct {
	Move       model.Move       `json:"move"`
	Transition model.Transition `json:"transition"`
}

// PhaseChanged builds the event mirroring a transition to both parties.
func PhaseChanged(m model.Move, tr model.Transition, now time.Time) Event {
	return Event{ID: m.ID, Kind: KindPhaseChanged, ServerTime: now, Payload: PhasePayload{Move: m, Transition: tr}, Recipients: parties(m)}
}

// LocationUpdated builds the event relaying a sample to the given users.
func LocationUpdated(s model.LocationSample, now time.Time, recipients ...string) Event {
	return Event{ID: s.MoverID, Kind: KindLocationUpdated, ServerTime: now, Payload: s, Recipients: recipients}
}

func parties(m model.Move) []string {
	out := []string{m.ClientID}
	if m.AssignedMover != "" {
		out = append(out, m.AssignedMover)
	}
	return out
}

// GapFunc is called when ev could not be pushed to recipient over channel.
type GapFunc func(channel, recipient string, ev Event)
