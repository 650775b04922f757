// Package events defines the real-time notifications emitted by dispatch,
// lifecycle and tracking. Every event carries the id receivers dedupe on
// and the server time it was produced at.
//
// Available event kinds:
//   - offer.created: a candidate received an offer
//   - offer.closed: an offer was settled without being accepted
//   - move.assigned: a mover won the move
//   - move.phase_changed: a phase transition was applied
//   - location.updated: a mover reported a newer position
package events
