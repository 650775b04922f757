package model

import "time"

// Transition is one append-only entry of a move's status history.
type Transition struct {
	Seq    int64     `json:"seq"`
	MoveID string    `json:"move_id"`
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	Actor  string    `json:"actor"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}
