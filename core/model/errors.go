package model

import "errors"

var (
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound is returned when a move or offer does not exist.
	ErrNotFound = errors.New("not found")
	// ErrRaceLost is returned when the move was already assigned to someone else.
	ErrRaceLost = errors.New("already taken")
	// ErrExpired is returned for offers past their expiry.
	ErrExpired = errors.New("offer expired")
	// ErrInvalidTransition marks an out of order or unauthorised phase change.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrForbidden is returned when the caller does not take part in the move.
	ErrForbidden = errors.New("forbidden")
)
