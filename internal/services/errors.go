package services

import "errors"

var (
	// ErrNotFound is returned for an unknown request, agent, or tenant id.
	ErrNotFound = errors.New("not found")

	// ErrInvalidTransition is returned when a requested status change does
	// not follow the request state machine. Stored state is left unchanged.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrAlreadyClaimed means another agent won the claim race. Expected
	// under concurrent polling, recoverable by refreshing the queue.
	ErrAlreadyClaimed = errors.New("request already claimed")

	// ErrClosed is returned when appending to a completed request's
	// conversation.
	ErrClosed = errors.New("request is closed")
)
