package models

import (
	"time"

	"github.com/google/uuid"
)

// Handoff request lifecycle states. The only legal transitions are:
//
//	queued --claim--> assigned --start--> in_progress --close--> completed
//	queued --close--> completed
//	assigned/in_progress --release--> queued
//
// There is no transition out of completed.
const (
	RequestStatusQueued     = "queued"
	RequestStatusAssigned   = "assigned"
	RequestStatusInProgress = "in_progress"
	RequestStatusCompleted  = "completed"
)

// Request priority levels, mutable by the handling agent.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

type HandoffRequest struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	ConversationID  uuid.UUID  `json:"conversation_id"`
	VisitorID       string     `json:"visitor_id"`
	Issue           string     `json:"issue,omitempty"`
	Priority        string     `json:"priority"`
	Status          string     `json:"status"`
	AssignedAgentID *uuid.UUID `json:"assigned_agent_id,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Active reports whether the request currently holds an agent assignment.
func (r *HandoffRequest) Active() bool {
	return r.Status == RequestStatusAssigned || r.Status == RequestStatusInProgress
}

// PriorityRank maps a priority to its queue weight. Unknown values rank as normal.
func PriorityRank(priority string) int {
	switch priority {
	case PriorityUrgent:
		return 3
	case PriorityHigh:
		return 2
	case PriorityLow:
		return 0
	default:
		return 1
	}
}

// ValidPriority reports whether p is one of the four known priority levels.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// ValidTransition reports whether a status change from -> to follows the
// request state machine. Same-status "transitions" are not valid; callers
// that want idempotent updates must check equality first.
func ValidTransition(from, to string) bool {
	switch from {
	case RequestStatusQueued:
		return to == RequestStatusAssigned || to == RequestStatusCompleted
	case RequestStatusAssigned:
		return to == RequestStatusInProgress || to == RequestStatusCompleted || to == RequestStatusQueued
	case RequestStatusInProgress:
		return to == RequestStatusCompleted || to == RequestStatusQueued
	}
	return false
}
