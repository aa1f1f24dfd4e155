package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles. Visitor-side appends are "user", console appends are "agent".
const (
	MessageRoleUser  = "user"
	MessageRoleAgent = "agent"
)

// Message is one entry in a handoff request's conversation channel.
// Messages are append-only and totally ordered by (created_at, id).
type Message struct {
	ID        uuid.UUID `json:"id"`
	RequestID uuid.UUID `json:"request_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}
