package models

import (
	"time"

	"github.com/google/uuid"
)

// Agent availability, self-reported from the console. Changing it never
// touches requests already assigned to the agent.
const (
	AgentStatusAvailable = "available"
	AgentStatusBusy      = "busy"
	AgentStatusOffline   = "offline"
)

type Agent struct {
	ID         uuid.UUID `json:"id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	HourlyRate float64   `json:"hourly_rate"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ValidAgentStatus reports whether s is one of the three availability states.
func ValidAgentStatus(s string) bool {
	switch s {
	case AgentStatusAvailable, AgentStatusBusy, AgentStatusOffline:
		return true
	}
	return false
}
