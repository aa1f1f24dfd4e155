package models

import (
	"time"

	"github.com/google/uuid"
)

type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	// WidgetKey is the public key embedded in the visitor widget snippet.
	// It only authorizes creating handoff requests for this tenant.
	WidgetKey string    `json:"widget_key"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is a console credential. The raw key is shown once at creation;
// only a bcrypt hash plus a short lookup prefix are stored.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	KeyPrefix string    `json:"key_prefix"`
	KeyHash   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
