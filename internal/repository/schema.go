package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// schema is applied idempotently at startup. River manages its own tables
// through rivermigrate.
const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id         UUID PRIMARY KEY,
	name       TEXT NOT NULL,
	widget_key TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS api_keys (
	id         UUID PRIMARY KEY,
	tenant_id  UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	key_prefix TEXT NOT NULL,
	key_hash   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS api_keys_prefix_idx ON api_keys (key_prefix);

CREATE TABLE IF NOT EXISTS agents (
	id          UUID PRIMARY KEY,
	tenant_id   UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	name        TEXT NOT NULL,
	email       TEXT NOT NULL,
	hourly_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
	status      TEXT NOT NULL DEFAULT 'available',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS agents_tenant_idx ON agents (tenant_id);

CREATE TABLE IF NOT EXISTS handoff_requests (
	id                UUID PRIMARY KEY,
	tenant_id         UUID NOT NULL REFERENCES tenants(id) ON DELETE CASCADE,
	conversation_id   UUID NOT NULL,
	visitor_id        TEXT NOT NULL,
	issue             TEXT NOT NULL DEFAULT '',
	priority          TEXT NOT NULL DEFAULT 'normal',
	status            TEXT NOT NULL DEFAULT 'queued',
	assigned_agent_id UUID REFERENCES agents(id) ON DELETE SET NULL,
	notes             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT assignee_matches_status CHECK (
		(assigned_agent_id IS NOT NULL) = (status IN ('assigned', 'in_progress'))
	)
);
CREATE INDEX IF NOT EXISTS handoff_requests_tenant_status_idx ON handoff_requests (tenant_id, status);
CREATE INDEX IF NOT EXISTS handoff_requests_agent_idx ON handoff_requests (assigned_agent_id) WHERE assigned_agent_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS messages (
	id         UUID PRIMARY KEY,
	request_id UUID NOT NULL REFERENCES handoff_requests(id) ON DELETE CASCADE,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS messages_request_order_idx ON messages (request_id, created_at, id);

CREATE TABLE IF NOT EXISTS queue_versions (
	tenant_id UUID PRIMARY KEY REFERENCES tenants(id) ON DELETE CASCADE,
	version   BIGINT NOT NULL DEFAULT 0
);
`

// EnsureSchema creates the application tables if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schema)
	return err
}
