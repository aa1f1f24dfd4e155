package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// VersionRepo maintains the per-tenant queue version counter. The counter is
// a cheap change hint for pollers: it moves forward on every request
// mutation, and an unchanged value means the ranked queue cannot have
// changed. It never goes backwards.
type VersionRepo struct {
	pool *pgxpool.Pool
}

func NewVersionRepo(pool *pgxpool.Pool) *VersionRepo {
	return &VersionRepo{pool: pool}
}

// Bump increments the tenant's version and returns the new value, creating
// the counter row on first use. The upsert keeps the increment atomic under
// concurrent façade calls.
func (r *VersionRepo) Bump(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var v int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO queue_versions (tenant_id, version) VALUES ($1, 1)
		ON CONFLICT (tenant_id) DO UPDATE SET version = queue_versions.version + 1
		RETURNING version
	`, tenantID).Scan(&v)
	return v, err
}

// Get returns the tenant's current version, zero when nothing has happened yet.
func (r *VersionRepo) Get(ctx context.Context, tenantID uuid.UUID) (int64, error) {
	var v int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE((SELECT version FROM queue_versions WHERE tenant_id = $1), 0)
	`, tenantID).Scan(&v)
	return v, err
}
