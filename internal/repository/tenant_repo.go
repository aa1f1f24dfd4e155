package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/backend/internal/models"
)

type TenantRepo struct {
	pool *pgxpool.Pool
}

func NewTenantRepo(pool *pgxpool.Pool) *TenantRepo {
	return &TenantRepo{pool: pool}
}

func (r *TenantRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error) {
	var t models.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, widget_key, created_at FROM tenants WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.WidgetKey, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByWidgetKey resolves the tenant behind a public widget key. The widget
// key only authorizes creating handoff requests, never console operations.
func (r *TenantRepo) GetByWidgetKey(ctx context.Context, widgetKey string) (*models.Tenant, error) {
	var t models.Tenant
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, widget_key, created_at FROM tenants WHERE widget_key = $1
	`, widgetKey).Scan(&t.ID, &t.Name, &t.WidgetKey, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
