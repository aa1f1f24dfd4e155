package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// FindByPrefix returns all keys sharing the given lookup prefix. The
// middleware bcrypt-compares the presented key against each hash; prefixes
// are long enough that this is normally a single row.
func (r *APIKeyRepo) FindByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, tenant_id, key_prefix, key_hash, created_at
		FROM api_keys WHERE key_prefix = $1
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TenantID, &k.KeyPrefix, &k.KeyHash, &k.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &k)
	}
	return list, rows.Err()
}
