package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/backend/internal/models"
)

type AgentRepo struct {
	pool *pgxpool.Pool
}

func NewAgentRepo(pool *pgxpool.Pool) *AgentRepo {
	return &AgentRepo{pool: pool}
}

const agentColumns = `id, tenant_id, name, email, hourly_rate, status, created_at, updated_at`

func scanAgent(row pgx.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Email, &a.HourlyRate, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *AgentRepo) Create(ctx context.Context, a *models.Agent) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO agents (id, tenant_id, name, email, hourly_rate, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, a.ID, a.TenantID, a.Name, a.Email, a.HourlyRate, a.Status).Scan(&a.CreatedAt, &a.UpdatedAt)
}

func (r *AgentRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Agent, error) {
	return scanAgent(r.pool.QueryRow(ctx, `
		SELECT `+agentColumns+`
		FROM agents WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
}

func (r *AgentRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Agent, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+agentColumns+`
		FROM agents WHERE tenant_id = $1 ORDER BY created_at ASC
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// SetStatus updates the agent's self-reported availability. It has no side
// effects on requests assigned to the agent.
func (r *AgentRepo) SetStatus(ctx context.Context, tenantID, id uuid.UUID, status string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE agents SET status = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteTx removes the agent row inside the caller's transaction. The
// registry service releases the agent's active requests first.
func (r *AgentRepo) DeleteTx(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `DELETE FROM agents WHERE id = $1 AND tenant_id = $2`, id, tenantID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}
