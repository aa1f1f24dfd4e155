package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/backend/internal/models"
)

type RequestRepo struct {
	pool *pgxpool.Pool
}

func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool}
}

const requestColumns = `id, tenant_id, conversation_id, visitor_id, issue, priority, status, assigned_agent_id, notes, created_at, updated_at`

func scanRequest(row pgx.Row) (*models.HandoffRequest, error) {
	var r models.HandoffRequest
	err := row.Scan(&r.ID, &r.TenantID, &r.ConversationID, &r.VisitorID, &r.Issue, &r.Priority, &r.Status, &r.AssignedAgentID, &r.Notes, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *RequestRepo) Create(ctx context.Context, req *models.HandoffRequest) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO handoff_requests (id, tenant_id, conversation_id, visitor_id, issue, priority, status, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, req.ID, req.TenantID, req.ConversationID, req.VisitorID, req.Issue, req.Priority, req.Status, req.Notes).Scan(&req.CreatedAt, &req.UpdatedAt)
}

func (r *RequestRepo) GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.HandoffRequest, error) {
	return scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM handoff_requests WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
}

// ListByTenant returns the tenant's requests, oldest first so queue ranking
// only has to reorder by priority. statusFilter narrows to one status when
// non-empty.
func (r *RequestRepo) ListByTenant(ctx context.Context, tenantID uuid.UUID, statusFilter string) ([]*models.HandoffRequest, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM handoff_requests WHERE tenant_id = $1`
	args := []any{tenantID}
	if statusFilter != "" {
		query += ` AND status = $2`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.HandoffRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}

// ListAssignedToAgent returns the agent's active requests (assigned or in_progress).
func (r *RequestRepo) ListAssignedToAgent(ctx context.Context, tenantID, agentID uuid.UUID) ([]*models.HandoffRequest, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+`
		FROM handoff_requests
		WHERE tenant_id = $1 AND assigned_agent_id = $2 AND status IN ('assigned', 'in_progress')
		ORDER BY created_at ASC, id ASC
	`, tenantID, agentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.HandoffRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, req)
	}
	return list, rows.Err()
}

// Claim performs the queued -> assigned transition as one conditional UPDATE.
// It reports claimed=false when another agent already won the request; the
// returned row is nil in that case and the caller decides how to react.
// This must stay a single statement: two consoles polling the same queued
// request and claiming at once is the expected case, not an edge case.
func (r *RequestRepo) Claim(ctx context.Context, tenantID, requestID, agentID uuid.UUID) (*models.HandoffRequest, bool, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `
		UPDATE handoff_requests
		SET status = 'assigned', assigned_agent_id = $3, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = 'queued'
		RETURNING `+requestColumns+`
	`, requestID, tenantID, agentID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	return req, true, nil
}

// UpdateStatus applies a validated status transition. The expected current
// status is part of the WHERE clause so a concurrent transition cannot be
// overwritten; zero rows affected means the caller's view was stale.
func (r *RequestRepo) UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to string) (bool, error) {
	// Assignment only exists while the request is active; both queued and
	// completed carry a null assignee.
	clearAssignee := ""
	if to == models.RequestStatusQueued || to == models.RequestStatusCompleted {
		clearAssignee = ", assigned_agent_id = NULL"
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE handoff_requests
		SET status = $4`+clearAssignee+`, updated_at = now()
		WHERE id = $1 AND tenant_id = $2 AND status = $3
	`, id, tenantID, from, to)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateFields persists agent-editable fields (notes, priority). These are
// last-write-wins: human-edited, low-frequency, not coordination-critical.
func (r *RequestRepo) UpdateFields(ctx context.Context, tenantID, id uuid.UUID, notes, priority *string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE handoff_requests
		SET notes = COALESCE($3, notes), priority = COALESCE($4, priority), updated_at = now()
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID, notes, priority)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseAllForAgentTx returns every active request held by the agent to the
// queue. Runs inside the caller's transaction so agent removal is atomic.
func (r *RequestRepo) ReleaseAllForAgentTx(ctx context.Context, tx pgx.Tx, tenantID, agentID uuid.UUID) (int64, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE handoff_requests
		SET status = 'queued', assigned_agent_id = NULL, updated_at = now()
		WHERE tenant_id = $1 AND assigned_agent_id = $2 AND status IN ('assigned', 'in_progress')
	`, tenantID, agentID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// PurgeCompletedBefore deletes completed requests last touched before the
// cutoff. Messages go with them via ON DELETE CASCADE. Used by the
// retention worker.
func (r *RequestRepo) PurgeCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM handoff_requests
		WHERE status = 'completed' AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
