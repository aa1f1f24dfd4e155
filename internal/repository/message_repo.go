package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relaydesk/backend/internal/models"
)

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

// Append inserts the message unless the request has completed. The status
// guard sits inside the INSERT so a close racing this append cannot land a
// message on a just-closed conversation; zero rows surfaces as pgx.ErrNoRows.
func (r *MessageRepo) Append(ctx context.Context, m *models.Message) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO messages (id, request_id, role, content)
		SELECT $1, $2, $3, $4
		WHERE EXISTS (
			SELECT 1 FROM handoff_requests WHERE id = $2 AND status <> 'completed'
		)
		RETURNING created_at
	`, m.ID, m.RequestID, m.Role, m.Content).Scan(&m.CreatedAt)
}

// ListSince returns the request's messages strictly newer than the cursor
// position, in (created_at, id) order. A zero afterAt means "from the
// beginning". The id tie-break makes the cursor exact even when two
// messages share a timestamp.
func (r *MessageRepo) ListSince(ctx context.Context, requestID uuid.UUID, afterAt time.Time, afterID uuid.UUID) ([]*models.Message, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, request_id, role, content, created_at
		FROM messages
		WHERE request_id = $1 AND (created_at, id) > ($2, $3)
		ORDER BY created_at ASC, id ASC
	`, requestID, afterAt, afterID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.RequestID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &m)
	}
	return list, rows.Err()
}
