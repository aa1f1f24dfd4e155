package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydesk/backend/internal/events"
	"github.com/relaydesk/backend/internal/models"
)

// SyncRequestRepo is the request repository surface the façade needs beyond
// what the coordinator already guards.
type SyncRequestRepo interface {
	Create(ctx context.Context, req *models.HandoffRequest) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.HandoffRequest, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, statusFilter string) ([]*models.HandoffRequest, error)
	UpdateFields(ctx context.Context, tenantID, id uuid.UUID, notes, priority *string) (bool, error)
}

type SyncMessageRepo interface {
	Append(ctx context.Context, m *models.Message) error
	ListSince(ctx context.Context, requestID uuid.UUID, afterAt time.Time, afterID uuid.UUID) ([]*models.Message, error)
}

type SyncVersionRepo interface {
	Bump(ctx context.Context, tenantID uuid.UUID) (int64, error)
	Get(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

type SyncAgentRepo interface {
	SetStatus(ctx context.Context, tenantID, id uuid.UUID, status string) (bool, error)
}

// Sync is the polling façade consumed by the widget and console handlers.
// Every call is independent and short-lived; concurrency comes from many
// clients polling against one shared store, and the only guarded resource
// is the request's status/assignee pair inside the Coordinator.
type Sync struct {
	Requests    SyncRequestRepo
	Messages    SyncMessageRepo
	Versions    SyncVersionRepo
	Agents      SyncAgentRepo
	Coordinator *Coordinator
	Events      events.Publisher
	Logger      *slog.Logger

	// StaleThreshold classifies queued requests for the poll response.
	StaleThreshold time.Duration
	// QueuePollSeconds and MessagePollSeconds are interval hints echoed to
	// clients so the observed 5s/3s cadence stays server-tunable.
	QueuePollSeconds   int
	MessagePollSeconds int
}

// QueueItem is a ranked request plus its staleness classification.
type QueueItem struct {
	models.HandoffRequest
	Stale bool `json:"stale"`
}

// QueueSnapshot is the pollRequests result: the tenant's full ranked queue
// and a monotonically increasing version token. Changed compares the
// version against the client's since_version hint.
type QueueSnapshot struct {
	Requests            []QueueItem `json:"requests"`
	Version             int64       `json:"version"`
	Changed             bool        `json:"changed"`
	PollIntervalSeconds int         `json:"poll_interval_seconds"`
}

// MessageBatch is the pollMessages result. Cursor points at the last
// returned message, or echoes the input when nothing new arrived.
type MessageBatch struct {
	Messages            []*models.Message `json:"messages"`
	Cursor              string            `json:"cursor"`
	PollIntervalSeconds int               `json:"poll_interval_seconds"`
}

// CreateRequest persists a new handoff request as queued/normal and bumps
// the tenant queue version so polling consoles pick it up.
func (s *Sync) CreateRequest(ctx context.Context, tenantID, conversationID uuid.UUID, visitorID, issue string) (*models.HandoffRequest, error) {
	req := &models.HandoffRequest{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: conversationID,
		VisitorID:      visitorID,
		Issue:          issue,
		Priority:       models.PriorityNormal,
		Status:         models.RequestStatusQueued,
	}
	if err := s.Requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	s.bumpAndPublish(ctx, tenantID, events.KeyQueued, req)
	return req, nil
}

// PollRequests returns the tenant's full ranked queue plus the current
// version token. Ranking is recomputed on every call. sinceVersion is
// advisory: the response always carries the full queue, and Changed just
// tells the client whether re-rendering can be skipped. Zero means the
// client sent no version.
func (s *Sync) PollRequests(ctx context.Context, tenantID uuid.UUID, statusFilter string, sinceVersion int64) (*QueueSnapshot, error) {
	version, err := s.Versions.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read queue version: %w", err)
	}
	list, err := s.Requests.ListByTenant(ctx, tenantID, statusFilter)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	ranked := Rank(list)
	now := time.Now()
	items := make([]QueueItem, 0, len(ranked))
	for _, r := range ranked {
		items = append(items, QueueItem{
			HandoffRequest: *r,
			Stale:          IsStale(r, s.StaleThreshold, now),
		})
	}
	return &QueueSnapshot{
		Requests:            items,
		Version:             version,
		Changed:             version != sinceVersion,
		PollIntervalSeconds: s.QueuePollSeconds,
	}, nil
}

// PollMessages returns the request's messages strictly newer than the
// cursor. Repeated calls with the same cursor are idempotent absent new
// appends.
func (s *Sync) PollMessages(ctx context.Context, tenantID, requestID uuid.UUID, cursor string) (*MessageBatch, error) {
	if _, err := s.getRequest(ctx, tenantID, requestID); err != nil {
		return nil, err
	}
	afterAt, afterID, err := decodeCursor(cursor)
	if err != nil {
		return nil, err
	}
	msgs, err := s.Messages.ListSince(ctx, requestID, afterAt, afterID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	next := cursor
	if len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return &MessageBatch{
		Messages:            msgs,
		Cursor:              next,
		PollIntervalSeconds: s.MessagePollSeconds,
	}, nil
}

// SendMessage appends to the request's conversation. Appends are rejected
// with ErrClosed once the request is completed.
func (s *Sync) SendMessage(ctx context.Context, tenantID, requestID uuid.UUID, role, content string) (*models.Message, error) {
	req, err := s.getRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status == models.RequestStatusCompleted {
		return nil, ErrClosed
	}
	m := &models.Message{
		ID:        uuid.New(),
		RequestID: requestID,
		Role:      role,
		Content:   content,
	}
	if err := s.Messages.Append(ctx, m); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The request completed between the status check and the append.
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("append message: %w", err)
	}
	s.publish(ctx, events.KeyMessage, events.QueueEvent{
		TenantID: tenantID, RequestID: requestID, Status: req.Status,
	})
	return m, nil
}

// ClaimRequest is the claim pass-through. A lost race propagates
// ErrAlreadyClaimed, which callers surface as "refresh and move on".
func (s *Sync) ClaimRequest(ctx context.Context, tenantID, requestID, agentID uuid.UUID) (*models.HandoffRequest, error) {
	req, err := s.Coordinator.Claim(ctx, tenantID, requestID, agentID)
	if err != nil {
		return nil, err
	}
	s.bumpAndPublish(ctx, tenantID, events.KeyClaimed, req)
	return req, nil
}

// UpdateRequestStatus applies a start/close/release transition by target
// status. Assignment is not reachable here; claiming is ClaimRequest's job.
func (s *Sync) UpdateRequestStatus(ctx context.Context, tenantID, requestID uuid.UUID, status string) (*models.HandoffRequest, error) {
	req, err := s.Coordinator.Transition(ctx, tenantID, requestID, status)
	if err != nil {
		return nil, err
	}
	key := events.KeyStatus
	if status == models.RequestStatusQueued {
		key = events.KeyReleased
	}
	s.bumpAndPublish(ctx, tenantID, key, req)
	return req, nil
}

// UpdateFields patches notes and/or priority. Notes stay editable on a
// completed request; priority does not. Either change bumps the tenant
// queue version: both live on the request row pollers render.
func (s *Sync) UpdateFields(ctx context.Context, tenantID, requestID uuid.UUID, notes, priority *string) (*models.HandoffRequest, error) {
	req, err := s.getRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	if priority != nil {
		if !models.ValidPriority(*priority) {
			return nil, fmt.Errorf("%w: unknown priority %q", ErrInvalidTransition, *priority)
		}
		if req.Status == models.RequestStatusCompleted {
			return nil, ErrClosed
		}
	}
	if notes == nil && priority == nil {
		return req, nil
	}
	if _, err := s.Requests.UpdateFields(ctx, tenantID, requestID, notes, priority); err != nil {
		return nil, fmt.Errorf("update fields: %w", err)
	}
	updated, err := s.getRequest(ctx, tenantID, requestID)
	if err != nil {
		return nil, err
	}
	s.bumpAndPublish(ctx, tenantID, events.KeyStatus, updated)
	return updated, nil
}

// SetAgentStatus records the agent's self-reported availability. No side
// effects on assigned requests and no queue version bump.
func (s *Sync) SetAgentStatus(ctx context.Context, tenantID, agentID uuid.UUID, status string) error {
	if !models.ValidAgentStatus(status) {
		return fmt.Errorf("%w: unknown agent status %q", ErrInvalidTransition, status)
	}
	ok, err := s.Agents.SetStatus(ctx, tenantID, agentID, status)
	if err != nil {
		return fmt.Errorf("set agent status: %w", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *Sync) getRequest(ctx context.Context, tenantID, requestID uuid.UUID) (*models.HandoffRequest, error) {
	req, err := s.Requests.GetByID(ctx, tenantID, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	return req, nil
}

// bumpAndPublish advances the tenant queue version and emits the queue
// event. Neither failure disturbs the already-committed mutation: the next
// poll returns fresh rows regardless, so both are logged and swallowed.
func (s *Sync) bumpAndPublish(ctx context.Context, tenantID uuid.UUID, key string, req *models.HandoffRequest) {
	version, err := s.Versions.Bump(ctx, tenantID)
	if err != nil {
		s.Logger.Error("bump queue version", "tenant_id", tenantID, "error", err)
	}
	s.publish(ctx, key, events.QueueEvent{
		TenantID:  tenantID,
		RequestID: req.ID,
		Status:    req.Status,
		AgentID:   req.AssignedAgentID,
		Version:   version,
	})
}

func (s *Sync) publish(ctx context.Context, key string, ev events.QueueEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, key, ev); err != nil {
		s.Logger.Warn("publish queue event", "key", key, "error", err)
	}
}

// Cursor format: "<RFC3339Nano created_at>|<message uuid>", opaque to
// clients. The empty cursor means "from the beginning".
func encodeCursor(at time.Time, id uuid.UUID) string {
	return at.UTC().Format(time.RFC3339Nano) + "|" + id.String()
}

func decodeCursor(cursor string) (time.Time, uuid.UUID, error) {
	if cursor == "" {
		return time.Time{}, uuid.Nil, nil
	}
	at, idPart, ok := strings.Cut(cursor, "|")
	if !ok {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor timestamp")
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return time.Time{}, uuid.Nil, fmt.Errorf("malformed cursor id")
	}
	return t, id, nil
}
