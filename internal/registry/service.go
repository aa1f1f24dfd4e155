package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydesk/backend/internal/events"
	"github.com/relaydesk/backend/internal/models"
	"github.com/relaydesk/backend/internal/services"
)

// AgentRepo is the agent repository surface the registry needs.
type AgentRepo interface {
	Create(ctx context.Context, a *models.Agent) error
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.Agent, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]*models.Agent, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, tenantID, id uuid.UUID) (bool, error)
}

// RequestRepo covers the release-on-removal path.
type RequestRepo interface {
	ListAssignedToAgent(ctx context.Context, tenantID, agentID uuid.UUID) ([]*models.HandoffRequest, error)
	ReleaseAllForAgentTx(ctx context.Context, tx pgx.Tx, tenantID, agentID uuid.UUID) (int64, error)
}

type VersionRepo interface {
	Bump(ctx context.Context, tenantID uuid.UUID) (int64, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service interface {
	Register(ctx context.Context, tenantID uuid.UUID, name, email string, hourlyRate float64) (*models.Agent, error)
	Get(ctx context.Context, tenantID, agentID uuid.UUID) (*models.Agent, error)
	List(ctx context.Context, tenantID uuid.UUID) ([]*models.Agent, error)
	Remove(ctx context.Context, tenantID, agentID uuid.UUID) error
}

type service struct {
	pool     TxBeginner
	agents   AgentRepo
	requests RequestRepo
	versions VersionRepo
	events   events.Publisher
	log      *slog.Logger
}

func NewService(pool TxBeginner, agents AgentRepo, requests RequestRepo, versions VersionRepo, pub events.Publisher, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{pool: pool, agents: agents, requests: requests, versions: versions, events: pub, log: log}
}

var _ Service = (*service)(nil)

// Register creates an agent with initial status available. Plan/quota
// checks happen upstream; a call that reaches here is already authorized.
func (s *service) Register(ctx context.Context, tenantID uuid.UUID, name, email string, hourlyRate float64) (*models.Agent, error) {
	a := &models.Agent{
		ID:         uuid.New(),
		TenantID:   tenantID,
		Name:       strings.TrimSpace(name),
		Email:      strings.TrimSpace(email),
		HourlyRate: hourlyRate,
		Status:     models.AgentStatusAvailable,
	}
	if err := s.agents.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	return a, nil
}

func (s *service) Get(ctx context.Context, tenantID, agentID uuid.UUID) (*models.Agent, error) {
	a, err := s.agents.GetByID(ctx, tenantID, agentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, services.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *service) List(ctx context.Context, tenantID uuid.UUID) ([]*models.Agent, error) {
	return s.agents.ListByTenant(ctx, tenantID)
}

// Remove hard-deletes the agent. Every request the agent still holds goes
// back to queued first, in the same transaction, so no in-flight work is
// lost and no released request ever points at a missing agent.
func (s *service) Remove(ctx context.Context, tenantID, agentID uuid.UUID) error {
	if _, err := s.Get(ctx, tenantID, agentID); err != nil {
		return err
	}
	active, err := s.requests.ListAssignedToAgent(ctx, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("list active requests: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin remove tx: %w", err)
	}
	defer tx.Rollback(ctx)

	released, err := s.requests.ReleaseAllForAgentTx(ctx, tx, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("release requests: %w", err)
	}
	ok, err := s.agents.DeleteTx(ctx, tx, tenantID, agentID)
	if err != nil {
		return fmt.Errorf("delete agent: %w", err)
	}
	if !ok {
		return services.ErrNotFound
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit remove tx: %w", err)
	}

	if released > 0 {
		if _, err := s.versions.Bump(ctx, tenantID); err != nil {
			s.log.Error("bump queue version after agent removal", "tenant_id", tenantID, "error", err)
		}
		for _, req := range active {
			ev := events.QueueEvent{TenantID: tenantID, RequestID: req.ID, Status: models.RequestStatusQueued}
			if err := s.events.Publish(ctx, events.KeyReleased, ev); err != nil {
				s.log.Warn("publish release event", "request_id", req.ID, "error", err)
			}
		}
	}
	s.log.Info("agent removed", "agent_id", agentID, "released_requests", released)
	return nil
}
