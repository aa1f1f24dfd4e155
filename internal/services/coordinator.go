package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydesk/backend/internal/models"
)

// CoordinatorRequestRepo is the request repository interface used by the
// claim coordinator. Claim must be an atomic conditional write on the
// backing store, not a read followed by a write.
type CoordinatorRequestRepo interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (*models.HandoffRequest, error)
	Claim(ctx context.Context, tenantID, requestID, agentID uuid.UUID) (*models.HandoffRequest, bool, error)
	UpdateStatus(ctx context.Context, tenantID, id uuid.UUID, from, to string) (bool, error)
}

// Coordinator serializes concurrent claim attempts so exactly one agent wins
// a queued request, and applies the remaining state-machine transitions with
// the same compare-and-swap discipline.
type Coordinator struct {
	Requests CoordinatorRequestRepo
}

func NewCoordinator(requests CoordinatorRequestRepo) *Coordinator {
	return &Coordinator{Requests: requests}
}

// Claim attempts the queued -> assigned transition for the given agent.
// Losing the race returns ErrAlreadyClaimed; the caller should refresh its
// queue view rather than surface an error.
func (c *Coordinator) Claim(ctx context.Context, tenantID, requestID, agentID uuid.UUID) (*models.HandoffRequest, error) {
	req, won, err := c.Requests.Claim(ctx, tenantID, requestID, agentID)
	if err != nil {
		return nil, fmt.Errorf("claim request: %w", err)
	}
	if won {
		return req, nil
	}

	// Zero rows: either the request does not exist or it left the queued
	// state. Distinguish so unknown ids still report NotFound.
	if _, err := c.Requests.GetByID(ctx, tenantID, requestID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim lookup: %w", err)
	}
	return nil, ErrAlreadyClaimed
}

// Transition moves the request to the target status, validating the edge
// against the state machine first. The current status read here is only
// used for validation; the store update re-checks it, so a concurrent
// transition surfaces as ErrInvalidTransition instead of being overwritten.
func (c *Coordinator) Transition(ctx context.Context, tenantID, requestID uuid.UUID, to string) (*models.HandoffRequest, error) {
	req, err := c.Requests.GetByID(ctx, tenantID, requestID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load request: %w", err)
	}
	if !models.ValidTransition(req.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, to)
	}
	if to == models.RequestStatusAssigned {
		// Assignment carries an agent id and goes through Claim only.
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, req.Status, to)
	}

	ok, err := c.Requests.UpdateStatus(ctx, tenantID, requestID, req.Status, to)
	if err != nil {
		return nil, fmt.Errorf("update status: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: request changed concurrently", ErrInvalidTransition)
	}

	updated, err := c.Requests.GetByID(ctx, tenantID, requestID)
	if err != nil {
		return nil, fmt.Errorf("reload request: %w", err)
	}
	return updated, nil
}

// Start moves an assigned request to in_progress.
func (c *Coordinator) Start(ctx context.Context, tenantID, requestID uuid.UUID) (*models.HandoffRequest, error) {
	return c.Transition(ctx, tenantID, requestID, models.RequestStatusInProgress)
}

// Close completes the request from any non-completed status.
func (c *Coordinator) Close(ctx context.Context, tenantID, requestID uuid.UUID) (*models.HandoffRequest, error) {
	return c.Transition(ctx, tenantID, requestID, models.RequestStatusCompleted)
}

// Release returns an assigned or in_progress request to the queue, clearing
// the assignee. Used when an agent is removed or explicitly unclaims.
func (c *Coordinator) Release(ctx context.Context, tenantID, requestID uuid.UUID) (*models.HandoffRequest, error) {
	return c.Transition(ctx, tenantID, requestID, models.RequestStatusQueued)
}
