package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relaydesk/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory store mock
// ---------------------------------------------------------------------------

// memStore reproduces the repository contracts against maps. Claim and
// UpdateStatus hold the mutex across their read-check-write, mirroring the
// atomicity of the production conditional UPDATE.
type memStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*models.HandoffRequest
	messages []*models.Message
	versions map[uuid.UUID]int64
	agents   map[uuid.UUID]*models.Agent
}

func newMemStore() *memStore {
	return &memStore{
		requests: make(map[uuid.UUID]*models.HandoffRequest),
		versions: make(map[uuid.UUID]int64),
		agents:   make(map[uuid.UUID]*models.Agent),
	}
}

func (s *memStore) Create(_ context.Context, req *models.HandoffRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	req.UpdatedAt = req.CreatedAt
	cp := *req
	s.requests[req.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, tenantID, id uuid.UUID) (*models.HandoffRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.TenantID != tenantID {
		return nil, pgx.ErrNoRows
	}
	cp := *req
	return &cp, nil
}

func (s *memStore) ListByTenant(_ context.Context, tenantID uuid.UUID, statusFilter string) ([]*models.HandoffRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.HandoffRequest
	for _, req := range s.requests {
		if req.TenantID != tenantID {
			continue
		}
		if statusFilter != "" && req.Status != statusFilter {
			continue
		}
		cp := *req
		list = append(list, &cp)
	}
	return list, nil
}

func (s *memStore) Claim(_ context.Context, tenantID, requestID, agentID uuid.UUID) (*models.HandoffRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.TenantID != tenantID || req.Status != models.RequestStatusQueued {
		return nil, false, nil
	}
	req.Status = models.RequestStatusAssigned
	req.AssignedAgentID = &agentID
	req.UpdatedAt = time.Now()
	cp := *req
	return &cp, true, nil
}

func (s *memStore) UpdateStatus(_ context.Context, tenantID, id uuid.UUID, from, to string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.TenantID != tenantID || req.Status != from {
		return false, nil
	}
	req.Status = to
	if to == models.RequestStatusQueued || to == models.RequestStatusCompleted {
		req.AssignedAgentID = nil
	}
	req.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) UpdateFields(_ context.Context, tenantID, id uuid.UUID, notes, priority *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.TenantID != tenantID {
		return false, nil
	}
	if notes != nil {
		req.Notes = *notes
	}
	if priority != nil {
		req.Priority = *priority
	}
	req.UpdatedAt = time.Now()
	return true, nil
}

func (s *memStore) Append(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[m.RequestID]
	if !ok || req.Status == models.RequestStatusCompleted {
		return pgx.ErrNoRows
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	cp := *m
	s.messages = append(s.messages, &cp)
	return nil
}

func (s *memStore) ListSince(_ context.Context, requestID uuid.UUID, afterAt time.Time, afterID uuid.UUID) ([]*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var list []*models.Message
	for _, m := range s.messages {
		if m.RequestID != requestID {
			continue
		}
		if m.CreatedAt.Before(afterAt) {
			continue
		}
		if m.CreatedAt.Equal(afterAt) && m.ID.String() <= afterID.String() {
			continue
		}
		cp := *m
		list = append(list, &cp)
	}
	sortMessages(list)
	return list, nil
}

func sortMessages(list []*models.Message) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0; j-- {
			a, b := list[j-1], list[j]
			if a.CreatedAt.Before(b.CreatedAt) || (a.CreatedAt.Equal(b.CreatedAt) && a.ID.String() < b.ID.String()) {
				break
			}
			list[j-1], list[j] = b, a
		}
	}
}

func (s *memStore) Bump(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.versions[tenantID]++
	return s.versions[tenantID], nil
}

func (s *memStore) Get(_ context.Context, tenantID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[tenantID], nil
}

func (s *memStore) SetStatus(_ context.Context, tenantID, id uuid.UUID, status string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ag, ok := s.agents[id]
	if !ok || ag.TenantID != tenantID {
		return false, nil
	}
	ag.Status = status
	return true, nil
}

// seedQueued inserts a queued request directly into the store.
func (s *memStore) seedQueued(tenantID uuid.UUID, priority string, createdAt time.Time) *models.HandoffRequest {
	req := &models.HandoffRequest{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ConversationID: uuid.New(),
		VisitorID:      "visitor-1",
		Priority:       priority,
		Status:         models.RequestStatusQueued,
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
	s.mu.Lock()
	s.requests[req.ID] = req
	s.mu.Unlock()
	return req
}

// ---------------------------------------------------------------------------
// Claim
// ---------------------------------------------------------------------------

func TestClaimRace_ExactlyOneWinner(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	tenantID := uuid.New()
	req := store.seedQueued(tenantID, models.PriorityNormal, time.Now())

	agentA := uuid.New()
	agentB := uuid.New()

	var wg sync.WaitGroup
	results := make([]error, 2)
	winners := make([]*models.HandoffRequest, 2)
	for i, agent := range []uuid.UUID{agentA, agentB} {
		wg.Add(1)
		go func(i int, agent uuid.UUID) {
			defer wg.Done()
			winners[i], results[i] = coord.Claim(context.Background(), tenantID, req.ID, agent)
		}(i, agent)
	}
	wg.Wait()

	var wins, losses int
	var winnerAgent uuid.UUID
	for i := range results {
		switch {
		case results[i] == nil:
			wins++
			if winners[i].AssignedAgentID == nil {
				t.Fatal("winning claim returned request without assignee")
			}
			winnerAgent = *winners[i].AssignedAgentID
		case errors.Is(results[i], ErrAlreadyClaimed):
			losses++
		default:
			t.Fatalf("unexpected claim error: %v", results[i])
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("expected exactly one winner and one AlreadyClaimed, got wins=%d losses=%d", wins, losses)
	}

	final, err := store.GetByID(context.Background(), tenantID, req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != models.RequestStatusAssigned {
		t.Fatalf("expected assigned, got %s", final.Status)
	}
	if final.AssignedAgentID == nil || *final.AssignedAgentID != winnerAgent {
		t.Fatal("stored assignee does not match the winning agent")
	}
}

func TestClaimRace_ManyClaimants(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	tenantID := uuid.New()
	req := store.seedQueued(tenantID, models.PriorityNormal, time.Now())

	const n = 25
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = coord.Claim(context.Background(), tenantID, req.ID, uuid.New())
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
		} else if !errors.Is(err, ErrAlreadyClaimed) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 winner out of %d claimants, got %d", n, wins)
	}
}

func TestClaim_UnknownRequest(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)

	_, err := coord.Claim(context.Background(), uuid.New(), uuid.New(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClaim_WrongTenant(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	req := store.seedQueued(uuid.New(), models.PriorityNormal, time.Now())

	_, err := coord.Claim(context.Background(), uuid.New(), req.ID, uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign tenant, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Transitions
// ---------------------------------------------------------------------------

func TestTransition_FullLifecycle(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	tenantID := uuid.New()
	req := store.seedQueued(tenantID, models.PriorityNormal, time.Now())
	agentID := uuid.New()

	if _, err := coord.Claim(context.Background(), tenantID, req.ID, agentID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	started, err := coord.Start(context.Background(), tenantID, req.ID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if started.Status != models.RequestStatusInProgress {
		t.Fatalf("expected in_progress, got %s", started.Status)
	}
	if started.AssignedAgentID == nil || *started.AssignedAgentID != agentID {
		t.Fatal("start must keep the assignee")
	}

	closed, err := coord.Close(context.Background(), tenantID, req.ID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Status != models.RequestStatusCompleted {
		t.Fatalf("expected completed, got %s", closed.Status)
	}
	if closed.AssignedAgentID != nil {
		t.Fatal("completed request must not carry an assignee")
	}
}

func TestTransition_CloseFromQueued(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	tenantID := uuid.New()
	req := store.seedQueued(tenantID, models.PriorityNormal, time.Now())

	closed, err := coord.Close(context.Background(), tenantID, req.ID)
	if err != nil {
		t.Fatalf("close from queued: %v", err)
	}
	if closed.Status != models.RequestStatusCompleted {
		t.Fatalf("expected completed, got %s", closed.Status)
	}
}

func TestTransition_IllegalEdgesRejected(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	tenantID := uuid.New()

	// queued -> in_progress skips assignment.
	req := store.seedQueued(tenantID, models.PriorityNormal, time.Now())
	if _, err := coord.Start(context.Background(), tenantID, req.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for queued->in_progress, got %v", err)
	}
	// queued -> queued (release without assignment).
	if _, err := coord.Release(context.Background(), tenantID, req.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for queued->queued, got %v", err)
	}
	// Direct transition to assigned bypassing Claim.
	if _, err := coord.Transition(context.Background(), tenantID, req.ID, models.RequestStatusAssigned); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for explicit ->assigned, got %v", err)
	}

	// No transition out of completed.
	if _, err := coord.Close(context.Background(), tenantID, req.ID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := coord.Release(context.Background(), tenantID, req.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition out of completed, got %v", err)
	}
	if _, err := coord.Close(context.Background(), tenantID, req.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for completed->completed, got %v", err)
	}

	// State unchanged by the rejected attempts.
	final, err := store.GetByID(context.Background(), tenantID, req.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if final.Status != models.RequestStatusCompleted {
		t.Fatalf("rejected transitions must leave state unchanged, got %s", final.Status)
	}
}

func TestRelease_ReturnsToQueue(t *testing.T) {
	store := newMemStore()
	coord := NewCoordinator(store)
	tenantID := uuid.New()
	req := store.seedQueued(tenantID, models.PriorityNormal, time.Now())
	agentID := uuid.New()

	if _, err := coord.Claim(context.Background(), tenantID, req.ID, agentID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := coord.Start(context.Background(), tenantID, req.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	released, err := coord.Release(context.Background(), tenantID, req.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.Status != models.RequestStatusQueued {
		t.Fatalf("expected queued, got %s", released.Status)
	}
	if released.AssignedAgentID != nil {
		t.Fatal("released request must have no assignee")
	}

	// The request is claimable again.
	if _, err := coord.Claim(context.Background(), tenantID, req.ID, uuid.New()); err != nil {
		t.Fatalf("re-claim after release: %v", err)
	}
}
