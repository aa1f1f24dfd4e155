package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/relaydesk/backend/internal/middleware"
	"github.com/relaydesk/backend/internal/models"
	"github.com/relaydesk/backend/internal/services"
)

// Facade is the sync service surface the console handler consumes.
type Facade interface {
	PollRequests(ctx context.Context, tenantID uuid.UUID, statusFilter string, sinceVersion int64) (*services.QueueSnapshot, error)
	PollMessages(ctx context.Context, tenantID, requestID uuid.UUID, cursor string) (*services.MessageBatch, error)
	SendMessage(ctx context.Context, tenantID, requestID uuid.UUID, role, content string) (*models.Message, error)
	ClaimRequest(ctx context.Context, tenantID, requestID, agentID uuid.UUID) (*models.HandoffRequest, error)
	UpdateRequestStatus(ctx context.Context, tenantID, requestID uuid.UUID, status string) (*models.HandoffRequest, error)
	UpdateFields(ctx context.Context, tenantID, requestID uuid.UUID, notes, priority *string) (*models.HandoffRequest, error)
	SetAgentStatus(ctx context.Context, tenantID, agentID uuid.UUID, status string) error
}

// SyncHandler serves the agent console's polling API. Consoles poll the
// queue every few seconds and the open conversation slightly faster; both
// intervals are echoed in the responses.
type SyncHandler struct {
	Sync   Facade
	Logger *slog.Logger
}

// --- GET /v1/handoffs ---

// PollRequests returns the full ranked queue plus the tenant's version
// token. A client that sees an unchanged version can skip re-rendering;
// since_version is the client's last seen token and only feeds the
// response's changed flag.
func (h *SyncHandler) PollRequests(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	sinceVersion, _ := strconv.ParseInt(r.URL.Query().Get("since_version"), 10, 64)
	snapshot, err := h.Sync.PollRequests(r.Context(), tenant.ID, r.URL.Query().Get("status"), sinceVersion)
	if err != nil {
		h.Logger.Error("poll requests", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

// --- POST /v1/handoffs/{id}/claim ---

type claimRequest struct {
	AgentID string `json:"agent_id"`
}

// Claim attempts to take ownership of a queued request. Losing the race is
// answered with 409 and a body the console treats as "refresh the queue",
// never as an error to show the agent.
func (h *SyncHandler) Claim(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	requestID, ok := extractRequestID(r)
	if !ok {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	agentID, err := uuid.Parse(req.AgentID)
	if err != nil {
		http.Error(w, `{"error":"invalid agent_id"}`, http.StatusBadRequest)
		return
	}

	claimed, err := h.Sync.ClaimRequest(r.Context(), tenant.ID, requestID, agentID)
	if err != nil {
		if errors.Is(err, services.ErrAlreadyClaimed) {
			writeJSON(w, http.StatusConflict, map[string]string{"status": "already_claimed"})
			return
		}
		h.writeServiceError(w, "claim request", err)
		return
	}
	writeJSON(w, http.StatusOK, claimed)
}

// --- POST /v1/handoffs/{id}/status ---

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus applies start/close/release transitions by target status.
func (h *SyncHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	requestID, ok := extractRequestID(r)
	if !ok {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	updated, err := h.Sync.UpdateRequestStatus(r.Context(), tenant.ID, requestID, req.Status)
	if err != nil {
		h.writeServiceError(w, "update status", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- PATCH /v1/handoffs/{id} ---

type patchRequest struct {
	Notes    *string `json:"notes"`
	Priority *string `json:"priority"`
}

// Patch updates agent-editable fields. Notes remain editable after the
// request completes; priority does not.
func (h *SyncHandler) Patch(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	requestID, ok := extractRequestID(r)
	if !ok {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	var req patchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	updated, err := h.Sync.UpdateFields(r.Context(), tenant.ID, requestID, req.Notes, req.Priority)
	if err != nil {
		h.writeServiceError(w, "patch request", err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// --- GET /v1/handoffs/{id}/messages ---

func (h *SyncHandler) PollMessages(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	requestID, ok := extractRequestID(r)
	if !ok {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	batch, err := h.Sync.PollMessages(r.Context(), tenant.ID, requestID, r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeServiceError(w, "poll messages", err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// --- POST /v1/handoffs/{id}/messages ---

type sendMessageRequest struct {
	Content string `json:"content"`
}

func (h *SyncHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	requestID, ok := extractRequestID(r)
	if !ok {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return
	}
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		http.Error(w, `{"error":"content is required"}`, http.StatusBadRequest)
		return
	}
	msg, err := h.Sync.SendMessage(r.Context(), tenant.ID, requestID, models.MessageRoleAgent, req.Content)
	if err != nil {
		h.writeServiceError(w, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// --- POST /v1/agents/{id}/status ---

type agentStatusRequest struct {
	Status string `json:"status"`
}

// SetAgentStatus records the agent's availability. Self-service: no side
// effects on the agent's assigned requests.
func (h *SyncHandler) SetAgentStatus(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	agentID, ok := extractPathID(r, "/v1/agents/")
	if !ok {
		http.Error(w, `{"error":"invalid agent id"}`, http.StatusBadRequest)
		return
	}
	var req agentStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Sync.SetAgentStatus(r.Context(), tenant.ID, agentID, req.Status); err != nil {
		h.writeServiceError(w, "set agent status", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": req.Status})
}

// --- helpers ---

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// All of these are visible but non-fatal to the calling UI.
func (h *SyncHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, services.ErrInvalidTransition):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
	case errors.Is(err, services.ErrClosed):
		http.Error(w, `{"error":"request is closed"}`, http.StatusGone)
	default:
		h.Logger.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// extractRequestID parses the request UUID from paths like /v1/handoffs/{id},
// /v1/handoffs/{id}/claim, and /v1/handoffs/{id}/messages.
func extractRequestID(r *http.Request) (uuid.UUID, bool) {
	return extractPathID(r, "/v1/handoffs/")
}

func extractPathID(r *http.Request, prefix string) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, prefix)
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
