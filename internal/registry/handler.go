package registry

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/relaydesk/backend/internal/middleware"
	"github.com/relaydesk/backend/internal/services"
)

type RegisterAgentRequest struct {
	Name       string  `json:"name"`
	Email      string  `json:"email"`
	HourlyRate float64 `json:"hourly_rate"`
}

type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

// RegisterAgent handles POST /v1/agents.
func (h *Handler) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req RegisterAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.Email == "" {
		http.Error(w, `{"error":"name and email are required"}`, http.StatusBadRequest)
		return
	}
	agent, err := h.svc.Register(r.Context(), tenant.ID, req.Name, req.Email, req.HourlyRate)
	if err != nil {
		h.log.Error("register agent", "error", err)
		http.Error(w, `{"error":"register agent failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// ListAgents handles GET /v1/agents.
func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	list, err := h.svc.List(r.Context(), tenant.ID)
	if err != nil {
		h.log.Error("list agents", "error", err)
		http.Error(w, `{"error":"list agents failed"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// RemoveAgent handles DELETE /v1/agents/{id}. Active requests held by the
// agent return to the queue before the record disappears.
func (h *Handler) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromCtx(r.Context())
	if tenant == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	agentID, ok := extractAgentID(r)
	if !ok {
		http.Error(w, `{"error":"invalid agent id"}`, http.StatusBadRequest)
		return
	}
	if err := h.svc.Remove(r.Context(), tenant.ID, agentID); err != nil {
		if errors.Is(err, services.ErrNotFound) {
			http.Error(w, `{"error":"agent not found"}`, http.StatusNotFound)
			return
		}
		h.log.Error("remove agent", "agent_id", agentID, "error", err)
		http.Error(w, `{"error":"remove agent failed"}`, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// extractAgentID parses the agent UUID from paths like /v1/agents/{id}
// and /v1/agents/{id}/status.
func extractAgentID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/agents/")
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

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
