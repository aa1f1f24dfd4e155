package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/relaydesk/backend/internal/middleware"
	"github.com/relaydesk/backend/internal/models"
	"github.com/relaydesk/backend/internal/services"
)

// WidgetTenantRepo resolves the tenant behind a public widget key.
type WidgetTenantRepo interface {
	GetByWidgetKey(ctx context.Context, widgetKey string) (*models.Tenant, error)
}

// WidgetFacade is the sync service surface the widget consumes. The widget
// never claims requests or touches agent availability.
type WidgetFacade interface {
	CreateRequest(ctx context.Context, tenantID, conversationID uuid.UUID, visitorID, issue string) (*models.HandoffRequest, error)
	PollMessages(ctx context.Context, tenantID, requestID uuid.UUID, cursor string) (*services.MessageBatch, error)
	SendMessage(ctx context.Context, tenantID, requestID uuid.UUID, role, content string) (*models.Message, error)
}

// WidgetHandler serves the embedded visitor widget. Creating a handoff
// returns a signed token scoped to that one request; subsequent polling and
// visitor messages present it as a Bearer credential.
type WidgetHandler struct {
	Tenants     WidgetTenantRepo
	Sync        WidgetFacade
	TokenSecret []byte
	Logger      *slog.Logger
}

// --- POST /v1/widget/handoffs ---

type createHandoffRequest struct {
	WidgetKey      string `json:"widget_key"`
	ConversationID string `json:"conversation_id"`
	VisitorID      string `json:"visitor_id"`
	Issue          string `json:"issue"`
}

type createHandoffResponse struct {
	Request *models.HandoffRequest `json:"request"`
	Token   string                 `json:"token"`
}

// CreateHandoff creates a queued request for the tenant identified by the
// public widget key and returns the widget token for follow-up polling.
func (h *WidgetHandler) CreateHandoff(w http.ResponseWriter, r *http.Request) {
	var req createHandoffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.WidgetKey == "" || req.VisitorID == "" {
		http.Error(w, `{"error":"widget_key and visitor_id are required"}`, http.StatusBadRequest)
		return
	}

	tenant, err := h.Tenants.GetByWidgetKey(r.Context(), req.WidgetKey)
	if err != nil {
		http.Error(w, `{"error":"unknown widget key"}`, http.StatusUnauthorized)
		return
	}

	conversationID := uuid.New()
	if req.ConversationID != "" {
		id, err := uuid.Parse(req.ConversationID)
		if err != nil {
			http.Error(w, `{"error":"invalid conversation_id"}`, http.StatusBadRequest)
			return
		}
		conversationID = id
	}

	created, err := h.Sync.CreateRequest(r.Context(), tenant.ID, conversationID, req.VisitorID, req.Issue)
	if err != nil {
		h.Logger.Error("create handoff", "error", err)
		http.Error(w, `{"error":"create handoff failed"}`, http.StatusInternalServerError)
		return
	}

	token, err := middleware.IssueWidgetToken(h.TokenSecret, tenant.ID, created.ID, req.VisitorID)
	if err != nil {
		h.Logger.Error("issue widget token", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, createHandoffResponse{Request: created, Token: token})
}

// --- GET /v1/widget/handoffs/{id}/messages ---

// PollMessages returns agent replies newer than the widget's cursor.
func (h *WidgetHandler) PollMessages(w http.ResponseWriter, r *http.Request) {
	claims, requestID, ok := h.scopedRequest(w, r)
	if !ok {
		return
	}
	batch, err := h.Sync.PollMessages(r.Context(), claims.TenantID, requestID, r.URL.Query().Get("cursor"))
	if err != nil {
		h.writeWidgetError(w, "widget poll messages", err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// --- POST /v1/widget/handoffs/{id}/messages ---

func (h *WidgetHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	claims, requestID, ok := h.scopedRequest(w, r)
	if !ok {
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
	msg, err := h.Sync.SendMessage(r.Context(), claims.TenantID, requestID, models.MessageRoleUser, req.Content)
	if err != nil {
		h.writeWidgetError(w, "widget send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// scopedRequest extracts the path id and checks it against the widget
// token's scope. A token for one request cannot touch another.
func (h *WidgetHandler) scopedRequest(w http.ResponseWriter, r *http.Request) (*middleware.WidgetClaims, uuid.UUID, bool) {
	claims := middleware.WidgetClaimsFromCtx(r.Context())
	if claims == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return nil, uuid.Nil, false
	}
	requestID, ok := extractPathID(r, "/v1/widget/handoffs/")
	if !ok {
		http.Error(w, `{"error":"invalid request id"}`, http.StatusBadRequest)
		return nil, uuid.Nil, false
	}
	if requestID != claims.RequestID {
		http.Error(w, `{"error":"forbidden"}`, http.StatusForbidden)
		return nil, uuid.Nil, false
	}
	return claims, requestID, true
}

func (h *WidgetHandler) writeWidgetError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	case errors.Is(err, services.ErrClosed):
		http.Error(w, `{"error":"conversation is closed"}`, http.StatusGone)
	default:
		h.Logger.Error(op, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}
