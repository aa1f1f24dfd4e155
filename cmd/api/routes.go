package main

import (
	"net/http"

	"github.com/relaydesk/backend/internal/handlers"
	"github.com/relaydesk/backend/internal/middleware"
	"github.com/relaydesk/backend/internal/registry"
)

// RegisterRoutes adds the console and widget endpoints to the given mux.
// Console routes authenticate with tenant API keys; widget message routes
// authenticate with the per-request widget token issued at creation.
func RegisterRoutes(
	mux *http.ServeMux,
	syncHandler *handlers.SyncHandler,
	widgetHandler *handlers.WidgetHandler,
	registryHandler *registry.Handler,
	apiKeyRepo middleware.APIKeyRepo,
	tenantRepo middleware.TenantByIDRepo,
	widgetSecret []byte,
) {
	console := middleware.ConsoleAuth(apiKeyRepo, tenantRepo)
	widget := middleware.WidgetAuth(widgetSecret)

	// Agent console: queue polling and request lifecycle.
	mux.Handle("GET /v1/handoffs", console(http.HandlerFunc(syncHandler.PollRequests)))
	mux.Handle("POST /v1/handoffs/{id}/claim", console(http.HandlerFunc(syncHandler.Claim)))
	mux.Handle("POST /v1/handoffs/{id}/status", console(http.HandlerFunc(syncHandler.UpdateStatus)))
	mux.Handle("PATCH /v1/handoffs/{id}", console(http.HandlerFunc(syncHandler.Patch)))
	mux.Handle("GET /v1/handoffs/{id}/messages", console(http.HandlerFunc(syncHandler.PollMessages)))
	mux.Handle("POST /v1/handoffs/{id}/messages", console(http.HandlerFunc(syncHandler.SendMessage)))

	// Agent registry.
	mux.Handle("POST /v1/agents", console(http.HandlerFunc(registryHandler.RegisterAgent)))
	mux.Handle("GET /v1/agents", console(http.HandlerFunc(registryHandler.ListAgents)))
	mux.Handle("DELETE /v1/agents/{id}", console(http.HandlerFunc(registryHandler.RemoveAgent)))
	mux.Handle("POST /v1/agents/{id}/status", console(http.HandlerFunc(syncHandler.SetAgentStatus)))

	// Visitor widget: create is keyed by the public widget key in the body,
	// everything after rides the returned widget token.
	mux.HandleFunc("POST /v1/widget/handoffs", widgetHandler.CreateHandoff)
	mux.Handle("GET /v1/widget/handoffs/{id}/messages", widget(http.HandlerFunc(widgetHandler.PollMessages)))
	mux.Handle("POST /v1/widget/handoffs/{id}/messages", widget(http.HandlerFunc(widgetHandler.SendMessage)))
}
