package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/relaydesk/backend/internal/models"
)

type contextKey string

const (
	ctxTenantKey contextKey = "tenant"
	ctxWidgetKey contextKey = "widget_claims"
)

// keyPrefixLen is how many leading characters of a console API key are
// stored in clear for lookup; the full key is only ever bcrypt-compared.
const keyPrefixLen = 12

// APIKeyRepo is the interface used by console API key auth.
type APIKeyRepo interface {
	FindByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
}

// TenantByIDRepo resolves the tenant owning a validated key.
type TenantByIDRepo interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Tenant, error)
}

// ConsoleAuth authenticates console requests by looking up the Bearer key's
// prefix and bcrypt-comparing the full key against the stored hash. On
// success the owning tenant is set into the request context. This is a
// capability check for tenant scoping, not a user auth system.
func ConsoleAuth(keys APIKeyRepo, tenants TenantByIDRepo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if len(raw) < keyPrefixLen {
				http.Error(w, `{"error":"missing or malformed Authorization header"}`, http.StatusUnauthorized)
				return
			}

			candidates, err := keys.FindByPrefix(r.Context(), raw[:keyPrefixLen])
			if err != nil || len(candidates) == 0 {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			var matched *models.APIKey
			for _, k := range candidates {
				if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(raw)) == nil {
					matched = k
					break
				}
			}
			if matched == nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			tenant, err := tenants.GetByID(r.Context(), matched.TenantID)
			if err != nil {
				http.Error(w, `{"error":"invalid api key"}`, http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ctxTenantKey, tenant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TenantFromCtx returns the authenticated tenant or nil.
func TenantFromCtx(ctx context.Context) *models.Tenant {
	t, _ := ctx.Value(ctxTenantKey).(*models.Tenant)
	return t
}

// WithTenant returns a context carrying the given tenant.
func WithTenant(ctx context.Context, t *models.Tenant) context.Context {
	return context.WithValue(ctx, ctxTenantKey, t)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
