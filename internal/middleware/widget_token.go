package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// WidgetClaims scope a widget token to the single handoff request the
// visitor created. The token is returned by the create endpoint and lets
// the widget poll and send messages for that request only.
type WidgetClaims struct {
	jwt.RegisteredClaims
	TenantID  uuid.UUID `json:"tenant_id"`
	RequestID uuid.UUID `json:"request_id"`
	VisitorID string    `json:"visitor_id"`
}

const widgetTokenTTL = 24 * time.Hour

// IssueWidgetToken signs an HS256 token for the given request scope.
func IssueWidgetToken(secret []byte, tenantID, requestID uuid.UUID, visitorID string) (string, error) {
	c := WidgetClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   requestID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(widgetTokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		TenantID:  tenantID,
		RequestID: requestID,
		VisitorID: visitorID,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(secret)
}

// ParseWidgetToken validates the token and returns its claims.
func ParseWidgetToken(secret []byte, token string) (*WidgetClaims, error) {
	tok, err := jwt.ParseWithClaims(token, &WidgetClaims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*WidgetClaims)
	if !ok || !tok.Valid {
		return nil, errors.New("invalid widget token")
	}
	return c, nil
}

// WidgetAuth validates the Bearer widget token and puts its claims into the
// request context.
func WidgetAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				http.Error(w, `{"error":"missing widget token"}`, http.StatusUnauthorized)
				return
			}
			claims, err := ParseWidgetToken(secret, raw)
			if err != nil {
				http.Error(w, `{"error":"invalid widget token"}`, http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), ctxWidgetKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WidgetClaimsFromCtx returns the widget token claims or nil.
func WidgetClaimsFromCtx(ctx context.Context) *WidgetClaims {
	c, _ := ctx.Value(ctxWidgetKey).(*WidgetClaims)
	return c
}

// WithWidgetClaims returns a context carrying the given claims.
func WithWidgetClaims(ctx context.Context, c *WidgetClaims) context.Context {
	return context.WithValue(ctx, ctxWidgetKey, c)
}
