package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

const bearerPrefix = "Bearer "

// Webhook secret headers, in lookup order.
var secretHeaders = []string{"x-webhook-secret", "x-vapi-secret"}

type ctxKey int

const ctxTenantID ctxKey = iota

func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxTenantID, tenantID)
}

// TenantID returns the tenant proven by a bearer token, if any.
func TenantID(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxTenantID).(string)
	return s, ok && s != ""
}

// Guard accepts a request carrying either a valid bearer token or the
// webhook secret. With neither configured every request passes.
type Guard struct {
	Tokens        *Manager
	WebhookSecret string
	Now           func() time.Time
}

func (g Guard) enabled() bool {
	return g.Tokens != nil || g.WebhookSecret != ""
}

// Authenticate checks r and returns the context to continue with.
func (g Guard) Authenticate(r *http.Request) (context.Context, error) {
	ctx := r.Context()
	if !g.enabled() {
		return ctx, nil
	}
	if g.WebhookSecret != "" && g.secretMatches(r) {
		return ctx, nil
	}
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if g.Tokens != nil && strings.HasPrefix(raw, bearerPrefix) {
		now := time.Now
		if g.Now != nil {
			now = g.Now
		}
		claims, err := g.Tokens.Verify(strings.TrimPrefix(raw, bearerPrefix), now())
		if err != nil {
			return ctx, err
		}
		return WithTenant(ctx, claims.TenantID), nil
	}
	return ctx, ErrUnauthorized
}

func (g Guard) secretMatches(r *http.Request) bool {
	for _, h := range secretHeaders {
		if v := r.Header.Get(h); v != "" {
			return subtle.ConstantTimeCompare([]byte(v), []byte(g.WebhookSecret)) == 1
		}
	}
	return false
}

// Middleware rejects unauthenticated requests with 401.
func (g Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := g.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
