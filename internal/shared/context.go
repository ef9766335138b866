package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Roles recognised by the ledger API. Authentication and role resolution
// happen upstream; only RoleAdmin may read across tenants.
const (
	RoleAdmin       = "admin"
	RoleStaff       = "staff"
	RoleDistributor = "distributor"
)

// Headers set by the upstream gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderRole     = "X-Role"
)

// Actor is the resolved (userId, tenantId, role) triple of a request.
// TenantID zero means the actor belongs to the company, not a distributor.
type Actor struct {
	UserID   int64
	TenantID int64
	Role     string
}

// Privileged reports whether the actor may bypass tenant filters.
func (a Actor) Privileged() bool {
	return a.Role == RoleAdmin
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}

// ActorMiddleware reads the gateway headers and rejects requests without a user.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := actorFromHeaders(r.Header)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithActor(r.Context(), actor)))
	})
}

func actorFromHeaders(h http.Header) (Actor, bool) {
	userID, err := strconv.ParseInt(strings.TrimSpace(h.Get(HeaderUserID)), 10, 64)
	if err != nil || userID <= 0 {
		return Actor{}, false
	}
	actor := Actor{UserID: userID, Role: strings.ToLower(strings.TrimSpace(h.Get(HeaderRole)))}
	if raw := strings.TrimSpace(h.Get(HeaderTenantID)); raw != "" {
		tenantID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || tenantID < 0 {
			return Actor{}, false
		}
		actor.TenantID = tenantID
	}
	if actor.Role == "" {
		actor.Role = RoleStaff
	}
	return actor, true
}
