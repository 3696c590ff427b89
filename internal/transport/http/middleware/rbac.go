package middleware

import (
	"context"
	"net/http"

	"payrollx/internal/transport/http/api"
)

type PermissionStore interface {
	HasPermission(ctx context.Context, role, permission string) (bool, error)
}

// PermissionFunc adapts a plain function to PermissionStore.
type PermissionFunc func(ctx context.Context, role, permission string) (bool, error)

func (f PermissionFunc) HasPermission(ctx context.Context, role, permission string) (bool, error) {
	return f(ctx, role, permission)
}

// RequirePermission admits the request when the authenticated actor's role
// grants permission. It must sit behind Auth.
func RequirePermission(permission string, store PermissionStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if status, code, msg := authorize(r.Context(), store, permission); status != 0 {
				if status == http.StatusServiceUnavailable {
					w.Header().Set("Retry-After", "1")
				}
				api.Fail(w, status, code, msg, GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authorize returns a zero status when the request may proceed.
func authorize(ctx context.Context, store PermissionStore, permission string) (status int, code, msg string) {
	actor, ok := GetActor(ctx)
	if !ok {
		return http.StatusUnauthorized, "unauthorized", "authentication required"
	}
	allowed, err := store.HasPermission(ctx, actor.Role, permission)
	switch {
	case err != nil:
		// a failed lookup is not a denial; let the caller retry
		return http.StatusServiceUnavailable, "permission_unavailable", "permission check unavailable"
	case !allowed:
		return http.StatusForbidden, "forbidden", "role " + actor.Role + " lacks " + permission
	}
	return 0, "", ""
}
