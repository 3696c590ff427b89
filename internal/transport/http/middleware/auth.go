package middleware

import (
	"context"
	"net/http"
	"strings"

	"payrollx/internal/domain/auth"
	"payrollx/internal/requestctx"
	"payrollx/internal/transport/http/api"
)

// Auth attaches the bearer token's actor to the request. Requests without
// a valid token pass through anonymously and are stopped by
// RequirePermission.
func Auth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
			if !ok || !strings.EqualFold(scheme, "bearer") || secret == "" {
				next.ServeHTTP(w, r)
				return
			}
			claims, err := auth.ParseToken(secret, strings.TrimSpace(token))
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithActor(r.Context(), claims.Actor())))
		})
	}
}

func GetActor(ctx context.Context) (auth.Actor, bool) {
	return requestctx.GetActor(ctx)
}

const CallbackTokenHeader = "X-Callback-Token"

// CallbackAuth guards endpoints the transaction service calls back into.
func CallbackAuth(hash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.VerifyCallbackToken(hash, r.Header.Get(CallbackTokenHeader)); err != nil {
				api.Fail(w, http.StatusUnauthorized, "unauthorized", "invalid callback token", GetRequestID(r.Context()))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
