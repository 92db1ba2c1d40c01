package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/sabq4org/stepauth"
)

type principalKey struct{}

// PrincipalFromContext returns the principal attached by
// [RequirePermission], or nil outside a guarded handler.
func PrincipalFromContext(ctx context.Context) *stepauth.Principal {
	principal, _ := ctx.Value(principalKey{}).(*stepauth.Principal)
	return principal
}

// RequirePermission wraps next so it only runs for callers whose bearer
// token grants perm. The resolved principal is attached to the request
// context. Failures are answered with a JSON body {"code": "..."} and a
// status derived from the error.
func RequirePermission(engine *stepauth.Engine, perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := engine.RequireCapability(bearerToken(r), perm)
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth is [RequirePermission] without a permission check: any valid
// access token passes.
func RequireAuth(engine *stepauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := engine.ResolvePrincipal(bearerToken(r))
			if err != nil {
				writeError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), principalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"code": stepauth.ErrorCode(err)})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, stepauth.ErrInsufficientPermissions):
		return http.StatusForbidden
	case errors.Is(err, stepauth.ErrTokenConfig),
		errors.Is(err, stepauth.ErrStorageUnavailable),
		errors.Is(err, stepauth.ErrEngineNotReady):
		return http.StatusInternalServerError
	default:
		return http.StatusUnauthorized
	}
}
