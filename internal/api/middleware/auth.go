package middleware

import (
	"context"
	"net/http"

	"consentido_auth/internal/app/service"
	"consentido_auth/internal/common"
	"consentido_auth/internal/domain/model"

	"github.com/go-chi/jwtauth/v5"
)

type contextKey string

const ProfileCtxKey contextKey = "profile"

// RequireAuth admits requests whose bearer token passes the verify flow and stores
// the caller's profile in the request context.
func RequireAuth(authService *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := jwtauth.TokenFromHeader(r)
			if token == "" {
				common.RespondWithError(w, http.StatusUnauthorized, "Authorization token required")
				return
			}

			result, err := authService.Verify(r.Context(), token)
			if err != nil {
				common.RespondWithDomainError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), ProfileCtxKey, result.Profile)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ProfileFromContext returns the profile RequireAuth stored.
func ProfileFromContext(ctx context.Context) (model.Profile, bool) {
	profile, ok := ctx.Value(ProfileCtxKey).(model.Profile)
	return profile, ok
}
