package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gatekeepd/gatekeep/internal/service"
)

type contextKeyAuth string

// AdminPrincipalKey is the context key for the authenticated operator.
const AdminPrincipalKey contextKeyAuth = "admin_principal"

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header. Returns "" when the header is absent or malformed.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// RequireAdmin gates the system API behind an operator JWT. On success the
// AdminPrincipal is attached to the request context. Game-server routes
// never use this; their bearer tokens are opaque session tokens handled by
// the session service.
func RequireAdmin(authSvc *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				writeAuthError(w, http.StatusUnauthorized, "missing_token",
					"Authorization bearer token is required")
				return
			}
			principal, err := authSvc.ValidateJWT(r.Context(), tok)
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, "invalid_credentials",
					"operator token is invalid or expired")
				return
			}
			ctx := context.WithValue(r.Context(), AdminPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAdminPrincipal extracts the authenticated operator from the context.
// Returns nil on unauthenticated requests.
func GetAdminPrincipal(ctx context.Context) *service.AdminPrincipal {
	if p, ok := ctx.Value(AdminPrincipalKey).(*service.AdminPrincipal); ok {
		return p
	}
	return nil
}

func writeAuthError(w http.ResponseWriter, status int, reason, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Hand-rolled JSON to avoid an import cycle with the handler package.
	w.Write([]byte(`{"error":{"code":` + statusString(status) +
		`,"reason":"` + reason + `","message":"` + message + `"}}`))
}

func statusString(code int) string {
	switch code {
	case http.StatusUnauthorized:
		return "401"
	case http.StatusForbidden:
		return "403"
	default:
		return "500"
	}
}
