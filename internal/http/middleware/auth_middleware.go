package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/navihealth/navi-portal/internal/http/response"
	"github.com/navihealth/navi-portal/internal/observability"
	"github.com/navihealth/navi-portal/internal/security"
)

type claimsKey struct{}

// AuthMiddleware accepts the session JWT from the awell.jwt cookie or a bearer header.
func AuthMiddleware(jwtMgr *security.JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, source := sessionJWT(r)
			if raw == "" {
				observability.RecordTokenValidation(r.Context(), "jwt", "missing", source)
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "missing session token", nil)
				return
			}
			claims, err := jwtMgr.VerifyJWT(raw)
			if err != nil {
				observability.RecordTokenValidation(r.Context(), "jwt", "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid session token", nil)
				return
			}
			observability.RecordTokenValidation(r.Context(), "jwt", "valid", source)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
		})
	}
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*security.Claims)
	return c, ok
}

// sessionJWT prefers the cookie, which the embed page sets, over a header.
func sessionJWT(r *http.Request) (token, source string) {
	if c := security.GetCookie(r, security.JWTCookieName); c != "" {
		return c, "cookie"
	}
	if b := bearerToken(r); b != "" {
		return b, "bearer"
	}
	return "", "none"
}

// RequireAdminToken guards operator endpoints with a static bearer token.
// With no token configured the guard is open; config validation requires one in production.
func RequireAdminToken(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := bearerToken(r)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				observability.Audit(r, "admin.unauthorized")
				response.Error(w, r, http.StatusUnauthorized, response.CodeUnauthorized, "invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
