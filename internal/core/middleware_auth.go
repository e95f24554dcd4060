package core

import (
	"net/http"
	"strings"

	"github.com/easyash/trustedby/internal/types"
)

// isPublicPath reports whether the request path bypasses authentication.
// Webhooks authenticate with HMAC signatures in their handlers; the widget
// tracking endpoint is hit from third-party sites where no token exists.
func isPublicPath(path string) bool {
	if path == "/health" || path == "/v1/analytics/track" {
		return true
	}
	return strings.HasPrefix(path, "/v1/webhooks/")
}

// AuthMiddleware wraps handlers requiring authentication.
//
//  1. Extracts the Bearer token from the Authorization header.
//  2. Resolves it to an Actor via the Authenticator.
//  3. Injects the Actor into the request context.
//
// Public paths bypass resolution entirely. A nil Authenticator (tests that
// don't inject one) passes through.
func (s *Server) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Authenticator == nil || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			Error(w, r, types.NewAppError(
				types.ErrCodeAuthUnauthorized,
				"missing bearer token",
				nil,
			))
			return
		}

		actor, err := s.Authenticator.Verify(r.Context(), token)
		if err != nil {
			Error(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(types.WithActor(r.Context(), &actor)))
	})
}

// extractBearerToken parses an Authorization header value of the form
// "Bearer <token>", case-insensitive scheme per RFC 7235. Returns "" when
// the format is invalid.
func extractBearerToken(authHeader string) string {
	const prefix = "Bearer "
	if len(authHeader) < len(prefix) {
		return ""
	}
	if !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(authHeader[len(prefix):])
}

// RequireActor is a handler-level guard for routes that must have an
// authenticated customer. Returns the actor and true, or writes a 401 and
// returns false.
func RequireActor(w http.ResponseWriter, r *http.Request) (*types.Actor, bool) {
	actor := types.GetActor(r.Context())
	if actor == nil || actor.CustomerID == "" {
		Error(w, r, types.NewAppError(
			types.ErrCodeAuthUnauthorized,
			"authentication required",
			nil,
		))
		return nil, false
	}
	return actor, true
}
