package core

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/easyash/trustedby/internal/types"
)

// rateLimitWindow is the fixed window all limits are expressed over.
const rateLimitWindow = time.Minute

// RateLimit enforces per-customer request budgets, with a separate per-IP
// budget for the public webhook and tracking paths. Store errors fail open:
// a Redis outage must not take the API down with it.
func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.RateLimitStore == nil {
			next.ServeHTTP(w, r)
			return
		}

		key, limit := s.rateLimitKey(r)
		if key == "" {
			next.ServeHTTP(w, r)
			return
		}

		result, err := s.RateLimitStore.IncrementAndCheck(r.Context(), key, limit, rateLimitWindow)
		if err != nil {
			s.Logger.Error("rate limit store error",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
			next.ServeHTTP(w, r)
			return
		}

		setRateLimitHeaders(w, limit, result)

		if !result.Allowed {
			s.Logger.Warn("rate limit exceeded",
				slog.String("key", key),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
			)

			retryAfter := int(time.Until(result.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))

			Error(w, r, types.NewAppError(
				types.ErrCodeRateLimited,
				"rate limit exceeded, retry after the reset time",
				nil,
			))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// rateLimitKey picks the bucket for a request: the customer for
// authenticated calls, the client IP for public paths. An empty key skips
// limiting.
func (s *Server) rateLimitKey(r *http.Request) (string, int) {
	if isPublicPath(r.URL.Path) {
		limit := s.Config.Security.WebhookRateLimitPerMinute
		if !strings.HasPrefix(r.URL.Path, "/v1/webhooks/") {
			limit = s.Config.Security.RateLimitPerMinute
		}
		return "ip:" + clientIP(r), limit
	}

	actor := types.GetActor(r.Context())
	if actor == nil || actor.CustomerID == "" {
		return "", 0
	}
	return "cus:" + actor.CustomerID, s.Config.Security.RateLimitPerMinute
}

func setRateLimitHeaders(w http.ResponseWriter, limit int, result types.RateLimitResult) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}

func clientIP(r *http.Request) string {
	// First hop in X-Forwarded-For when behind the load balancer.
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
