package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/paddockio/paddock/pkg/auth"
	"github.com/paddockio/paddock/pkg/metrics"
	"github.com/paddockio/paddock/pkg/types"
)

type contextKey string

const apiKeyContextKey contextKey = "api-key"

// authenticate resolves the bearer token into an API key and stashes it in
// the request context. Requests without a valid key stop here.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		key, err := s.manager.Auth().Validate(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		ctx := context.WithValue(r.Context(), apiKeyContextKey, key)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireScope gates a route on one API key scope. The "*" scope passes
// everything.
func (s *Server) requireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFromContext(r.Context())
			if key == nil || !auth.HasScope(key, scope) {
				writeError(w, http.StatusForbidden, "missing scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observe records request counts and latency per route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		timer := metrics.NewTimer()

		next.ServeHTTP(ww, r)

		route := r.Method + " " + chi.RouteContext(r.Context()).RoutePattern()
		metrics.APIRequestsTotal.WithLabelValues(route, strconv.Itoa(ww.Status())).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(timer.Duration().Seconds())

		s.logger.Debug().
			Str("route", route).
			Int("status", ww.Status()).
			Dur("duration", timer.Duration()).
			Msg("Handled request")
	})
}

func keyFromContext(ctx context.Context) *types.APIKey {
	key, _ := ctx.Value(apiKeyContextKey).(*types.APIKey)
	return key
}

// canAccessTenant enforces tenant isolation: keys see their own tenant
// unless they carry the admin scope.
func canAccessTenant(key *types.APIKey, tenantID string) bool {
	return key.TenantID == tenantID || auth.HasScope(key, "admin")
}
