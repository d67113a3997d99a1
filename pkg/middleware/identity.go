package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/vertiqo/entitle/pkg/observability"
)

const (
	headerRequestID = "X-Request-ID"
	headerTenantID  = "X-Tenant-ID"
	headerUserID    = "X-User-ID"
)

// RequestID stamps every request with an ID, honoring one supplied by
// the upstream gateway
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		ctx := observability.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Identity extracts the authenticated tenant and user from the identity
// headers set by the gateway. Authentication itself happens upstream;
// this service only consumes the result.
type Identity struct {
	optional bool
}

// NewIdentity creates the identity middleware. When optional is true
// requests without identity headers pass through, for endpoints like
// health and admin reads.
func NewIdentity(optional bool) *Identity {
	return &Identity{optional: optional}
}

// Handler wraps an HTTP handler with identity extraction
func (m *Identity) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(headerTenantID)
		userID := r.Header.Get(headerUserID)

		if tenantID == "" || userID == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			writeJSONError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}

		ctx := observability.WithTenantID(r.Context(), tenantID)
		ctx = observability.WithUserID(ctx, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}
