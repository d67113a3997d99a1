package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertiqo/entitle/pkg/observability"
)

func TestRequestIDGenerated(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.GetRequestID(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, captured)
	assert.Equal(t, captured, rec.Header().Get("X-Request-ID"))
}

func TestRequestIDHonorsUpstream(t *testing.T) {
	var captured string
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = observability.GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-from-gateway")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "req-from-gateway", captured)
}

func TestIdentityExtractsHeaders(t *testing.T) {
	var tenantID, userID string
	handler := NewIdentity(false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID = observability.GetTenantID(r.Context())
		userID = observability.GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Tenant-ID", "t-1")
	req.Header.Set("X-User-ID", "u-1")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "t-1", tenantID)
	assert.Equal(t, "u-1", userID)
}

func TestIdentityRejectsMissingHeaders(t *testing.T) {
	called := false
	handler := NewIdentity(false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, called)
}

func TestIdentityOptionalPassesThrough(t *testing.T) {
	called := false
	handler := NewIdentity(true).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}
