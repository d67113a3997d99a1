package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertiqo/entitle/pkg/entitlement"
	"github.com/vertiqo/entitle/pkg/observability"
)

type fakeViewSource struct {
	view *entitlement.EntitlementView
	err  error
}

func (f *fakeViewSource) Build(ctx context.Context, tenantID, userID string) (*entitlement.EntitlementView, error) {
	return f.view, f.err
}

func stockedView() *entitlement.EntitlementView {
	return &entitlement.EntitlementView{
		TenantID:     "t-1",
		UserID:       "u-1",
		BusinessType: "clinic",
		Permissions:  []string{"bookings.read"},
		Features:     map[string]bool{"telemedicine": true, "reports": false},
		Modules:      map[string]bool{"bookings": true},
		ComputedAt:   time.Now(),
	}
}

func emptyView() *entitlement.EntitlementView {
	return &entitlement.EntitlementView{
		TenantID:    "t-1",
		UserID:      "u-1",
		Permissions: []string{},
		Features:    map[string]bool{},
		Modules:     map[string]bool{},
	}
}

func identifiedRequest() *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := observability.WithTenantID(req.Context(), "t-1")
	ctx = observability.WithUserID(ctx, "u-1")
	return req.WithContext(ctx)
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestEntitlementsResolvesView(t *testing.T) {
	source := &fakeViewSource{view: stockedView()}

	var got *entitlement.EntitlementView
	handler := NewEntitlements(source, testLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = ViewFromRequest(r)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), identifiedRequest())

	require.NotNil(t, got)
	assert.True(t, got.HasPermission("bookings.read"))
}

func TestEntitlementsWithoutIdentity(t *testing.T) {
	handler := NewEntitlements(&fakeViewSource{view: stockedView()}, testLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestEntitlementsIncompleteFailsClosed(t *testing.T) {
	// A broken tenant record yields a zero view and the incomplete
	// error; the request proceeds so guards deny it uniformly
	source := &fakeViewSource{
		view: emptyView(),
		err:  &entitlement.IncompleteEntitlementError{TenantID: "t-1", UserID: "u-1", Missing: "role assignment"},
	}

	chain := NewEntitlements(source, testLogger()).Handler(
		RequirePermission("bookings.read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not run")
		})),
	)

	rec := httptest.NewRecorder()
	chain.ServeHTTP(rec, identifiedRequest())

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "access restricted")
}

func TestEntitlementsBuildErrorIs500(t *testing.T) {
	source := &fakeViewSource{err: errors.New("database down")}

	handler := NewEntitlements(source, testLogger()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, identifiedRequest())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGuards(t *testing.T) {
	tests := []struct {
		name  string
		guard func(http.Handler) http.Handler
		want  int
	}{
		{"granted permission", RequirePermission("bookings.read"), http.StatusOK},
		{"missing permission", RequirePermission("invoices.write"), http.StatusForbidden},
		{"enabled feature", RequireFeature("telemedicine"), http.StatusOK},
		{"disabled feature", RequireFeature("reports"), http.StatusForbidden},
		{"unknown feature", RequireFeature("ghost"), http.StatusForbidden},
		{"enabled module", RequireModule("bookings"), http.StatusOK},
		{"unknown module", RequireModule("inventory"), http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &fakeViewSource{view: stockedView()}
			chain := NewEntitlements(source, testLogger()).Handler(
				tt.guard(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				})),
			)

			rec := httptest.NewRecorder()
			chain.ServeHTTP(rec, identifiedRequest())
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGuardWithoutMiddleware(t *testing.T) {
	handler := RequirePermission("bookings.read")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}
