package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/vertiqo/entitle/pkg/entitlement"
	"github.com/vertiqo/entitle/pkg/observability"
)

type viewContextKey struct{}

// ViewSource builds entitlement views. Satisfied by the entitlement
// builder.
type ViewSource interface {
	Build(ctx context.Context, tenantID, userID string) (*entitlement.EntitlementView, error)
}

// Entitlements resolves the caller's entitlement view once per request
// and makes it available to the guards and handlers downstream
type Entitlements struct {
	source ViewSource
	log    *observability.Logger
}

// NewEntitlements creates the entitlement resolution middleware
func NewEntitlements(source ViewSource, log *observability.Logger) *Entitlements {
	return &Entitlements{source: source, log: log}
}

// Handler wraps an HTTP handler with entitlement view resolution. A
// broken tenant record yields the zero-permission view: the request
// proceeds and every guard denies it.
func (m *Entitlements) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		tenantID := observability.GetTenantID(ctx)
		userID := observability.GetUserID(ctx)
		if tenantID == "" || userID == "" {
			writeJSONError(w, http.StatusUnauthorized, "missing identity headers")
			return
		}

		view, err := m.source.Build(ctx, tenantID, userID)
		if err != nil {
			var incomplete *entitlement.IncompleteEntitlementError
			if !errors.As(err, &incomplete) {
				m.log.WithError(err).WithField("tenant_id", tenantID).Error("Entitlement build failed")
				writeJSONError(w, http.StatusInternalServerError, "entitlement resolution failed")
				return
			}
			// view is the fail-closed zero view here
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, viewContextKey{}, view)))
	})
}

// ViewFromRequest returns the entitlement view resolved for this
// request, or nil when the middleware did not run
func ViewFromRequest(r *http.Request) *entitlement.EntitlementView {
	view, _ := r.Context().Value(viewContextKey{}).(*entitlement.EntitlementView)
	return view
}

// RequirePermission denies the request unless the caller's view grants
// the permission
func RequirePermission(code string) func(http.Handler) http.Handler {
	return requireView(func(view *entitlement.EntitlementView) bool {
		return view.HasPermission(code)
	})
}

// RequireFeature denies the request unless the feature resolved enabled
// for the caller's tenant
func RequireFeature(code string) func(http.Handler) http.Handler {
	return requireView(func(view *entitlement.EntitlementView) bool {
		return view.FeatureEnabled(code)
	})
}

// RequireModule denies the request unless the module resolved enabled
// for the caller's tenant
func RequireModule(code string) func(http.Handler) http.Handler {
	return requireView(func(view *entitlement.EntitlementView) bool {
		return view.ModuleEnabled(code)
	})
}

func requireView(allowed func(*entitlement.EntitlementView) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			view := ViewFromRequest(r)
			if view == nil || !allowed(view) {
				writeJSONError(w, http.StatusForbidden, "access restricted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
