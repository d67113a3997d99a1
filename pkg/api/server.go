package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vertiqo/entitle/pkg/audit"
	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/entitlement"
	"github.com/vertiqo/entitle/pkg/observability"
	"github.com/vertiqo/entitle/pkg/overrides"
	"github.com/vertiqo/entitle/pkg/tenants"
	"github.com/vertiqo/entitle/pkg/versioning"
)

// Server is the entitlement API server
type Server struct {
	router *mux.Router

	builder     *entitlement.Builder
	overrides   OverrideStore
	versions    *versioning.Manager
	tenants     *tenants.Service
	invalidator entitlement.Invalidator
	auditSearch AuditSearcher

	log     *observability.Logger
	metrics *observability.Metrics
}

// AuditSearcher is the audit query surface the API exposes. Satisfied by
// the DB audit logger; nil disables the audit endpoints.
type AuditSearcher interface {
	Search(ctx context.Context, filter audit.SearchFilter) ([]*audit.Event, error)
}

// OverrideStore is the override persistence surface the API mutates.
// Satisfied by the overrides store.
type OverrideStore interface {
	Create(ctx context.Context, o *overrides.Override) error
	Get(ctx context.Context, id int64) (*overrides.Override, error)
	Update(ctx context.Context, id int64, enabled bool, reason, actor string) (*overrides.Override, error)
	Delete(ctx context.Context, id int64, reason, actor string) error
	ListForScope(ctx context.Context, scope catalog.Scope, scopeKey *string) ([]overrides.Override, error)
	ListAudit(ctx context.Context, overrideID int64) ([]overrides.AuditEntry, error)
}

// Config collects the server's collaborators
type Config struct {
	Builder     *entitlement.Builder
	Overrides   OverrideStore
	Versions    *versioning.Manager
	Tenants     *tenants.Service
	Invalidator entitlement.Invalidator
	AuditSearch AuditSearcher
	Logger      *observability.Logger
	Metrics     *observability.Metrics
}

// NewServer creates the API server and registers its routes
func NewServer(cfg Config) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		builder:     cfg.Builder,
		overrides:   cfg.Overrides,
		versions:    cfg.Versions,
		tenants:     cfg.Tenants,
		invalidator: cfg.Invalidator,
		auditSearch: cfg.AuditSearch,
		log:         cfg.Logger,
		metrics:     cfg.Metrics,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// Entitlement queries
	s.router.HandleFunc("/api/v1/entitlements/{tenantID}/{userID}", s.getEntitlements).Methods("GET")
	s.router.HandleFunc("/api/v1/entitlements/{tenantID}/{userID}/check", s.checkEntitlement).Methods("GET")

	// Override management
	s.router.HandleFunc("/api/v1/overrides", s.createOverride).Methods("POST")
	s.router.HandleFunc("/api/v1/overrides", s.listOverrides).Methods("GET")
	s.router.HandleFunc("/api/v1/overrides/{id}", s.getOverride).Methods("GET")
	s.router.HandleFunc("/api/v1/overrides/{id}", s.updateOverride).Methods("PUT")
	s.router.HandleFunc("/api/v1/overrides/{id}", s.deleteOverride).Methods("DELETE")
	s.router.HandleFunc("/api/v1/overrides/{id}/audit", s.getOverrideAudit).Methods("GET")

	// Business type version lifecycle
	s.router.HandleFunc("/api/v1/business-types/{businessType}/versions", s.createDraft).Methods("POST")
	s.router.HandleFunc("/api/v1/business-types/{businessType}/versions", s.listVersions).Methods("GET")
	s.router.HandleFunc("/api/v1/business-types/{businessType}/versions/latest", s.getLatestVersion).Methods("GET")
	s.router.HandleFunc("/api/v1/versions/{id}", s.getVersion).Methods("GET")
	s.router.HandleFunc("/api/v1/versions/{id}", s.updateDraft).Methods("PUT")
	s.router.HandleFunc("/api/v1/versions/{id}/publish", s.publishVersion).Methods("POST")
	s.router.HandleFunc("/api/v1/versions/{id}/retire", s.retireVersion).Methods("POST")

	// Tenant provisioning and bindings
	s.router.HandleFunc("/api/v1/tenants", s.createTenant).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{id}", s.getTenant).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{id}/plan", s.setPlan).Methods("PUT")
	s.router.HandleFunc("/api/v1/tenants/{id}/addons", s.addAddon).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{id}/addons/{code}", s.removeAddon).Methods("DELETE")
	s.router.HandleFunc("/api/v1/tenants/{id}/roles", s.assignRole).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{id}/roles/{userID}", s.removeRole).Methods("DELETE")
	s.router.HandleFunc("/api/v1/tenants/{id}/binding", s.getBinding).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{id}/rebind", s.rebindTenant).Methods("POST")
	s.router.HandleFunc("/api/v1/tenants/{id}/history", s.getHistory).Methods("GET")

	// Audit trail
	if s.auditSearch != nil {
		s.router.HandleFunc("/api/v1/audit/events", s.searchAuditEvents).Methods("GET")
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying router so callers can wrap it with
// middleware
func (s *Server) Router() *mux.Router {
	return s.router
}

// actor resolves the acting principal for audit records. Mutations are
// gateway-authenticated, so the user header is authoritative.
func actor(r *http.Request) string {
	if a := observability.GetUserID(r.Context()); a != "" {
		return a
	}
	return "system"
}
