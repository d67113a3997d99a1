package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/httputil"
	"github.com/vertiqo/entitle/pkg/overrides"
)

type overrideRequest struct {
	Kind      catalog.GateKind `json:"kind"`
	Code      string           `json:"code"`
	Scope     catalog.Scope    `json:"scope"`
	ScopeKey  *string          `json:"scope_key,omitempty"`
	Enabled   bool             `json:"enabled"`
	Reason    string           `json:"reason"`
	ExpiresAt *time.Time       `json:"expires_at,omitempty"`
}

func (s *Server) createOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.Kind != catalog.KindFeature && req.Kind != catalog.KindModule {
		httputil.WriteBadRequest(w, "kind must be feature or module")
		return
	}
	if req.Code == "" {
		httputil.WriteBadRequest(w, "code is required")
		return
	}
	if req.Reason == "" {
		httputil.WriteBadRequest(w, "reason is required")
		return
	}
	switch req.Scope {
	case catalog.ScopeGlobal:
		if req.ScopeKey != nil {
			httputil.WriteBadRequest(w, "global overrides must not carry a scope key")
			return
		}
	case catalog.ScopeBusiness, catalog.ScopeTenant:
		if req.ScopeKey == nil || *req.ScopeKey == "" {
			httputil.WriteBadRequest(w, "scope key is required for scoped overrides")
			return
		}
	default:
		httputil.WriteBadRequest(w, "scope must be global, business or tenant")
		return
	}

	o := &overrides.Override{
		Kind:      req.Kind,
		Code:      req.Code,
		Scope:     req.Scope,
		ScopeKey:  req.ScopeKey,
		Enabled:   req.Enabled,
		Reason:    req.Reason,
		CreatedBy: actor(r),
		ExpiresAt: req.ExpiresAt,
	}
	if err := s.overrides.Create(r.Context(), o); err != nil {
		s.writeOverrideError(w, err)
		return
	}

	s.overrideMutated(r, o, "create")
	httputil.WriteCreated(w, o)
}

func (s *Server) getOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	o, err := s.overrides.Get(r.Context(), id)
	if err != nil {
		httputil.WriteNotFoundError(w, "override not found")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) listOverrides(w http.ResponseWriter, r *http.Request) {
	scope := catalog.Scope(r.URL.Query().Get("scope"))
	var scopeKey *string
	if key := r.URL.Query().Get("scope_key"); key != "" {
		scopeKey = &key
	}

	list, err := s.overrides.ListForScope(r.Context(), scope, scopeKey)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"overrides": list})
}

func (s *Server) updateOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Enabled bool   `json:"enabled"`
		Reason  string `json:"reason"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Reason == "" {
		httputil.WriteBadRequest(w, "reason is required")
		return
	}

	o, err := s.overrides.Update(r.Context(), id, req.Enabled, req.Reason, actor(r))
	if err != nil {
		s.writeOverrideError(w, err)
		return
	}

	s.overrideMutated(r, o, "update")
	httputil.WriteJSON(w, http.StatusOK, o)
}

func (s *Server) deleteOverride(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	reason := r.URL.Query().Get("reason")
	if reason == "" {
		httputil.WriteBadRequest(w, "reason is required")
		return
	}

	o, err := s.overrides.Get(r.Context(), id)
	if err != nil {
		httputil.WriteNotFoundError(w, "override not found")
		return
	}
	if err := s.overrides.Delete(r.Context(), id, reason, actor(r)); err != nil {
		s.writeOverrideError(w, err)
		return
	}

	s.overrideMutated(r, o, "delete")
	httputil.WriteNoContent(w)
}

func (s *Server) getOverrideAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	entries, err := s.overrides.ListAudit(r.Context(), id)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"audit": entries})
}

func (s *Server) writeOverrideError(w http.ResponseWriter, err error) {
	var conflict *overrides.ConflictError
	if errors.As(err, &conflict) {
		if s.metrics != nil {
			s.metrics.OverrideConflictsTotal.Inc()
		}
		httputil.WriteConflict(w, conflict.Error())
		return
	}
	httputil.WriteInternalError(w, err)
}

// overrideMutated records metrics and fans out the invalidation the
// mutation requires. A tenant override blasts one tenant, a business
// type override every tenant of the type, a global override everything.
func (s *Server) overrideMutated(r *http.Request, o *overrides.Override, operation string) {
	if s.metrics != nil {
		s.metrics.OverrideMutationsTotal.WithLabelValues(string(o.Scope), operation).Inc()
	}
	if s.invalidator == nil {
		return
	}

	ctx := r.Context()
	var err error
	switch o.Scope {
	case catalog.ScopeTenant:
		err = s.invalidator.InvalidateTenant(ctx, *o.ScopeKey)
	case catalog.ScopeBusiness:
		err = s.invalidator.InvalidateBusinessType(ctx, *o.ScopeKey)
	case catalog.ScopeGlobal:
		err = s.invalidator.InvalidateAll(ctx)
	}
	if err != nil {
		s.log.WithError(err).WithField("scope", o.Scope).Warn("Cache invalidation failed after override mutation")
	}
}
