package entitlement

import (
	"context"
	"fmt"

	"github.com/vertiqo/entitle/pkg/catalog"
	"github.com/vertiqo/entitle/pkg/observability"
	"github.com/vertiqo/entitle/pkg/overrides"
)

// SourceScope names the layer that decided a resolution, so support can
// answer "why is this tenant missing X" without reading the database.
type SourceScope string

const (
	SourceTenant   SourceScope = "tenant"
	SourceBusiness SourceScope = "business"
	SourceGlobal   SourceScope = "global"
	SourceDefault  SourceScope = "default"
)

// Resolution is the outcome of resolving one feature or module gate
type Resolution struct {
	Enabled     bool        `json:"enabled"`
	SourceScope SourceScope `json:"source_scope"`
}

// Gate is one feature or module to resolve, with its catalog default
type Gate struct {
	Kind           catalog.GateKind
	Code           string
	DefaultEnabled bool
}

// OverrideSource is the override lookup surface the resolver reads.
// Satisfied by the overrides store.
type OverrideSource interface {
	GetActive(ctx context.Context, kind catalog.GateKind, code string, scope catalog.Scope, scopeKey *string) (*overrides.Override, error)
	ListForScope(ctx context.Context, scope catalog.Scope, scopeKey *string) ([]overrides.Override, error)
}

// Resolver applies override precedence: tenant, then business type, then
// global, then the catalog default. The chain is an explicit ordered
// list; the first layer with an active override wins and lower layers are
// never consulted.
type Resolver struct {
	overrides OverrideSource
	metrics   *observability.Metrics
}

// NewResolver creates a resolver over the given override source
func NewResolver(source OverrideSource, metrics *observability.Metrics) *Resolver {
	return &Resolver{overrides: source, metrics: metrics}
}

// Resolve resolves one gate for a tenant
func (r *Resolver) Resolve(ctx context.Context, gate Gate, tenantID, businessType string) (Resolution, error) {
	chain := []struct {
		scope    catalog.Scope
		scopeKey *string
		source   SourceScope
	}{
		{catalog.ScopeTenant, &tenantID, SourceTenant},
		{catalog.ScopeBusiness, &businessType, SourceBusiness},
		{catalog.ScopeGlobal, nil, SourceGlobal},
	}

	for _, layer := range chain {
		o, err := r.overrides.GetActive(ctx, gate.Kind, gate.Code, layer.scope, layer.scopeKey)
		if err != nil {
			return Resolution{}, fmt.Errorf("failed to resolve %s %s at %s scope: %w", gate.Kind, gate.Code, layer.scope, err)
		}
		if o != nil {
			return r.won(Resolution{Enabled: o.Enabled, SourceScope: layer.source}), nil
		}
	}

	return r.won(Resolution{Enabled: gate.DefaultEnabled, SourceScope: SourceDefault}), nil
}

// ResolveAll batch-resolves every gate for a tenant. The three override
// layers are loaded once each and the precedence chain is walked in
// memory, so the cost stays flat no matter how many gates the snapshot
// carries.
func (r *Resolver) ResolveAll(ctx context.Context, gates []Gate, tenantID, businessType string) (map[string]Resolution, error) {
	type layerMap map[overrideKey]*overrides.Override

	layers := make([]layerMap, 0, 3)
	sources := []SourceScope{SourceTenant, SourceBusiness, SourceGlobal}

	for _, l := range []struct {
		scope    catalog.Scope
		scopeKey *string
	}{
		{catalog.ScopeTenant, &tenantID},
		{catalog.ScopeBusiness, &businessType},
		{catalog.ScopeGlobal, nil},
	} {
		active, err := r.overrides.ListForScope(ctx, l.scope, l.scopeKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s overrides: %w", l.scope, err)
		}
		m := make(layerMap, len(active))
		for i := range active {
			o := &active[i]
			m[overrideKey{o.Kind, o.Code}] = o
		}
		layers = append(layers, m)
	}

	out := make(map[string]Resolution, len(gates))
	for _, gate := range gates {
		key := overrideKey{gate.Kind, gate.Code}
		resolved := false
		for i, layer := range layers {
			if o, ok := layer[key]; ok {
				out[gate.Code] = r.won(Resolution{Enabled: o.Enabled, SourceScope: sources[i]})
				resolved = true
				break
			}
		}
		if !resolved {
			out[gate.Code] = r.won(Resolution{Enabled: gate.DefaultEnabled, SourceScope: SourceDefault})
		}
	}
	return out, nil
}

func (r *Resolver) won(res Resolution) Resolution {
	if r.metrics != nil {
		r.metrics.ResolutionsTotal.WithLabelValues(string(res.SourceScope)).Inc()
	}
	return res
}

type overrideKey struct {
	kind catalog.GateKind
	code string
}
