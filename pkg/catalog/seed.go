package catalog

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Seed is the declarative catalog shipped as a YAML file. The business
// catalog (permissions, plan and role grants, gate definitions, flat
// business type mappings) is configuration, and lives next to the
// deployment rather than in code.
type Seed struct {
	Permissions []SeedPermission `yaml:"permissions"`
	Roles       []SeedRole       `yaml:"roles"`
	Plans       []SeedGrant      `yaml:"plans"`
	Addons      []SeedGrant      `yaml:"addons"`
	Features    []SeedGate       `yaml:"features"`
	Modules     []SeedGate       `yaml:"modules"`
	Businesses  []SeedBusiness   `yaml:"business_types"`
}

// SeedPermission declares one permission code
type SeedPermission struct {
	Code        string `yaml:"code"`
	Description string `yaml:"description"`
	Deprecated  bool   `yaml:"deprecated"`
}

// SeedRole declares a system role and its grants
type SeedRole struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	DisplayName string   `yaml:"display_name"`
	Permissions []string `yaml:"permissions"`
}

// SeedGrant declares a plan or addon and its grants
type SeedGrant struct {
	Code        string   `yaml:"code"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// SeedGate declares a feature or module
type SeedGate struct {
	Code           string `yaml:"code"`
	Name           string `yaml:"name"`
	Scope          string `yaml:"scope"`
	DefaultEnabled bool   `yaml:"default_enabled"`
	Description    string `yaml:"description"`
}

// SeedBusiness declares a business type's flat module/feature mapping
type SeedBusiness struct {
	Code     string   `yaml:"code"`
	Modules  []string `yaml:"modules"`
	Features []string `yaml:"features"`
}

// LoadSeed reads and validates a catalog seed file
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog seed: %w", err)
	}

	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("failed to parse catalog seed: %w", err)
	}

	if err := seed.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog seed: %w", err)
	}
	return &seed, nil
}

// Validate checks internal consistency of the seed: permission codes
// follow the resource.action convention, and every code referenced by a
// role, plan, or addon is declared. A dangling reference here is the
// same configuration bug the composer rejects at runtime; catching it
// at load time keeps a broken deployment from starting at all.
func (s *Seed) Validate() error {
	declared := make(map[string]bool, len(s.Permissions))
	for _, p := range s.Permissions {
		if !PermissionCode(p.Code).Valid() {
			return fmt.Errorf("permission %q does not follow resource.action", p.Code)
		}
		if declared[p.Code] {
			return fmt.Errorf("duplicate permission %q", p.Code)
		}
		declared[p.Code] = true
	}

	check := func(kind, owner string, codes []string) error {
		for _, code := range codes {
			if !declared[code] {
				return fmt.Errorf("%s %q references undeclared permission %q", kind, owner, code)
			}
		}
		return nil
	}

	for _, r := range s.Roles {
		if len(r.Permissions) == 0 {
			return fmt.Errorf("role %q grants no permissions", r.ID)
		}
		if err := check("role", r.ID, r.Permissions); err != nil {
			return err
		}
	}
	for _, p := range s.Plans {
		if err := check("plan", p.Code, p.Permissions); err != nil {
			return err
		}
	}
	for _, a := range s.Addons {
		if err := check("addon", a.Code, a.Permissions); err != nil {
			return err
		}
	}

	gates := make(map[string]bool)
	for _, f := range s.Features {
		if !Scope(f.Scope).Valid() {
			return fmt.Errorf("feature %q has invalid scope %q", f.Code, f.Scope)
		}
		gates["feature:"+f.Code] = true
	}
	for _, m := range s.Modules {
		if !Scope(m.Scope).Valid() {
			return fmt.Errorf("module %q has invalid scope %q", m.Code, m.Scope)
		}
		gates["module:"+m.Code] = true
	}

	for _, b := range s.Businesses {
		for _, m := range b.Modules {
			if !gates["module:"+m] {
				return fmt.Errorf("business type %q references undeclared module %q", b.Code, m)
			}
		}
		for _, f := range b.Features {
			if !gates["feature:"+f] {
				return fmt.Errorf("business type %q references undeclared feature %q", b.Code, f)
			}
		}
	}

	return nil
}

// BuildSource materializes the seed into an in-memory catalog
func (s *Seed) BuildSource() *MemorySource {
	src := NewMemorySource()
	now := time.Now()

	for _, p := range s.Permissions {
		src.AddPermission(Permission{
			Code:        PermissionCode(p.Code),
			Description: p.Description,
			Deprecated:  p.Deprecated,
			CreatedAt:   now,
		})
	}
	for _, r := range s.Roles {
		src.AddRole(Role{
			ID:          r.ID,
			Name:        r.Name,
			DisplayName: r.DisplayName,
			IsSystem:    true,
			Permissions: toPermissionCodes(r.Permissions),
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}
	for _, p := range s.Plans {
		src.AddPlan(Plan{Code: p.Code, Name: p.Name, Permissions: toPermissionCodes(p.Permissions), CreatedAt: now})
	}
	for _, a := range s.Addons {
		src.AddAddon(Addon{Code: a.Code, Name: a.Name, Permissions: toPermissionCodes(a.Permissions), CreatedAt: now})
	}
	for _, f := range s.Features {
		src.AddFeature(Feature{
			Code:           f.Code,
			Name:           f.Name,
			Scope:          Scope(f.Scope),
			DefaultEnabled: f.DefaultEnabled,
			Description:    f.Description,
			CreatedAt:      now,
		})
	}
	for _, m := range s.Modules {
		src.AddModule(Module{
			Code:           m.Code,
			Name:           m.Name,
			Scope:          Scope(m.Scope),
			DefaultEnabled: m.DefaultEnabled,
			Description:    m.Description,
			CreatedAt:      now,
		})
	}
	for _, b := range s.Businesses {
		src.AddLegacyMapping(LegacyMapping{
			BusinessType: b.Code,
			Modules:      b.Modules,
			Features:     b.Features,
		})
	}

	return src
}

func toPermissionCodes(codes []string) []PermissionCode {
	out := make([]PermissionCode, len(codes))
	for i, c := range codes {
		out[i] = PermissionCode(c)
	}
	return out
}
