// Package policy supplies each institution's signing rules: how many
// signatures a diploma needs and which roles may provide them.
package policy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/wangue52/diploma-secure/internal/diploma"
)

// DefaultRequiredSignatures is used when neither the tenant nor the file
// default sets a count.
const DefaultRequiredSignatures = 2

// DefaultSignerRoles are the roles allowed to sign when nothing else is configured.
var DefaultSignerRoles = []diploma.Role{
	diploma.RoleSuperAdmin,
	diploma.RoleAdmin,
	diploma.RoleRector,
	diploma.RoleDean,
	diploma.RoleDirector,
	diploma.RoleSigner,
}

// Provider answers policy queries for a tenant. Implementations may be
// backed by an external tenant service; lookups take a context for that reason.
type Provider interface {
	RequiredSignatureCount(ctx context.Context, tenantID string) (int, error)
	AuthorizedSignerRoles(ctx context.Context, tenantID string) (diploma.RoleSet, error)
}

// Rule is the policy of one tenant.
type Rule struct {
	RequiredSignatures int      `yaml:"requiredSignatures"`
	SignerRoles        []string `yaml:"signerRoles"`
}

// File is the on-disk policy document.
//
//	default:
//	  requiredSignatures: 2
//	  signerRoles: [RECTOR, DEAN]
//	tenants:
//	  univ-yaounde-1:
//	    requiredSignatures: 3
type File struct {
	Default Rule            `yaml:"default"`
	Tenants map[string]Rule `yaml:"tenants"`
}

type resolved struct {
	required int
	roles    diploma.RoleSet
}

// Static is an immutable in-memory Provider.
type Static struct {
	fallback resolved
	tenants  map[string]resolved
}

var _ Provider = (*Static)(nil)

// NewStatic builds a provider from a parsed policy document. Tenant rules
// inherit unset fields from the default rule, which in turn falls back to
// DefaultRequiredSignatures and DefaultSignerRoles.
func NewStatic(f File) (*Static, error) {
	base := resolved{required: DefaultRequiredSignatures, roles: diploma.NewRoleSet(DefaultSignerRoles...)}
	fallback, err := resolve(base, f.Default)
	if err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	s := &Static{fallback: fallback, tenants: make(map[string]resolved, len(f.Tenants))}
	for tenant, rule := range f.Tenants {
		r, err := resolve(fallback, rule)
		if err != nil {
			return nil, fmt.Errorf("policy for tenant %s: %w", tenant, err)
		}
		s.tenants[tenant] = r
	}
	return s, nil
}

// Default returns a provider that applies the built-in defaults to every tenant.
func Default() *Static {
	s, _ := NewStatic(File{})
	return s
}

func resolve(base resolved, rule Rule) (resolved, error) {
	out := base
	switch {
	case rule.RequiredSignatures < 0:
		return out, fmt.Errorf("requiredSignatures must be at least 1, got %d", rule.RequiredSignatures)
	case rule.RequiredSignatures > 0:
		out.required = rule.RequiredSignatures
	}
	if len(rule.SignerRoles) > 0 {
		roles := make([]diploma.Role, 0, len(rule.SignerRoles))
		for _, name := range rule.SignerRoles {
			role, err := diploma.ParseRole(name)
			if err != nil {
				return out, err
			}
			roles = append(roles, role)
		}
		out.roles = diploma.NewRoleSet(roles...)
	}
	return out, nil
}

// Load reads a policy document from path.
func Load(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing policy file %s: %w", path, err)
	}
	return NewStatic(f)
}

func (s *Static) lookup(tenantID string) resolved {
	if r, ok := s.tenants[tenantID]; ok {
		return r
	}
	return s.fallback
}

// RequiredSignatureCount returns how many distinct signatures make a diploma SIGNED.
func (s *Static) RequiredSignatureCount(_ context.Context, tenantID string) (int, error) {
	return s.lookup(tenantID).required, nil
}

// AuthorizedSignerRoles returns the roles allowed to sign for the tenant.
func (s *Static) AuthorizedSignerRoles(_ context.Context, tenantID string) (diploma.RoleSet, error) {
	return s.lookup(tenantID).roles, nil
}
