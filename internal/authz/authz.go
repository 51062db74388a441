// Package authz holds the authenticated principal and the capability
// predicate every handler uses for role checks.
package authz

import (
	"context"

	"github.com/AviOnlineSec/cra/internal/model"
)

// Capability is an enumerated permission
type Capability int

const (
	// BypassTenant lets a caller work without a tenant context and see every tenant
	BypassTenant Capability = iota
	// ManageApprovals allows approving or rejecting registrations
	ManageApprovals
	// ManageTenants allows creating tenants and editing memberships
	ManageTenants
	// ManageCatalog allows writing categories, questions and options
	ManageCatalog
	// ReviewAssessments allows moving an assessment to approved or rejected
	ReviewAssessments
	// UseExternalMirror allows importing from and pushing to the external store
	UseExternalMirror
)

var capabilityNames = map[Capability]string{
	BypassTenant:      "bypass_tenant",
	ManageApprovals:   "manage_approvals",
	ManageTenants:     "manage_tenants",
	ManageCatalog:     "manage_catalog",
	ReviewAssessments: "review_assessments",
	UseExternalMirror: "use_external_mirror",
}

func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}
	return "unknown"
}

var roleCapabilities = map[model.Role]map[Capability]struct{}{
	model.RoleAdmin: {
		BypassTenant:      {},
		ManageApprovals:   {},
		ManageTenants:     {},
		ManageCatalog:     {},
		ReviewAssessments: {},
		UseExternalMirror: {},
	},
	model.RoleCompliance: {
		ManageCatalog:     {},
		ReviewAssessments: {},
		UseExternalMirror: {},
	},
	model.RoleUser: {
		UseExternalMirror: {},
	},
}

// Principal is the authenticated caller of a request
type Principal struct {
	UserID      uint
	Email       string
	Name        string
	Role        model.Role
	IsSuperuser bool
}

// Can reports whether p holds capability c. Superusers hold every capability.
func Can(p *Principal, c Capability) bool {
	if p == nil {
		return false
	}
	if p.IsSuperuser {
		return true
	}
	_, ok := roleCapabilities[p.Role][c]
	return ok
}

// Privileged reports whether p may act without a tenant context
func Privileged(p *Principal) bool {
	return Can(p, BypassTenant)
}

// FromUser builds a principal from a stored user
func FromUser(u *model.User) *Principal {
	return &Principal{
		UserID:      u.ID,
		Email:       u.Email,
		Name:        u.DisplayName(),
		Role:        u.Role,
		IsSuperuser: u.IsSuperuser,
	}
}

type principalKey struct{}

// WithPrincipal stores p in ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the principal stored in ctx, or nil
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
