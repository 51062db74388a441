package authz

import (
	"context"

	"github.com/AviOnlineSec/cra/internal/model"
)

// TenantContext is the per-request view of who is acting and in which
// tenant. It is built once by the tenant resolver and read by handlers.
type TenantContext struct {
	Principal *Principal
	Tenant    *model.Tenant
}

// TenantID returns the resolved tenant id, or nil when no tenant is attached
func (tc *TenantContext) TenantID() *uint {
	if tc == nil || tc.Tenant == nil {
		return nil
	}
	id := tc.Tenant.ID
	return &id
}

// Scoped reports whether queries must be restricted to the resolved tenant.
// Privileged callers with no tenant attached see every tenant.
func (tc *TenantContext) Scoped() bool {
	if tc == nil {
		return true
	}
	return tc.Tenant != nil || !Privileged(tc.Principal)
}

// Can is a shorthand for Can(tc.Principal, c)
func (tc *TenantContext) Can(c Capability) bool {
	if tc == nil {
		return false
	}
	return Can(tc.Principal, c)
}

type tenantKey struct{}

// WithTenantContext stores tc in ctx
func WithTenantContext(ctx context.Context, tc *TenantContext) context.Context {
	return context.WithValue(ctx, tenantKey{}, tc)
}

// TenantContextFrom returns the tenant context stored in ctx, or nil
func TenantContextFrom(ctx context.Context) *TenantContext {
	tc, _ := ctx.Value(tenantKey{}).(*TenantContext)
	return tc
}
