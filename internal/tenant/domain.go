// Package tenant resolves the pharmacy company a request belongs to
// and routes it to the right database: the shared default pool or a
// dedicated per-tenant pool, selected by subdomain or header.
package tenant

import (
	"context"
	"errors"
)

// Tenant describes one pharmacy company registered in the control
// database.
type Tenant struct {
	ID        int64  `json:"id"`
	Slug      string `json:"slug"`
	Name      string `json:"name"`
	CompanyID int64  `json:"company_id"`
	// DSN is empty for tenants living in the shared default database.
	DSN        string `json:"dsn,omitempty"`
	APIKeyHash string `json:"-"`
	Active     bool   `json:"active"`
}

// ErrUnknownTenant indicates no tenant matches the requested slug.
var ErrUnknownTenant = errors.New("tenant: unknown tenant")

// ErrInactiveTenant indicates the tenant exists but is disabled.
var ErrInactiveTenant = errors.New("tenant: tenant disabled")

type contextKey struct{}

// ContextWith stores the resolved tenant in context.
func ContextWith(ctx context.Context, t Tenant) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext extracts the resolved tenant.
func FromContext(ctx context.Context) (Tenant, bool) {
	t, ok := ctx.Value(contextKey{}).(Tenant)
	return t, ok
}

// CompanyID returns the company scope of the request, zero when no
// tenant is resolved.
func CompanyID(ctx context.Context) int64 {
	t, _ := FromContext(ctx)
	return t.CompanyID
}
