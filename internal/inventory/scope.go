package inventory

import (
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
)

type scopeKind uint8

const (
	scopeUnset scopeKind = iota
	scopeTenant
	scopeCompany
	scopeAll
)

// Scope is the mandatory tenant filter carried by every read. The zero
// value is rejected, so a missing scope never widens into all tenants.
type Scope struct {
	kind     scopeKind
	tenantID int64
}

// ForTenant restricts results to one distributor.
func ForTenant(tenantID int64) Scope {
	if tenantID <= 0 {
		return Scope{}
	}
	return Scope{kind: scopeTenant, tenantID: tenantID}
}

// Company restricts results to rows without a tenant.
func Company() Scope {
	return Scope{kind: scopeCompany}
}

// AllTenants disables tenant filtering. Only privileged callers may build it.
func AllTenants() Scope {
	return Scope{kind: scopeAll}
}

// ScopeOf returns the exact scope a row with the given tenant id lives in.
func ScopeOf(tenantID int64) Scope {
	if tenantID > 0 {
		return ForTenant(tenantID)
	}
	return Company()
}

// Valid reports whether the scope was built through a constructor.
func (s Scope) Valid() bool {
	return s.kind != scopeUnset
}

// TenantID returns the tenant id and whether the scope pins one.
func (s Scope) TenantID() (int64, bool) {
	return s.tenantID, s.kind == scopeTenant
}

// IsCompany reports whether the scope selects tenant-less rows.
func (s Scope) IsCompany() bool {
	return s.kind == scopeCompany
}

// IsAll reports whether tenant filtering is disabled.
func (s Scope) IsAll() bool {
	return s.kind == scopeAll
}

// Includes reports whether a row owned by tenantID is visible in the scope.
func (s Scope) Includes(tenantID int64) bool {
	switch s.kind {
	case scopeTenant:
		return tenantID == s.tenantID
	case scopeCompany:
		return tenantID == 0
	case scopeAll:
		return true
	}
	return false
}

func (s Scope) String() string {
	switch s.kind {
	case scopeTenant:
		return fmt.Sprintf("tenant:%d", s.tenantID)
	case scopeCompany:
		return "company"
	case scopeAll:
		return "all"
	}
	return "unset"
}

func requireScope(s Scope) error {
	if !s.Valid() {
		return ErrScopeRequired
	}
	return nil
}

// ScopeForActor returns the widest scope the actor may read. requested is
// honoured only for privileged actors; everyone else is pinned to their own
// tenant (or company stock when they have none).
func ScopeForActor(actor shared.Actor, requested *int64) Scope {
	if actor.Privileged() {
		if requested != nil {
			return ScopeOf(*requested)
		}
		return AllTenants()
	}
	return ScopeOf(actor.TenantID)
}
