package warehouses

import (
	"time"
)

// Type classifies what a warehouse is used for.
type Type string

const (
	TypeMain       Type = "MAIN"
	TypeTransit    Type = "TRANSIT"
	TypeReturn     Type = "RETURN"
	TypeQuarantine Type = "QUARANTINE"
	TypeVirtual    Type = "VIRTUAL"
)

// Valid reports whether t is a known warehouse type.
func (t Type) Valid() bool {
	switch t {
	case TypeMain, TypeTransit, TypeReturn, TypeQuarantine, TypeVirtual:
		return true
	}
	return false
}

// Warehouse represents a warehouse entity. TenantID zero marks a global
// (company) warehouse.
type Warehouse struct {
	ID        int64     `json:"id"`
	TenantID  int64     `json:"tenant_id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Type      Type      `json:"type"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
