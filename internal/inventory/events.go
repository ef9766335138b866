package inventory

import (
	"context"
	"time"
)

// MovementsPostedEvent carries rows committed by one ledger write.
type MovementsPostedEvent struct {
	Movements []Movement
	PostedAt  time.Time
}

// TenantIDs lists the distinct tenants touched by the event.
func (e MovementsPostedEvent) TenantIDs() []int64 {
	seen := make(map[int64]struct{}, len(e.Movements))
	var ids []int64
	for _, m := range e.Movements {
		if _, ok := seen[m.TenantID]; ok {
			continue
		}
		seen[m.TenantID] = struct{}{}
		ids = append(ids, m.TenantID)
	}
	return ids
}

// Registry record kinds carried by RegistryChangedEvent.
const (
	RecordLot    = "lot"
	RecordSerial = "serial"
)

// RegistryChangedEvent reports a committed lot or serial write.
type RegistryChangedEvent struct {
	Kind      string
	ID        int64
	TenantID  int64
	ChangedAt time.Time
}

// RegistryHandler is implemented by integration handlers that also follow
// lot and serial registry writes.
type RegistryHandler interface {
	HandleRegistryChanged(ctx context.Context, evt RegistryChangedEvent)
}

// IntegrationHandlers fans one event out to several handlers in order.
type IntegrationHandlers []IntegrationHandler

// HandleMovementsPosted implements IntegrationHandler.
func (hs IntegrationHandlers) HandleMovementsPosted(ctx context.Context, evt MovementsPostedEvent) {
	for _, h := range hs {
		if h != nil {
			h.HandleMovementsPosted(ctx, evt)
		}
	}
}

// HandleRegistryChanged forwards to every member implementing RegistryHandler.
func (hs IntegrationHandlers) HandleRegistryChanged(ctx context.Context, evt RegistryChangedEvent) {
	for _, h := range hs {
		if rh, ok := h.(RegistryHandler); ok && rh != nil {
			rh.HandleRegistryChanged(ctx, evt)
		}
	}
}
