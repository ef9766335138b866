package warehouses

import (
	"fmt"
	"strings"

	"github.com/odyssey-erp/stockledger/internal/masterdata/shared"
)

func (s *Service) validate(w Warehouse) error {
	if w.TenantID < 0 {
		return fmt.Errorf("%w: tenant", shared.ErrInvalidID)
	}
	if strings.TrimSpace(w.Code) == "" {
		return fmt.Errorf("%w: warehouse code", shared.ErrRequiredField)
	}
	if len(w.Code) > 32 {
		return fmt.Errorf("%w: warehouse code longer than 32 characters", shared.ErrValidation)
	}
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: warehouse name", shared.ErrRequiredField)
	}
	if !w.Type.Valid() {
		return fmt.Errorf("%w: unknown warehouse type %q", shared.ErrValidation, w.Type)
	}
	return nil
}
