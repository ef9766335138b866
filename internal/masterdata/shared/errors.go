package shared

import (
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/platform/httpx"
)

var (
	ErrNotFound      = fmt.Errorf("masterdata: %w", httpx.ErrNotFound)
	ErrDuplicate     = fmt.Errorf("masterdata: %w", httpx.ErrDuplicate)
	ErrValidation    = fmt.Errorf("masterdata: %w", httpx.ErrValidation)
	ErrForbidden     = fmt.Errorf("masterdata: %w", httpx.ErrForbidden)
	ErrInvalidID     = fmt.Errorf("%w: invalid ID", ErrValidation)
	ErrRequiredField = fmt.Errorf("%w: field is required", ErrValidation)
)
