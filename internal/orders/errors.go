package orders

import (
	"errors"

	"github.com/angelmondragon/warehouse-allocator/internal/inventory"
	"github.com/angelmondragon/warehouse-allocator/pkg/db"
	"github.com/angelmondragon/warehouse-allocator/pkg/db/models"
	pkgerrors "github.com/angelmondragon/warehouse-allocator/pkg/errors"
	"gorm.io/gorm"
)

// mapError turns repository and domain errors into coded errors. Errors that
// already carry a code pass through unchanged.
func mapError(err error, action string) error {
	if err == nil {
		return nil
	}
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	var stateErr *models.StateError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "order not found")
	case errors.As(err, &stateErr):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, stateErr.Error()).
			WithDetails(map[string]any{"action": stateErr.Action, "status": stateErr.Status})
	case errors.Is(err, models.ErrInvalidOrderState):
		return pkgerrors.Wrap(pkgerrors.CodeStateConflict, err, "invalid order state")
	case errors.Is(err, inventory.ErrInvariantViolation):
		return pkgerrors.Wrap(pkgerrors.CodeInvariant, err, action+" violated stock invariant")
	case db.IsLockContention(err):
		return pkgerrors.Wrap(pkgerrors.CodeContention, err, action+" hit lock contention")
	default:
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, action)
	}
}
