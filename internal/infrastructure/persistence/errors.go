package persistence

import (
	"errors"
	"fmt"

	"github.com/palmtrace/backend/internal/domain/shared"
	"gorm.io/gorm"
)

// translate maps driver-level errors onto domain errors.
func translate(err error, resource string, id fmt.Stringer) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return shared.NewNotFoundError(resource, id)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return shared.WrapDomainError(shared.CodeAlreadyExists, fmt.Sprintf("%s %s already exists", resource, id), err)
	default:
		return err
	}
}
