package storage

import (
	"errors"

	apperrors "github.com/R3E-Network/agentbank/internal/errors"
)

// Classify converts storage sentinels into typed service errors. entity and
// id describe the record the failing call was looking for.
func Classify(err error, entity, id string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return apperrors.NotFound(entity, id)
	case errors.Is(err, ErrDuplicate):
		return apperrors.Conflict("%s %s already exists", entity, id)
	case apperrors.GetServiceError(err) != nil:
		return err
	default:
		return apperrors.Internal("storage failure on "+entity, err)
	}
}
