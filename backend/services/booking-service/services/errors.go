package services

import (
	"errors"

	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/repository"
)

// storeErr maps a repository failure to an application error. notFound is
// the message used when the row does not exist.
func storeErr(err error, notFound string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NotFound(notFound)
	}
	if errors.Is(err, repository.ErrConflict) {
		return apperrors.New(apperrors.KindConflict, "Record changed concurrently, please retry", err)
	}
	return apperrors.Internal("Database error", err)
}
