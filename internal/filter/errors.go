package filter

import (
	"errors"

	"listing_filter/internal/domain"
)

func isDomainError(err error) bool {
	var (
		verr *domain.ValidationError
		eerr *domain.EligibilityError
		ierr *domain.InfrastructureError
	)
	return errors.Is(err, domain.ErrNotFound) ||
		errors.As(err, &verr) ||
		errors.As(err, &eerr) ||
		errors.As(err, &ierr)
}
