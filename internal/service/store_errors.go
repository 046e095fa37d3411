package service

import (
	"errors"
	"fmt"

	domainerrors "github.com/circulate/circulation-server/internal/errors"
	"github.com/circulate/circulation-server/internal/store"
)

// translate maps store sentinels onto the domain error taxonomy so callers
// only deal with one set of codes.
func translate(err error, op string) error {
	if err == nil {
		return nil
	}

	var domainErr *domainerrors.Error
	if errors.As(err, &domainErr) {
		return err
	}

	switch {
	case errors.Is(err, store.ErrNotFound):
		return domainerrors.NotFound(err.Error()).WithCause(err)
	case errors.Is(err, store.ErrAlreadyExists):
		return domainerrors.PolicyViolation(domainerrors.ReasonDuplicateRequest,
			"an open request for this item already exists").WithCause(err)
	case errors.Is(err, store.ErrStaleState):
		return domainerrors.PolicyViolation(domainerrors.ReasonInvalidTransition, err.Error()).WithCause(err)
	case errors.Is(err, store.ErrInvalidInput):
		return domainerrors.Validation(err.Error()).WithCause(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isStale reports whether a guarded write lost a race or hit a vanished row.
func isStale(err error) bool {
	return errors.Is(err, store.ErrStaleState) || errors.Is(err, store.ErrNotFound)
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
