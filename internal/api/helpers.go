package api

import (
	domainerrors "github.com/circulate/circulation-server/internal/errors"
)

// failed logs errors that are not the caller's fault and passes err through
// for the error handler to map.
func (s *Server) failed(op string, err error) error {
	if domainerrors.CodeOf(err) == domainerrors.CodeInternal {
		s.logger.Error(op+" failed", "error", err)
	}
	return err
}
