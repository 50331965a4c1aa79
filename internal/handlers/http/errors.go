package http

import (
	"net/http"

	"confvideo/internal/core/domain"
	"confvideo/pkg/circuitbreaker"
	apperrors "confvideo/pkg/errors"
)

// ErrorMapping translates the errors sessions, transports and the directory
// return into API errors.
func ErrorMapping() *apperrors.Mapping {
	return (&apperrors.Mapping{}).
		Map(domain.ErrParticipantNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound).
		Map(domain.ErrSessionNotFound, apperrors.ErrCodeNotFound, http.StatusNotFound).
		Map(domain.ErrSessionStopped, apperrors.ErrCodeConflict, http.StatusConflict).
		// an open breaker is wrapped in a transport failure, so it goes first
		Map(circuitbreaker.ErrOpen, apperrors.ErrCodeServiceUnavailable, http.StatusServiceUnavailable).
		Map(domain.ErrUnsupportedScheme, apperrors.ErrCodeInternal, http.StatusInternalServerError).
		Map(domain.ErrTransportFailure, apperrors.ErrCodeBadGateway, http.StatusBadGateway)
}
