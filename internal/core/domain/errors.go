package domain

import "errors"

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrNoActiveStream      = errors.New("participant has no active stream")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionStopped      = errors.New("session stopped")
	ErrTransportFailure    = errors.New("transport failure")
	ErrTransportClosed     = errors.New("transport closed")
	ErrUnsupportedScheme   = errors.New("unsupported transport scheme")
)
