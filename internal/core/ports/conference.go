package ports

import (
	"context"

	"confvideo/internal/core/domain"
)

// ConferenceContext exposes what a video session needs to know about the
// conference it belongs to.
type ConferenceContext interface {
	Participants(ctx context.Context) ([]domain.Participant, error)
	ServerURL() string
	ConferenceName() string
}
