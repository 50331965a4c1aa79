package ports

import (
	"context"

	"confvideo/internal/core/domain"
)

// ParticipantDirectory stores the participant list of one conference.
type ParticipantDirectory interface {
	List(ctx context.Context) ([]domain.Participant, error)
	GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error)
	Upsert(ctx context.Context, participant domain.Participant) error
	Remove(ctx context.Context, id domain.ParticipantID) error
}
