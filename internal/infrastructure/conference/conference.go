// Package conference implements the conference context video sessions are
// resolved against.
package conference

import (
	"context"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/config"
	"confvideo/pkg/tracing"
)

type Conference struct {
	name      string
	serverURL string
	backend   string
	directory ports.ParticipantDirectory
}

// New binds a conference name and join-service URL to a participant
// directory. backend only labels trace spans.
func New(name, serverURL, backend string, directory ports.ParticipantDirectory) *Conference {
	return &Conference{
		name:      name,
		serverURL: serverURL,
		backend:   backend,
		directory: directory,
	}
}

func (c *Conference) Participants(ctx context.Context) ([]domain.Participant, error) {
	ctx, span := tracing.TraceDirectoryOperation(ctx, "list", c.backend)
	defer span.End()

	participants, err := c.directory.List(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return nil, err
	}
	return participants, nil
}

func (c *Conference) ServerURL() string { return c.serverURL }

func (c *Conference) ConferenceName() string { return c.name }

func (c *Conference) Directory() ports.ParticipantDirectory { return c.directory }

// SeedParticipants converts configured participants to domain values.
func SeedParticipants(cfg []config.ParticipantConfig) []domain.Participant {
	seed := make([]domain.Participant, 0, len(cfg))
	for _, p := range cfg {
		seed = append(seed, domain.Participant{
			ID:         domain.ParticipantID(p.ID),
			Name:       p.Name,
			HasStream:  p.HasStream,
			StreamName: domain.StreamName(p.StreamName),
		})
	}
	return seed
}

var _ ports.ConferenceContext = (*Conference)(nil)
