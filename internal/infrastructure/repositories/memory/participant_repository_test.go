package memory

import (
	"context"
	"testing"

	"confvideo/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryParticipantRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryParticipantRepository(
		domain.Participant{ID: 13, HasStream: true, StreamName: "160x12013"},
		domain.Participant{ID: 2},
	)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.ParticipantID(2), list[0].ID)
	assert.Equal(t, domain.ParticipantID(13), list[1].ID)

	require.NoError(t, repo.Upsert(ctx, domain.Participant{ID: 2, HasStream: true, StreamName: "320x2402"}))
	p, err := repo.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.True(t, p.HasStream)
	assert.Equal(t, domain.StreamName("320x2402"), p.StreamName)

	// returned values are copies
	p.StreamName = "mutated"
	again, err := repo.GetByID(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StreamName("320x2402"), again.StreamName)

	require.NoError(t, repo.Remove(ctx, 2))
	_, err = repo.GetByID(ctx, 2)
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
	assert.ErrorIs(t, repo.Remove(ctx, 2), domain.ErrParticipantNotFound)
}
