package memory

import (
	"context"
	"sort"
	"sync"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
)

type MemoryParticipantRepository struct {
	participants map[domain.ParticipantID]domain.Participant
	mu           sync.RWMutex
}

func NewMemoryParticipantRepository(seed ...domain.Participant) ports.ParticipantDirectory {
	r := &MemoryParticipantRepository{
		participants: make(map[domain.ParticipantID]domain.Participant, len(seed)),
	}
	for _, p := range seed {
		r.participants[p.ID] = p
	}
	return r
}

// List returns participants ordered by id.
func (r *MemoryParticipantRepository) List(ctx context.Context) ([]domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

func (r *MemoryParticipantRepository) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.participants[id]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	return &p, nil
}

func (r *MemoryParticipantRepository) Upsert(ctx context.Context, participant domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.participants[participant.ID] = participant
	return nil
}

func (r *MemoryParticipantRepository) Remove(ctx context.Context, id domain.ParticipantID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[id]; !exists {
		return domain.ErrParticipantNotFound
	}
	delete(r.participants, id)
	return nil
}
