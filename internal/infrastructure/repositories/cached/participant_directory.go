package cached

import (
	"context"
	"fmt"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/cache"
)

const (
	listKey          = "participants:list"
	participantKeyFn = "participant:%d"
)

// ParticipantDirectory caches a slower directory such as the Redis one.
// Writes through this directory invalidate the cache; writes made by other
// instances become visible after the TTL.
type ParticipantDirectory struct {
	base ports.ParticipantDirectory
	list *cache.Cache[[]domain.Participant]
	byID *cache.Cache[domain.Participant]
}

func NewParticipantDirectory(base ports.ParticipantDirectory, ttl time.Duration) *ParticipantDirectory {
	return &ParticipantDirectory{
		base: base,
		list: cache.New[[]domain.Participant](ttl),
		byID: cache.New[domain.Participant](ttl),
	}
}

func (d *ParticipantDirectory) List(ctx context.Context) ([]domain.Participant, error) {
	list, err := d.list.GetOrSet(ctx, listKey, d.base.List)
	if err != nil {
		return nil, err
	}
	// callers may modify the slice
	return append([]domain.Participant(nil), list...), nil
}

func (d *ParticipantDirectory) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	p, err := d.byID.GetOrSet(ctx, fmt.Sprintf(participantKeyFn, id), func(ctx context.Context) (domain.Participant, error) {
		p, err := d.base.GetByID(ctx, id)
		if err != nil {
			return domain.Participant{}, err
		}
		return *p, nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (d *ParticipantDirectory) Upsert(ctx context.Context, participant domain.Participant) error {
	if err := d.base.Upsert(ctx, participant); err != nil {
		return err
	}
	d.invalidate(participant.ID)
	return nil
}

func (d *ParticipantDirectory) Remove(ctx context.Context, id domain.ParticipantID) error {
	if err := d.base.Remove(ctx, id); err != nil {
		return err
	}
	d.invalidate(id)
	return nil
}

func (d *ParticipantDirectory) invalidate(id domain.ParticipantID) {
	d.list.Delete(listKey)
	d.byID.Delete(fmt.Sprintf(participantKeyFn, id))
}

// Close stops the cache sweepers.
func (d *ParticipantDirectory) Close() {
	d.list.Stop()
	d.byID.Stop()
}

var _ ports.ParticipantDirectory = (*ParticipantDirectory)(nil)
