package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisParticipantRepository keeps one JSON document per participant plus a
// set of participant ids, both scoped by conference name.
type RedisParticipantRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisParticipantRepository(client *redis.Client, conference string) ports.ParticipantDirectory {
	return &RedisParticipantRepository{
		client: client,
		prefix: fmt.Sprintf("confvideo:conference:%s:", conference),
	}
}

func (r *RedisParticipantRepository) participantKey(id domain.ParticipantID) string {
	return r.prefix + "participant:" + strconv.Itoa(int(id))
}

func (r *RedisParticipantRepository) indexKey() string {
	return r.prefix + "participants"
}

func (r *RedisParticipantRepository) List(ctx context.Context) ([]domain.Participant, error) {
	ids, err := r.client.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participant ids from Redis: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Participant{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, raw := range ids {
		id, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		keys = append(keys, r.participantKey(domain.ParticipantID(id)))
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get participants from Redis: %w", err)
	}

	participants := make([]domain.Participant, 0, len(values))
	for _, v := range values {
		data, ok := v.(string)
		if !ok {
			// Skip participants removed between the two reads
			continue
		}
		p, err := decodeParticipant(data)
		if err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	sort.Slice(participants, func(i, j int) bool { return participants[i].ID < participants[j].ID })
	return participants, nil
}

func (r *RedisParticipantRepository) GetByID(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	data, err := r.client.Get(ctx, r.participantKey(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get participant from Redis: %w", err)
	}

	p, err := decodeParticipant(data)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *RedisParticipantRepository) Upsert(ctx context.Context, participant domain.Participant) error {
	data, err := json.Marshal(participant)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.participantKey(participant.ID), data, 0)
		pipe.SAdd(ctx, r.indexKey(), strconv.Itoa(int(participant.ID)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store participant in Redis: %w", err)
	}
	return nil
}

func (r *RedisParticipantRepository) Remove(ctx context.Context, id domain.ParticipantID) error {
	var deleted *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, r.participantKey(id))
		pipe.SRem(ctx, r.indexKey(), strconv.Itoa(int(id)))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete participant from Redis: %w", err)
	}
	if deleted.Val() == 0 {
		return domain.ErrParticipantNotFound
	}
	return nil
}

func decodeParticipant(data string) (domain.Participant, error) {
	var p domain.Participant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return domain.Participant{}, fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	return p, nil
}
