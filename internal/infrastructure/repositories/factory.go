package repositories

import (
	"context"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/internal/infrastructure/repositories/cached"
	"confvideo/internal/infrastructure/repositories/memory"
	redisrepo "confvideo/internal/infrastructure/repositories/redis"
	"confvideo/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RepositoryFactory creates repositories with fallback support
type RepositoryFactory struct {
	useRedis    bool
	redisClient *redis.Client
	cacheTTL    time.Duration
	caches      []*cached.ParticipantDirectory
	logger      *zap.SugaredLogger
}

// NewRepositoryFactory creates a new repository factory. An unreachable Redis
// is logged and replaced by the in-memory directory.
func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	factory := &RepositoryFactory{
		useRedis: cfg.Directory.Redis.Enabled,
		cacheTTL: cfg.Directory.CacheTTL,
		logger:   logger,
	}

	if cfg.Directory.Redis.Enabled {
		client, err := redisrepo.NewRedisClient(
			cfg.Directory.Redis.Address,
			cfg.Directory.Redis.Password,
			cfg.Directory.Redis.DB,
			cfg.Directory.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, falling back to memory directory",
				"error", err,
			)
			factory.useRedis = false
		} else {
			factory.redisClient = client
			logger.Info("using Redis participant directory")
		}
	}

	if !factory.useRedis {
		logger.Info("using memory participant directory")
	}

	return factory, nil
}

// CreateParticipantDirectory creates the directory of one conference. Seed
// participants are written to it; with Redis they overwrite stored entries of
// the same id and reads are cached for the configured TTL.
func (f *RepositoryFactory) CreateParticipantDirectory(ctx context.Context, conference string, seed []domain.Participant) (ports.ParticipantDirectory, error) {
	if !f.useRedis || f.redisClient == nil {
		return memory.NewMemoryParticipantRepository(seed...), nil
	}

	dir := redisrepo.NewRedisParticipantRepository(f.redisClient, conference)
	for _, p := range seed {
		if err := dir.Upsert(ctx, p); err != nil {
			return nil, err
		}
	}
	if f.cacheTTL <= 0 {
		return dir, nil
	}

	cachedDir := cached.NewParticipantDirectory(dir, f.cacheTTL)
	f.caches = append(f.caches, cachedDir)
	return cachedDir, nil
}

// Close closes Redis connection if used
func (f *RepositoryFactory) Close() error {
	for _, c := range f.caches {
		c.Close()
	}
	f.caches = nil

	if f.redisClient != nil {
		err := redisrepo.CloseRedisClient(f.redisClient)
		f.redisClient = nil
		return err
	}
	return nil
}

// HealthCheck checks Redis connection health
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.useRedis && f.redisClient != nil {
		return f.redisClient.Ping(ctx).Err()
	}
	return nil
}

// Backend names the directory implementation in use.
func (f *RepositoryFactory) Backend() string {
	if f.useRedis && f.redisClient != nil {
		return "redis"
	}
	return "memory"
}
