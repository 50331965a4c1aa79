package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ReceiverConfig struct {
	// PacketLogRate caps debug packet log lines per second and session.
	PacketLogRate float64
}

type receiverService struct {
	conference ports.ConferenceContext
	transports ports.TransportFactory
	metrics    ports.SessionMetrics
	feed       ports.PacketFeed
	config     ReceiverConfig

	sessions map[domain.SessionID]*managedSession
	mu       sync.RWMutex

	logger *zap.SugaredLogger
}

type managedSession struct {
	id        domain.SessionID
	session   *VideoSession
	createdAt time.Time
}

// NewReceiverService creates the owner of all video sessions of one
// conference. metrics and feed may be nil.
func NewReceiverService(
	conference ports.ConferenceContext,
	transports ports.TransportFactory,
	metrics ports.SessionMetrics,
	feed ports.PacketFeed,
	config ReceiverConfig,
	logger *zap.SugaredLogger,
) ports.ReceiverService {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &receiverService{
		conference: conference,
		transports: transports,
		metrics:    metrics,
		feed:       feed,
		config:     config,
		sessions:   make(map[domain.SessionID]*managedSession),
		logger:     logger,
	}
}

func (s *receiverService) Open(ctx context.Context, participantID domain.ParticipantID) (*domain.SessionInfo, error) {
	id := domain.SessionID(uuid.NewString())

	opts := []SessionOption{
		WithSessionLogger(s.logger.With("session_id", id)),
		WithSessionMetrics(s.metrics),
		WithPacketLogRate(s.config.PacketLogRate),
	}
	if s.feed != nil {
		feed := s.feed
		opts = append(opts, WithPacketObserver(func(pkt domain.VideoPacket) {
			feed.Publish(id, participantID, pkt)
		}))
	}

	session, err := NewVideoSession(ctx, participantID, s.conference, s.transports, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open session for participant %d: %w", participantID, err)
	}

	ms := &managedSession{id: id, session: session, createdAt: time.Now()}

	s.mu.Lock()
	s.sessions[id] = ms
	s.mu.Unlock()

	s.logger.Infow("session opened",
		"session_id", id,
		"participant_id", participantID,
		"has_stream", session.HasStream(),
	)
	return ms.info(), nil
}

func (s *receiverService) Start(ctx context.Context, id domain.SessionID) error {
	ms, err := s.lookup(id)
	if err != nil {
		return err
	}
	return ms.session.Start(ctx)
}

func (s *receiverService) Stop(ctx context.Context, id domain.SessionID) error {
	ms, err := s.lookup(id)
	if err != nil {
		return err
	}
	return ms.session.Stop(ctx)
}

// Close stops the session and forgets it. The session is removed even when
// the transport fails to disconnect cleanly.
func (s *receiverService) Close(ctx context.Context, id domain.SessionID) error {
	s.mu.Lock()
	ms, exists := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !exists {
		return domain.ErrSessionNotFound
	}

	if err := ms.session.Close(ctx); err != nil {
		return err
	}
	s.logger.Infow("session closed", "session_id", id, "participant_id", ms.session.ParticipantID())
	return nil
}

func (s *receiverService) Get(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error) {
	ms, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	return ms.info(), nil
}

func (s *receiverService) List(ctx context.Context) ([]*domain.SessionInfo, error) {
	s.mu.RLock()
	infos := make([]*domain.SessionInfo, 0, len(s.sessions))
	for _, ms := range s.sessions {
		infos = append(infos, ms.info())
	}
	s.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos, nil
}

// Shutdown closes every session and returns the joined disconnect errors.
func (s *receiverService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[domain.SessionID]*managedSession)
	s.mu.Unlock()

	var errs []error
	for id, ms := range sessions {
		if err := ms.session.Close(ctx); err != nil {
			s.logger.Errorw("failed to stop session", "session_id", id, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *receiverService) lookup(id domain.SessionID) (*managedSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, exists := s.sessions[id]
	if !exists {
		return nil, domain.ErrSessionNotFound
	}
	return ms, nil
}

func (ms *managedSession) info() *domain.SessionInfo {
	return &domain.SessionInfo{
		ID:                  ms.id,
		ParticipantID:       ms.session.ParticipantID(),
		StreamName:          ms.session.StreamName(),
		State:               ms.session.State().String(),
		AspectRatio:         ms.session.AspectRatio(),
		PacketsReceived:     ms.session.PacketsReceived(),
		LastPacketTimestamp: ms.session.LastPacketTimestamp(),
		CreatedAt:           ms.createdAt,
	}
}
