package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/internal/core/streamid"
	"confvideo/pkg/tracing"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// VideoSession receives the video stream one participant publishes.
//
// The stream name is resolved once, at construction. A participant without a
// stream yields a session that never opens a transport. Start and Stop must be
// serialized by the caller; packet delivery may race with Stop and late
// packets are dropped.
type VideoSession struct {
	participantID domain.ParticipantID
	streamName    domain.StreamName
	params        domain.ConnectionParams
	transport     ports.MediaTransport

	mu     sync.Mutex
	state  atomic.Int32
	closed bool

	packets       atomic.Uint64
	lastTimestamp atomic.Uint32

	observers  []ports.PacketHandler
	metrics    ports.SessionMetrics
	logLimiter *rate.Limiter
	logger     *zap.SugaredLogger
}

type SessionOption func(*VideoSession)

func WithSessionLogger(logger *zap.SugaredLogger) SessionOption {
	return func(s *VideoSession) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithSessionMetrics(metrics ports.SessionMetrics) SessionOption {
	return func(s *VideoSession) {
		if metrics != nil {
			s.metrics = metrics
		}
	}
}

// WithPacketObserver registers a hand-off for every accepted packet. The
// observer runs on the transport's delivery goroutine.
func WithPacketObserver(observer ports.PacketHandler) SessionOption {
	return func(s *VideoSession) {
		if observer != nil {
			s.observers = append(s.observers, observer)
		}
	}
}

// WithPacketLogRate limits debug packet logging to perSecond lines. Zero
// turns packet logging off.
func WithPacketLogRate(perSecond float64) SessionOption {
	return func(s *VideoSession) {
		if perSecond <= 0 {
			s.logLimiter = nil
			return
		}
		s.logLimiter = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
}

// NewVideoSession resolves the stream of participantID in conf and prepares,
// but does not open, a transport for it.
func NewVideoSession(
	ctx context.Context,
	participantID domain.ParticipantID,
	conf ports.ConferenceContext,
	factory ports.TransportFactory,
	opts ...SessionOption,
) (*VideoSession, error) {
	s := &VideoSession{
		participantID: participantID,
		metrics:       noopMetrics{},
		logLimiter:    rate.NewLimiter(rate.Limit(1), 1),
		logger:        zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}

	participants, err := conf.Participants(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	for _, p := range participants {
		if p.ID == participantID && p.HasStream {
			s.streamName = p.StreamName
			break
		}
	}

	if s.streamName == "" {
		s.logger.Debugw("participant has no stream", "participant_id", participantID)
		return s, nil
	}

	s.params = domain.ConnectionParams{
		ServerAddress: ServerAddress(conf.ServerURL()),
		Application:   "video/" + conf.ConferenceName(),
		StreamName:    s.streamName,
	}

	transport, err := factory.NewTransport(s.params)
	if err != nil {
		return nil, fmt.Errorf("%w: create transport: %w", domain.ErrTransportFailure, err)
	}
	transport.OnPacket(s.handlePacket)
	s.transport = transport

	return s, nil
}

// ServerAddress turns a join-service URL into the host the media server is
// reached at: lower-cased, scheme and path removed.
func ServerAddress(serverURL string) string {
	addr := strings.ToLower(strings.TrimSpace(serverURL))
	if i := strings.Index(addr, "://"); i >= 0 {
		addr = addr[i+3:]
	}
	if u, err := url.Parse("//" + addr); err == nil && u.Host != "" {
		return u.Host
	}
	return strings.TrimRight(addr, "/")
}

// Start opens the transport. It is a no-op without a stream or when the
// session is already connecting or connected.
func (s *VideoSession) Start(ctx context.Context) error {
	if s.transport == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return domain.ErrSessionStopped
	}

	prev := s.State()
	switch prev {
	case domain.StateConnecting, domain.StateConnected:
		return nil
	case domain.StateDisconnected:
		return domain.ErrSessionStopped
	}

	ctx, span := tracing.TraceSession(ctx, "start", int(s.participantID), string(s.streamName))
	defer span.End()

	s.setState(domain.StateConnecting)
	if err := s.transport.Connect(ctx); err != nil {
		s.setState(prev)
		s.metrics.ConnectFailed(s.participantID)
		tracing.RecordError(ctx, err)
		s.logger.Warnw("failed to connect video stream",
			"participant_id", s.participantID,
			"stream", s.streamName,
			"server", s.params.ServerAddress,
			"error", err,
		)
		return fmt.Errorf("%w: connect %s/%s: %w", domain.ErrTransportFailure, s.params.Application, s.streamName, err)
	}
	s.setState(domain.StateConnected)

	s.logger.Infow("video stream connected",
		"participant_id", s.participantID,
		"stream", s.streamName,
		"server", s.params.ServerAddress,
	)
	return nil
}

// Stop releases the transport. Safe to call repeatedly and before Start.
func (s *VideoSession) Stop(ctx context.Context) error {
	if s.transport == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case domain.StateUnconnected, domain.StateDisconnected:
		return nil
	}

	ctx, span := tracing.TraceSession(ctx, "stop", int(s.participantID), string(s.streamName))
	defer span.End()

	// flip first so packets racing with the disconnect are dropped
	s.setState(domain.StateDisconnected)
	if err := s.transport.Disconnect(ctx); err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("%w: disconnect %s/%s: %w", domain.ErrTransportFailure, s.params.Application, s.streamName, err)
	}

	s.logger.Infow("video stream disconnected",
		"participant_id", s.participantID,
		"stream", s.streamName,
		"packets", s.packets.Load(),
	)
	return nil
}

// Close stops the session for good. Unlike Stop before Start, a closed
// session never connects afterwards.
func (s *VideoSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	return s.Stop(ctx)
}

func (s *VideoSession) handlePacket(pkt domain.VideoPacket) {
	switch s.State() {
	case domain.StateConnecting, domain.StateConnected:
	default:
		return
	}

	s.packets.Add(1)
	s.lastTimestamp.Store(pkt.Timestamp)
	s.metrics.PacketReceived(s.participantID, pkt)

	if s.logLimiter != nil && s.logLimiter.Allow() {
		s.logger.Debugw("received video packet",
			"participant_id", s.participantID,
			"timestamp", pkt.Timestamp,
			"size", pkt.Size,
		)
	}

	for _, observe := range s.observers {
		observe(pkt)
	}
}

func (s *VideoSession) setState(to domain.ConnectionState) {
	from := domain.ConnectionState(s.state.Swap(int32(to)))
	if from != to {
		s.metrics.SessionStateChanged(from, to)
	}
}

func (s *VideoSession) State() domain.ConnectionState {
	return domain.ConnectionState(s.state.Load())
}

func (s *VideoSession) ParticipantID() domain.ParticipantID { return s.participantID }

// StreamName is empty when the participant publishes no stream.
func (s *VideoSession) StreamName() domain.StreamName { return s.streamName }

func (s *VideoSession) HasStream() bool { return s.streamName != "" }

func (s *VideoSession) ConnectionParams() domain.ConnectionParams { return s.params }

func (s *VideoSession) AspectRatio() float64 {
	return streamid.DecodeAspectRatio(s.participantID, s.streamName)
}

func (s *VideoSession) PacketsReceived() uint64 { return s.packets.Load() }

func (s *VideoSession) LastPacketTimestamp() uint32 { return s.lastTimestamp.Load() }

type noopMetrics struct{}

func (noopMetrics) SessionStateChanged(from, to domain.ConnectionState)     {}
func (noopMetrics) PacketReceived(domain.ParticipantID, domain.VideoPacket) {}
func (noopMetrics) ConnectFailed(domain.ParticipantID)                      {}
