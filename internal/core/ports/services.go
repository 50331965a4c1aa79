package ports

import (
	"context"

	"confvideo/internal/core/domain"
)

type ReceiverService interface {
	Open(ctx context.Context, participantID domain.ParticipantID) (*domain.SessionInfo, error)
	Start(ctx context.Context, id domain.SessionID) error
	Stop(ctx context.Context, id domain.SessionID) error
	Close(ctx context.Context, id domain.SessionID) error
	Get(ctx context.Context, id domain.SessionID) (*domain.SessionInfo, error)
	List(ctx context.Context) ([]*domain.SessionInfo, error)
	Shutdown(ctx context.Context) error
}

// SessionMetrics receives lifecycle and packet observations from sessions.
type SessionMetrics interface {
	SessionStateChanged(from, to domain.ConnectionState)
	PacketReceived(participantID domain.ParticipantID, pkt domain.VideoPacket)
	ConnectFailed(participantID domain.ParticipantID)
}

// PacketFeed fans packet observations out to diagnostics subscribers.
// Publish must not block.
type PacketFeed interface {
	Publish(sessionID domain.SessionID, participantID domain.ParticipantID, pkt domain.VideoPacket)
}
