package ports

import (
	"context"

	"confvideo/internal/core/domain"
)

// PacketHandler is called from the transport's delivery goroutine and must
// return quickly.
type PacketHandler func(pkt domain.VideoPacket)

// MediaTransport is a single connection to a media server delivering the
// packets of one stream. Implementations own dialing, handshakes and retries.
type MediaTransport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	OnPacket(handler PacketHandler)
}

type TransportFactory interface {
	NewTransport(params domain.ConnectionParams) (MediaTransport, error)
}

// TransportFactoryFunc adapts a function to TransportFactory.
type TransportFactoryFunc func(params domain.ConnectionParams) (MediaTransport, error)

func (f TransportFactoryFunc) NewTransport(params domain.ConnectionParams) (MediaTransport, error) {
	return f(params)
}
