package domain

import "time"

type SessionID string

type ConnectionState int32

const (
	StateUnconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateUnconnected:
		return "unconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// ConnectionParams is handed as-is to the media transport.
type ConnectionParams struct {
	ServerAddress string
	Application   string
	StreamName    StreamName
}

// VideoPacket describes one inbound media packet. The payload is never
// retained, only its size.
type VideoPacket struct {
	Timestamp  uint32
	Size       int
	Keyframe   bool
	ReceivedAt time.Time
}

type SessionInfo struct {
	ID                  SessionID     `json:"id"`
	ParticipantID       ParticipantID `json:"participant_id"`
	StreamName          StreamName    `json:"stream_name,omitempty"`
	State               string        `json:"state"`
	AspectRatio         float64       `json:"aspect_ratio"`
	PacketsReceived     uint64        `json:"packets_received"`
	LastPacketTimestamp uint32        `json:"last_packet_timestamp"`
	CreatedAt           time.Time     `json:"created_at"`
}
