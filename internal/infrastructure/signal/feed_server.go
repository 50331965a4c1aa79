// Package signal streams live video packet metadata to websocket clients.
package signal

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	// diagnostics only; the HTTP layer handles auth
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// FeedMessage is one packet notification. Dropped counts the messages this
// subscriber lost to a full queue since the previous message.
type FeedMessage struct {
	Type          string               `json:"type"`
	SessionID     domain.SessionID     `json:"session_id"`
	ParticipantID domain.ParticipantID `json:"participant_id"`
	Timestamp     uint32               `json:"timestamp"`
	Size          int                  `json:"size"`
	Keyframe      bool                 `json:"keyframe"`
	ReceivedAt    time.Time            `json:"received_at"`
	Dropped       uint64               `json:"dropped,omitempty"`
}

type subscriber struct {
	sessionID     domain.SessionID
	participantID *domain.ParticipantID

	send    chan FeedMessage
	dropped atomic.Uint64
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) wants(sessionID domain.SessionID, participantID domain.ParticipantID) bool {
	if s.sessionID != "" && s.sessionID != sessionID {
		return false
	}
	if s.participantID != nil && *s.participantID != participantID {
		return false
	}
	return true
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.done) })
}

// FeedServer fans packets out to websocket subscribers. Publishing never
// blocks: a subscriber whose queue is full loses the packet.
type FeedServer struct {
	subscribers map[*subscriber]struct{}
	mu          sync.RWMutex

	buffer       int
	pingInterval time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	logger *zap.SugaredLogger
}

func NewFeedServer(buffer int, logger *zap.SugaredLogger) *FeedServer {
	if buffer <= 0 {
		buffer = 64
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &FeedServer{
		subscribers:  make(map[*subscriber]struct{}),
		buffer:       buffer,
		pingInterval: 30 * time.Second,
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		logger:       logger,
	}
}

func (s *FeedServer) SetPingInterval(interval time.Duration) {
	s.pingInterval = interval
}

func (s *FeedServer) Publish(sessionID domain.SessionID, participantID domain.ParticipantID, pkt domain.VideoPacket) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for sub := range s.subscribers {
		if !sub.wants(sessionID, participantID) {
			continue
		}
		msg := FeedMessage{
			Type:          "packet",
			SessionID:     sessionID,
			ParticipantID: participantID,
			Timestamp:     pkt.Timestamp,
			Size:          pkt.Size,
			Keyframe:      pkt.Keyframe,
			ReceivedAt:    pkt.ReceivedAt,
		}
		select {
		case sub.send <- msg:
		default:
			sub.dropped.Add(1)
		}
	}
}

func (s *FeedServer) subscribe(sessionID domain.SessionID, participantID *domain.ParticipantID) *subscriber {
	sub := &subscriber{
		sessionID:     sessionID,
		participantID: participantID,
		send:          make(chan FeedMessage, s.buffer),
		done:          make(chan struct{}),
	}

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

func (s *FeedServer) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	sub.close()
}

// HandleWebSocket serves one subscriber. Optional query parameters
// session_id and participant_id narrow the feed.
func (s *FeedServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	var participantID *domain.ParticipantID
	if raw := r.URL.Query().Get("participant_id"); raw != "" {
		id, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid participant_id", http.StatusBadRequest)
			return
		}
		pid := domain.ParticipantID(id)
		participantID = &pid
	}
	sessionID := domain.SessionID(r.URL.Query().Get("session_id"))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.subscribe(sessionID, participantID)
	defer s.unsubscribe(sub)

	s.logger.Infow("feed subscriber connected",
		"remote", r.RemoteAddr,
		"session_id", sessionID,
	)

	conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})

	// the reader only notices closes and pongs
	go func() {
		defer sub.close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Infow("feed subscriber read error", "error", err)
				}
				return
			}
		}
	}()

	pingTicker := time.NewTicker(s.pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case msg := <-sub.send:
			msg.Dropped = sub.dropped.Swap(0)
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Infow("error writing to feed subscriber", "error", err)
				return
			}

		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-sub.done:
			s.logger.Infow("feed subscriber disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}

func (s *FeedServer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

// Close disconnects every subscriber.
func (s *FeedServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		sub.close()
		delete(s.subscribers, sub)
	}
}

func (s *FeedServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":      "healthy",
		"timestamp":   time.Now().Unix(),
		"subscribers": s.SubscriberCount(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

var _ ports.PacketFeed = (*FeedServer)(nil)
