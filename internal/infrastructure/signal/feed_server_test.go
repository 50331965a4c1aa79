package signal

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"confvideo/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialFeed(t *testing.T, s *FeedServer, query string) *websocket.Conn {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	t.Cleanup(ts.Close)

	before := s.SubscriberCount()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return s.SubscriberCount() == before+1 }, time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	var msg FeedMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestFeedServer_DeliversPackets(t *testing.T) {
	s := NewFeedServer(8, nil)
	conn := dialFeed(t, s, "")

	at := time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)
	s.Publish("s-1", 13, domain.VideoPacket{Timestamp: 40, Size: 512, Keyframe: true, ReceivedAt: at})

	msg := readMessage(t, conn)
	assert.Equal(t, "packet", msg.Type)
	assert.Equal(t, domain.SessionID("s-1"), msg.SessionID)
	assert.Equal(t, domain.ParticipantID(13), msg.ParticipantID)
	assert.Equal(t, uint32(40), msg.Timestamp)
	assert.Equal(t, 512, msg.Size)
	assert.True(t, msg.Keyframe)
	assert.True(t, at.Equal(msg.ReceivedAt))
	assert.Zero(t, msg.Dropped)
}

func TestFeedServer_Filters(t *testing.T) {
	s := NewFeedServer(8, nil)
	bySession := dialFeed(t, s, "?session_id=s-2")
	byParticipant := dialFeed(t, s, "?participant_id=5")

	s.Publish("s-1", 13, domain.VideoPacket{Timestamp: 1})
	s.Publish("s-2", 13, domain.VideoPacket{Timestamp: 2})
	s.Publish("s-3", 5, domain.VideoPacket{Timestamp: 3})

	assert.Equal(t, uint32(2), readMessage(t, bySession).Timestamp)
	assert.Equal(t, uint32(3), readMessage(t, byParticipant).Timestamp)
}

func TestFeedServer_InvalidParticipant(t *testing.T) {
	s := NewFeedServer(8, nil)
	rec := httptest.NewRecorder()
	s.HandleWebSocket(rec, httptest.NewRequest(http.MethodGet, "/ws?participant_id=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedServer_PublishNeverBlocks(t *testing.T) {
	s := NewFeedServer(2, nil)
	sub := s.subscribe("", nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Publish("s-1", 1, domain.VideoPacket{Timestamp: uint32(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	assert.Len(t, sub.send, 2)
	assert.Equal(t, uint64(8), sub.dropped.Load())

	s.unsubscribe(sub)
	assert.Zero(t, s.SubscriberCount())
}

func TestFeedServer_CloseDisconnects(t *testing.T) {
	s := NewFeedServer(8, nil)
	conn := dialFeed(t, s, "")

	s.Close()
	assert.Zero(t, s.SubscriberCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestFeedServer_HealthCheck(t *testing.T) {
	s := NewFeedServer(8, nil)
	s.subscribe("", nil)

	rec := httptest.NewRecorder()
	s.HealthCheck(rec, httptest.NewRequest(http.MethodGet, "/ws/health", nil))

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 1.0, body["subscribers"])
}
