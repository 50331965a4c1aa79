package whep

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"confvideo/internal/core/domain"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var params = domain.ConnectionParams{
	ServerAddress: "conf.example.org",
	Application:   "video/weekly",
	StreamName:    "160x12013-13173",
}

// whepServer answers offers with a pion peer connection sending one video
// track and records deletes.
type whepServer struct {
	t *testing.T

	mu      sync.Mutex
	offers  []string
	deletes []string
	pcs     []*webrtc.PeerConnection
}

func (s *whepServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch r.Method {
	case http.MethodDelete:
		s.deletes = append(s.deletes, r.URL.Path)
		w.WriteHeader(http.StatusOK)
		return
	case http.MethodPost:
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if r.Header.Get("Content-Type") != sdpContentType {
		http.Error(w, "bad content type", http.StatusUnsupportedMediaType)
		return
	}
	body, _ := io.ReadAll(r.Body)
	s.offers = append(s.offers, r.URL.Path)

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(s.t, err)
	s.pcs = append(s.pcs, pc)

	track, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "confvideo")
	require.NoError(s.t, err)
	_, err = pc.AddTrack(track)
	require.NoError(s.t, err)

	require.NoError(s.t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(body)}))
	answer, err := pc.CreateAnswer(nil)
	require.NoError(s.t, err)
	gathered := webrtc.GatheringCompletePromise(pc)
	require.NoError(s.t, pc.SetLocalDescription(answer))
	<-gathered

	w.Header().Set("Content-Type", sdpContentType)
	w.Header().Set("Location", "/resource/1")
	w.WriteHeader(http.StatusCreated)
	_, _ = io.WriteString(w, pc.LocalDescription().SDP)
}

func (s *whepServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pc := range s.pcs {
		_ = pc.Close()
	}
}

func TestNewTransport_Endpoint(t *testing.T) {
	tr, err := NewTransport(params, Config{Endpoint: "https://media.example.org/whep/"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "https://media.example.org/whep/video/weekly/160x12013-13173", tr.Endpoint())

	_, err = NewTransport(params, Config{}, nil)
	assert.Error(t, err)
}

func TestTransport_ConnectAndDisconnect(t *testing.T) {
	srv := &whepServer{t: t}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	defer srv.close()

	tr, err := NewTransport(params, Config{Endpoint: ts.URL + "/whep"}, nil)
	require.NoError(t, err)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))

	srv.mu.Lock()
	assert.Equal(t, []string{"/whep/video/weekly/160x12013-13173"}, srv.offers)
	srv.mu.Unlock()

	require.NoError(t, tr.Disconnect(context.Background()))
	require.NoError(t, tr.Disconnect(context.Background()))

	srv.mu.Lock()
	assert.Equal(t, []string{"/resource/1"}, srv.deletes)
	srv.mu.Unlock()

	assert.ErrorIs(t, tr.Connect(context.Background()), domain.ErrTransportClosed)
}

func TestTransport_OfferRejected(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "stream not found", http.StatusNotFound)
	}))
	defer ts.Close()

	tr, err := NewTransport(params, Config{Endpoint: ts.URL}, nil)
	require.NoError(t, err)

	err = tr.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "stream not found")
}

func TestTransport_ConnectCancelled(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer ts.Close()

	tr, err := NewTransport(params, Config{Endpoint: ts.URL}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, tr.Connect(ctx))
}

func TestIsKeyframe(t *testing.T) {
	tests := []struct {
		name    string
		mime    string
		payload []byte
		want    bool
	}{
		// VP8 descriptor with S=1, PID=0 then an intra frame header
		{"vp8 keyframe", webrtc.MimeTypeVP8, []byte{0x10, 0x00, 0x9d, 0x01}, true},
		{"vp8 interframe", webrtc.MimeTypeVP8, []byte{0x10, 0x01, 0x9d, 0x01}, false},
		{"vp8 continuation", webrtc.MimeTypeVP8, []byte{0x00, 0x00, 0x9d}, false},
		{"vp8 empty", webrtc.MimeTypeVP8, nil, false},
		{"h264 idr", webrtc.MimeTypeH264, []byte{0x65, 0x88}, true},
		{"h264 sps", webrtc.MimeTypeH264, []byte{0x67, 0x42}, true},
		{"h264 non-idr", webrtc.MimeTypeH264, []byte{0x41, 0x9a}, false},
		{"h264 stap-a with sps", webrtc.MimeTypeH264, []byte{0x78, 0x00, 0x0a, 0x67, 0x42}, true},
		{"h264 fu-a idr start", webrtc.MimeTypeH264, []byte{0x7c, 0x85}, true},
		{"h264 fu-a idr middle", webrtc.MimeTypeH264, []byte{0x7c, 0x05}, false},
		{"opus", webrtc.MimeTypeOpus, []byte{0xff, 0xff}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isKeyframe(tt.mime, tt.payload))
		})
	}
}
