// Package whep pulls a conference video stream over WebRTC using WHEP
// signaling.
package whep

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/tracing"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const sdpContentType = "application/sdp"

type Config struct {
	// Endpoint is the WHEP root; the stream resource is
	// <Endpoint>/<application>/<stream>.
	Endpoint   string
	ICEServers []string
	HTTPClient *http.Client
}

type Transport struct {
	endpoint string
	config   webrtc.Configuration
	client   *http.Client
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	pc       *webrtc.PeerConnection
	resource string
	closed   bool

	deliver atomic.Pointer[ports.PacketHandler]
}

func NewTransport(params domain.ConnectionParams, cfg Config, logger *zap.SugaredLogger) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("whep endpoint not configured")
	}
	endpoint, err := url.JoinPath(cfg.Endpoint, params.Application, string(params.StreamName))
	if err != nil {
		return nil, fmt.Errorf("invalid whep endpoint: %w", err)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	var iceServers []webrtc.ICEServer
	if len(cfg.ICEServers) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.ICEServers}}
	}

	return &Transport{
		endpoint: endpoint,
		config:   webrtc.Configuration{ICEServers: iceServers},
		client:   client,
		logger:   logger,
	}, nil
}

func (t *Transport) Endpoint() string { return t.endpoint }

func (t *Transport) OnPacket(handler ports.PacketHandler) {
	if handler == nil {
		t.deliver.Store(nil)
		return
	}
	t.deliver.Store(&handler)
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return domain.ErrTransportClosed
	}
	if t.pc != nil {
		return nil
	}

	ctx, span := tracing.TraceTransport(ctx, "connect", "whep", t.endpoint)
	defer span.End()

	pc, resource, err := t.negotiate(ctx)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("whep %s: %w", t.endpoint, err)
	}
	t.pc = pc
	t.resource = resource

	t.logger.Debugw("whep session established",
		"endpoint", t.endpoint,
		"resource", resource,
	)
	return nil
}

func (t *Transport) negotiate(ctx context.Context) (*webrtc.PeerConnection, string, error) {
	pc, err := webrtc.NewPeerConnection(t.config)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create peer connection: %w", err)
	}

	ok := false
	defer func() {
		if !ok {
			_ = pc.Close()
		}
	}()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		return nil, "", fmt.Errorf("failed to add video transceiver: %w", err)
	}

	pc.OnTrack(t.handleTrack(pc))
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Infow("whep connection state changed",
			"endpoint", t.endpoint,
			"connection_state", state,
		)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return nil, "", err
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return nil, "", err
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return nil, "", ctx.Err()
	}

	answer, resource, err := t.postOffer(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return nil, "", err
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return nil, "", fmt.Errorf("invalid answer: %w", err)
	}

	ok = true
	return pc, resource, nil
}

func (t *Transport) postOffer(ctx context.Context, offer string) (answer, resource string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(offer))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", sdpContentType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", "", err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("offer rejected: %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	resource = t.endpoint
	if loc, err := resp.Location(); err == nil {
		resource = loc.String()
	}
	return string(body), resource, nil
}

func (t *Transport) handleTrack(pc *webrtc.PeerConnection) func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
	return func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if track.Kind() != webrtc.RTPCodecTypeVideo {
			return
		}

		mimeType := track.Codec().MimeType
		t.logger.Infow("whep video track started",
			"endpoint", t.endpoint,
			"track_id", track.ID(),
			"codec", mimeType,
		)

		// ask for a keyframe so decoding can start right away
		if err := pc.WriteRTCP([]rtcp.Packet{
			&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())},
		}); err != nil {
			t.logger.Warnw("failed to send PLI", "endpoint", t.endpoint, "error", err)
		}

		go drainRTCP(receiver)

		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				t.logger.Debugw("whep track ended", "endpoint", t.endpoint, "error", err)
				return
			}

			if deliver := t.deliver.Load(); deliver != nil {
				(*deliver)(domain.VideoPacket{
					Timestamp:  pkt.Timestamp,
					Size:       len(pkt.Payload),
					Keyframe:   isKeyframe(mimeType, pkt.Payload),
					ReceivedAt: time.Now(),
				})
			}
		}
	}
}

// drainRTCP keeps interceptors running until the receiver closes.
func drainRTCP(receiver *webrtc.RTPReceiver) {
	for {
		if _, _, err := receiver.ReadRTCP(); err != nil {
			return
		}
	}
}

// Disconnect tears the session down on the server, best effort, and closes
// the peer connection.
func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.deliver.Store(nil)

	if t.pc == nil {
		return nil
	}

	ctx, span := tracing.TraceTransport(ctx, "disconnect", "whep", t.endpoint)
	defer span.End()

	if err := t.deleteResource(ctx); err != nil {
		t.logger.Warnw("failed to delete whep resource",
			"resource", t.resource,
			"error", err,
		)
	}

	pc := t.pc
	t.pc = nil
	if err := pc.Close(); err != nil {
		return fmt.Errorf("whep close %s: %w", t.endpoint, err)
	}
	return nil
}

func (t *Transport) deleteResource(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.resource, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

var _ ports.MediaTransport = (*Transport)(nil)
