// Package rtmp plays a conference video stream from an RTMP media server.
package rtmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/tracing"

	gortmp "github.com/yutopp/go-rtmp"
	"go.uber.org/zap"
)

const (
	DefaultPort      = 1935
	DefaultChunkSize = gortmp.DefaultChunkSize

	flashVer       = "LNX 9,0,124,2"
	recycleTimeout = 10 * time.Second
	// play live if available, otherwise recorded
	playStartAny = -2
)

type Config struct {
	Port      int
	ChunkSize uint32
}

// target is everything needed to open one play session.
type target struct {
	address    string
	app        string
	tcURL      string
	streamName string
	chunkSize  uint32
}

// playConn is an open connection playing one stream. Done is closed when
// the connection stops reading; Err then tells why.
type playConn interface {
	Close() error
	Done() <-chan struct{}
	Err() error
}

type dialFunc func(ctx context.Context, t target, handler *videoHandler) (playConn, error)

// Transport receives the video messages of one stream. Connect may be
// retried after a failure; after Disconnect the transport is spent.
type Transport struct {
	target target
	dial   dialFunc
	logger *zap.SugaredLogger

	mu      sync.Mutex
	conn    playConn
	closed  bool
	handler *videoHandler
}

func NewTransport(params domain.ConnectionParams, cfg Config, logger *zap.SugaredLogger) *Transport {
	return newTransport(params, cfg, dialPlay, logger)
}

func newTransport(params domain.ConnectionParams, cfg Config, dial dialFunc, logger *zap.SugaredLogger) *Transport {
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	address := net.JoinHostPort(hostOnly(params.ServerAddress), strconv.Itoa(cfg.Port))
	return &Transport{
		target: target{
			address:    address,
			app:        params.Application,
			tcURL:      fmt.Sprintf("rtmp://%s/%s", address, params.Application),
			streamName: string(params.StreamName),
			chunkSize:  cfg.ChunkSize,
		},
		dial:    dial,
		logger:  logger,
		handler: &videoHandler{},
	}
}

// hostOnly drops a port carried over from the join-service URL; media is
// always reached on the RTMP port.
func hostOnly(address string) string {
	if host, _, err := net.SplitHostPort(address); err == nil {
		return host
	}
	return address
}

func (t *Transport) OnPacket(handler ports.PacketHandler) {
	t.handler.set(handler)
}

func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return domain.ErrTransportClosed
	}
	if t.conn != nil {
		return nil
	}

	ctx, span := tracing.TraceTransport(ctx, "connect", "rtmp", t.target.address)
	defer span.End()

	conn, err := t.dial(ctx, t.target, t.handler)
	if err != nil {
		tracing.RecordError(ctx, err)
		return fmt.Errorf("rtmp play %s: %w", t.target.tcURL, err)
	}
	t.conn = conn
	go t.watch(conn)

	t.logger.Debugw("rtmp stream playing",
		"tc_url", t.target.tcURL,
		"stream", t.target.streamName,
	)
	return nil
}

func (t *Transport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	t.handler.set(nil)

	if t.conn == nil {
		return nil
	}

	_, span := tracing.TraceTransport(ctx, "disconnect", "rtmp", t.target.address)
	defer span.End()

	conn := t.conn
	t.conn = nil
	if err := conn.Close(); err != nil {
		return fmt.Errorf("rtmp close %s: %w", t.target.tcURL, err)
	}
	return nil
}

// watch replaces a connection that used up its byte budget. Any other end
// of the stream is logged and left to the session owner.
func (t *Transport) watch(conn playConn) {
	<-conn.Done()
	err := conn.Err()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed || t.conn != conn {
		return
	}
	_ = conn.Close()
	t.conn = nil

	if !errors.Is(err, errRecycle) {
		t.logger.Warnw("rtmp stream ended",
			"tc_url", t.target.tcURL,
			"stream", t.target.streamName,
			"error", err,
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), recycleTimeout)
	defer cancel()

	next, err := t.dial(ctx, t.target, t.handler)
	if err != nil {
		t.logger.Warnw("failed to renew rtmp connection",
			"tc_url", t.target.tcURL,
			"stream", t.target.streamName,
			"error", err,
		)
		return
	}
	t.conn = next
	go t.watch(next)
	t.logger.Debugw("rtmp connection renewed", "tc_url", t.target.tcURL)
}

var _ ports.MediaTransport = (*Transport)(nil)
