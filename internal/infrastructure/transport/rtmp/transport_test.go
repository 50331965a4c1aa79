package rtmp

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"confvideo/internal/core/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gortmp "github.com/yutopp/go-rtmp"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

type fakeConn struct {
	mu     sync.Mutex
	closes int
	done   chan struct{}
	err    error
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// end stops the connection the way a failed read loop does.
func (c *fakeConn) end(err error) {
	c.err = err
	close(c.done)
}

func (c *fakeConn) Done() <-chan struct{} { return c.done }
func (c *fakeConn) Err() error            { return c.err }

type fakeDialer struct {
	mu       sync.Mutex
	targets  []target
	handlers []*videoHandler
	conns    []*fakeConn
	err      error
}

func (d *fakeDialer) dial(_ context.Context, t target, h *videoHandler) (playConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.targets = append(d.targets, t)
	d.handlers = append(d.handlers, h)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.targets)
}

func (d *fakeDialer) conn(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

var params = domain.ConnectionParams{
	ServerAddress: "conf.example.org:8443",
	Application:   "video/weekly",
	StreamName:    "160x12013-13173",
}

func TestTransport_ConnectTarget(t *testing.T) {
	d := &fakeDialer{}
	tr := newTransport(params, Config{}, d.dial, nil)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Connect(context.Background()))

	require.Len(t, d.targets, 1)
	assert.Equal(t, target{
		address:    "conf.example.org:1935",
		app:        "video/weekly",
		tcURL:      "rtmp://conf.example.org:1935/video/weekly",
		streamName: "160x12013-13173",
		chunkSize:  DefaultChunkSize,
	}, d.targets[0])
}

func TestTransport_ConfiguredPort(t *testing.T) {
	d := &fakeDialer{}
	p := params
	p.ServerAddress = "media.local"
	tr := newTransport(p, Config{Port: 19350, ChunkSize: 4096}, d.dial, nil)

	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, "media.local:19350", d.targets[0].address)
	assert.Equal(t, uint32(4096), d.targets[0].chunkSize)
}

func TestTransport_ConnectFailureCanBeRetried(t *testing.T) {
	cause := errors.New("connection refused")
	d := &fakeDialer{err: cause}
	tr := newTransport(params, Config{}, d.dial, nil)

	err := tr.Connect(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "rtmp://conf.example.org:1935/video/weekly")

	d.err = nil
	require.NoError(t, tr.Connect(context.Background()))
	assert.Len(t, d.targets, 2)
}

func TestTransport_DisconnectIsFinal(t *testing.T) {
	d := &fakeDialer{}
	tr := newTransport(params, Config{}, d.dial, nil)

	require.NoError(t, tr.Connect(context.Background()))
	require.NoError(t, tr.Disconnect(context.Background()))
	require.NoError(t, tr.Disconnect(context.Background()))
	assert.Equal(t, 1, d.conn(0).closeCount())

	assert.ErrorIs(t, tr.Connect(context.Background()), domain.ErrTransportClosed)
	assert.Len(t, d.targets, 1)
}

func TestTransport_DisconnectBeforeConnect(t *testing.T) {
	d := &fakeDialer{}
	tr := newTransport(params, Config{}, d.dial, nil)

	require.NoError(t, tr.Disconnect(context.Background()))
	assert.Empty(t, d.targets)
}

func TestTransport_DeliversVideo(t *testing.T) {
	d := &fakeDialer{}
	tr := newTransport(params, Config{}, d.dial, nil)

	var got []domain.VideoPacket
	tr.OnPacket(func(pkt domain.VideoPacket) { got = append(got, pkt) })
	require.NoError(t, tr.Connect(context.Background()))

	h := d.handlers[0]
	// AVC keyframe NALU: header, packet type, composition time, data
	key := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
	inter := []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xdd}
	require.NoError(t, h.OnVideo(40, bytes.NewReader(key)))
	require.NoError(t, h.OnVideo(80, bytes.NewReader(inter)))

	require.Len(t, got, 2)
	assert.Equal(t, uint32(40), got[0].Timestamp)
	assert.Equal(t, len(key), got[0].Size)
	assert.True(t, got[0].Keyframe)
	assert.False(t, got[0].ReceivedAt.IsZero())
	assert.Equal(t, uint32(80), got[1].Timestamp)
	assert.Equal(t, len(inter), got[1].Size)
	assert.False(t, got[1].Keyframe)

	require.NoError(t, tr.Disconnect(context.Background()))
	require.NoError(t, h.OnVideo(120, bytes.NewReader(inter)))
	assert.Len(t, got, 2)
}

func TestVideoHandler_MalformedPayload(t *testing.T) {
	h := &videoHandler{}
	var got []domain.VideoPacket
	h.set(func(pkt domain.VideoPacket) { got = append(got, pkt) })

	require.NoError(t, h.OnVideo(7, bytes.NewReader(nil)))
	require.Len(t, got, 1)
	assert.Zero(t, got[0].Size)
	assert.False(t, got[0].Keyframe)
}

func TestTransport_RenewsSpentConnection(t *testing.T) {
	d := &fakeDialer{}
	tr := newTransport(params, Config{}, d.dial, nil)
	require.NoError(t, tr.Connect(context.Background()))

	d.conn(0).end(errRecycle)
	require.Eventually(t, func() bool { return d.dials() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.conn(0).closeCount())
	assert.Same(t, d.handlers[0], d.handlers[1])

	require.NoError(t, tr.Disconnect(context.Background()))
	assert.Equal(t, 1, d.conn(1).closeCount())
}

func TestTransport_DroppedConnectionIsNotRenewed(t *testing.T) {
	d := &fakeDialer{}
	tr := newTransport(params, Config{}, d.dial, nil)
	require.NoError(t, tr.Connect(context.Background()))

	d.conn(0).end(io.EOF)
	require.Eventually(t, func() bool { return d.conn(0).closeCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, d.dials())

	// the next Connect opens a fresh connection
	require.NoError(t, tr.Connect(context.Background()))
	assert.Equal(t, 2, d.dials())
}

func TestDialPlay_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := dialPlay(ctx, target{address: "192.0.2.1:1935"}, &videoHandler{})
	assert.Error(t, err)
}

// playServer is a go-rtmp server that answers one play request with a fixed
// run of video frames.
type playServer struct {
	gortmp.DefaultHandler

	frames [][]byte
	reject bool
	played chan string

	mu   sync.Mutex
	conn *gortmp.Conn
}

func (h *playServer) OnServe(conn *gortmp.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conn = conn
}

func (h *playServer) OnPlay(ctx *gortmp.StreamContext, _ uint32, cmd *rtmpmsg.NetStreamPlay) error {
	h.played <- cmd.StreamName
	if h.reject {
		return errors.New("stream not found")
	}

	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()

	for i, frame := range h.frames {
		err := conn.Write(context.Background(), 6, uint32(i*40), &gortmp.ChunkMessage{
			StreamID: ctx.StreamID,
			Message:  &rtmpmsg.VideoMessage{Payload: bytes.NewReader(frame)},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func startPlayServer(t *testing.T, h *playServer) (string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := gortmp.NewServer(&gortmp.ServerConfig{
		OnConnect: func(conn net.Conn) (io.ReadWriteCloser, *gortmp.ConnConfig) {
			return conn, &gortmp.ConnConfig{
				Handler: h,
				ControlState: gortmp.StreamControlStateConfig{
					DefaultBandwidthWindowSize: 6 * 1024 * 1024,
				},
			}
		},
	})
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestTransport_PlaysFromServer(t *testing.T) {
	key := []byte{0x17, 0x01, 0x00, 0x00, 0x00, 0xaa, 0xbb, 0xcc}
	inter := []byte{0x27, 0x01, 0x00, 0x00, 0x00, 0xdd}
	srv := &playServer{frames: [][]byte{key, inter}, played: make(chan string, 1)}
	host, port := startPlayServer(t, srv)

	tr := NewTransport(domain.ConnectionParams{
		ServerAddress: host,
		Application:   "video/weekly",
		StreamName:    "160x12013-13173",
	}, Config{Port: port}, nil)

	packets := make(chan domain.VideoPacket, 4)
	tr.OnPacket(func(pkt domain.VideoPacket) { packets <- pkt })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Connect(ctx))
	assert.Equal(t, "160x12013-13173", <-srv.played)

	var got []domain.VideoPacket
	for len(got) < 2 {
		select {
		case pkt := <-packets:
			got = append(got, pkt)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %d of 2 video packets", len(got))
		}
	}
	assert.Equal(t, uint32(0), got[0].Timestamp)
	assert.Equal(t, len(key), got[0].Size)
	assert.True(t, got[0].Keyframe)
	assert.Equal(t, uint32(40), got[1].Timestamp)
	assert.Equal(t, len(inter), got[1].Size)
	assert.False(t, got[1].Keyframe)

	require.NoError(t, tr.Disconnect(context.Background()))
}

func TestTransport_PlayRejected(t *testing.T) {
	srv := &playServer{reject: true, played: make(chan string, 1)}
	host, port := startPlayServer(t, srv)

	tr := NewTransport(domain.ConnectionParams{
		ServerAddress: host,
		Application:   "video/weekly",
		StreamName:    "320x2407-99",
	}, Config{Port: port, ChunkSize: 4096}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := tr.Connect(ctx)
	assert.ErrorIs(t, err, domain.ErrNoActiveStream)
	assert.Equal(t, "320x2407-99", <-srv.played)
}
