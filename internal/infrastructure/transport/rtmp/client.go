package rtmp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"confvideo/internal/core/domain"

	gortmp "github.com/yutopp/go-rtmp"
	"github.com/yutopp/go-rtmp/handshake"
	rtmpmsg "github.com/yutopp/go-rtmp/message"
)

const (
	controlChunkStreamID = 2
	commandChunkStreamID = 3

	connectTransactionID      = 1
	createStreamTransactionID = 2

	writeTimeout = 5 * time.Second

	// The chunk streamer acks on its own once half of a 2 GiB window has
	// been read, through a writer only go-rtmp connections install. A play
	// connection is recycled well before that point.
	recycleAfter = 1 << 29
)

// errRecycle ends a play connection that must be replaced by a fresh one.
var errRecycle = errors.New("rtmp: connection byte budget reached")

// amfArgs is a command body sent as a plain AMF0 argument list.
type amfArgs []interface{}

func (a amfArgs) FromArgs(...interface{}) error {
	return errors.New("rtmp: amfArgs is encode only")
}

func (a amfArgs) ToArgs(rtmpmsg.EncodingType) ([]interface{}, error) {
	return a, nil
}

// playClient is one RTMP connection playing one stream. go-rtmp's ClientConn
// only publishes, so the play flow runs on its chunk streamer directly.
type playClient struct {
	conn     net.Conn
	streamer *gortmp.ChunkStreamer
	received *countingReader
	handler  *videoHandler

	streamID  uint32
	ackWindow uint32
	acked     uint32

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
	err       error
}

// dialPlay connects, handshakes and plays t, returning once the server has
// accepted the play request. Cancelling ctx aborts every step.
func dialPlay(ctx context.Context, t target, handler *videoHandler) (playConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.address)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	c, err := openPlay(conn, t, handler)
	if !stop() || err != nil {
		if c != nil {
			_ = c.streamer.Close()
		}
		_ = conn.Close()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	go c.readLoop()
	return c, nil
}

func openPlay(conn net.Conn, t target, handler *videoHandler) (*playClient, error) {
	if err := handshake.HandshakeWithServer(conn, conn, &handshake.Config{}); err != nil {
		return nil, fmt.Errorf("handshake: %w", err)
	}

	received := &countingReader{r: conn}
	c := &playClient{
		conn:     conn,
		streamer: gortmp.NewChunkStreamer(bufio.NewReader(received), conn, nil),
		received: received,
		handler:  handler,
		done:     make(chan struct{}),
	}

	if err := c.connect(t); err != nil {
		_ = c.streamer.Close()
		return nil, err
	}
	return c, nil
}

func (c *playClient) connect(t target) error {
	if t.chunkSize > 0 && t.chunkSize != gortmp.DefaultChunkSize {
		if err := c.streamer.SelfState().SetChunkSize(t.chunkSize); err != nil {
			return fmt.Errorf("chunk size: %w", err)
		}
		if err := c.write(controlChunkStreamID, 0, &rtmpmsg.SetChunkSize{ChunkSize: t.chunkSize}); err != nil {
			return fmt.Errorf("chunk size: %w", err)
		}
	}

	err := c.command(0, "connect", connectTransactionID, &rtmpmsg.NetConnectionConnect{
		Command: rtmpmsg.NetConnectionConnectCommand{
			App:      t.app,
			Type:     "nonprivate",
			FlashVer: flashVer,
			TCURL:    t.tcURL,
		},
	})
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.awaitConnect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	err = c.command(0, "createStream", createStreamTransactionID, &rtmpmsg.NetConnectionCreateStream{})
	if err != nil {
		return fmt.Errorf("create stream: %w", err)
	}
	if err := c.awaitCreateStream(); err != nil {
		return fmt.Errorf("create stream: %w", err)
	}

	// NetStreamPlay only decodes, so the arguments go out as a list
	err = c.command(c.streamID, "play", 0, amfArgs{nil, t.streamName, float64(playStartAny)})
	if err != nil {
		return fmt.Errorf("play: %w", err)
	}
	if err := c.awaitPlay(); err != nil {
		return fmt.Errorf("play %s: %w", t.streamName, err)
	}
	return nil
}

func (c *playClient) awaitConnect() error {
	cmd, err := c.awaitResult(connectTransactionID)
	if err != nil {
		return err
	}

	var value rtmpmsg.AMFConvertible
	dec := rtmpmsg.NewAMFDecoder(cmd.Body, cmd.Encoding)
	if err := rtmpmsg.DecodeBodyConnectResult(cmd.Body, dec, &value); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	result := value.(*rtmpmsg.NetConnectionConnectResult)
	if cmd.CommandName == "_error" {
		return fmt.Errorf("rejected: %s", result.Information.Code)
	}
	return nil
}

func (c *playClient) awaitCreateStream() error {
	cmd, err := c.awaitResult(createStreamTransactionID)
	if err != nil {
		return err
	}
	if cmd.CommandName == "_error" {
		return errors.New("rejected")
	}

	var value rtmpmsg.AMFConvertible
	dec := rtmpmsg.NewAMFDecoder(cmd.Body, cmd.Encoding)
	if err := rtmpmsg.DecodeBodyCreateStreamResult(cmd.Body, dec, &value); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	c.streamID = value.(*rtmpmsg.NetConnectionCreateStreamResult).StreamID
	return nil
}

func (c *playClient) awaitResult(transactionID int64) (*rtmpmsg.CommandMessage, error) {
	for {
		cmd, err := c.next()
		if err != nil {
			return nil, err
		}
		if cmd == nil || cmd.TransactionID != transactionID {
			continue
		}
		if cmd.CommandName == "_result" || cmd.CommandName == "_error" {
			return cmd, nil
		}
	}
}

// awaitPlay waits for the play status. Video the server sends ahead of it is
// delivered as usual.
func (c *playClient) awaitPlay() error {
	for {
		cmd, err := c.next()
		if err != nil {
			return err
		}
		if cmd == nil || cmd.CommandName != "onStatus" {
			continue
		}

		level, code := decodeStatus(cmd)
		switch {
		case code == string(rtmpmsg.NetStreamOnStatusCodePlayStart):
			return nil
		case level == string(rtmpmsg.NetStreamOnStatusLevelError):
			return fmt.Errorf("%w: %s", domain.ErrNoActiveStream, code)
		}
	}
}

func decodeStatus(cmd *rtmpmsg.CommandMessage) (level, code string) {
	dec := rtmpmsg.NewAMFDecoder(cmd.Body, cmd.Encoding)

	var commandObject, info interface{}
	if err := dec.Decode(&commandObject); err != nil {
		return "", ""
	}
	if err := dec.Decode(&info); err != nil {
		return "", ""
	}
	fields, _ := info.(map[string]interface{})
	level, _ = fields["level"].(string)
	code, _ = fields["code"].(string)
	return level, code
}

// next reads one message, handles protocol control and video, and returns
// any command for the caller.
func (c *playClient) next() (*rtmpmsg.CommandMessage, error) {
	var cmsg gortmp.ChunkMessage
	_, timestamp, err := c.streamer.Read(&cmsg)
	if err != nil {
		return nil, err
	}

	var cmd *rtmpmsg.CommandMessage
	switch msg := cmsg.Message.(type) {
	case *rtmpmsg.VideoMessage:
		if err := c.handler.OnVideo(timestamp, msg.Payload); err != nil {
			return nil, err
		}
	case *rtmpmsg.CommandMessage:
		cmd = msg
	case *rtmpmsg.SetChunkSize:
		if err := c.streamer.PeerState().SetChunkSize(msg.ChunkSize); err != nil {
			return nil, err
		}
	case *rtmpmsg.WinAckSize:
		if msg.Size > 0 {
			c.ackWindow = uint32(msg.Size)
		}
	}

	if err := c.ack(); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ack acknowledges received bytes once the peer's window is used up.
func (c *playClient) ack() error {
	received := uint32(c.received.n)
	if c.ackWindow == 0 || received-c.acked < c.ackWindow {
		return nil
	}
	c.acked = received
	return c.write(controlChunkStreamID, 0, &rtmpmsg.Ack{SequenceNumber: received})
}

func (c *playClient) readLoop() {
	var err error
	for err == nil {
		if c.received.n >= recycleAfter {
			err = errRecycle
			break
		}
		_, err = c.next()
	}

	c.err = err
	close(c.done)
}

func (c *playClient) command(streamID uint32, name string, transactionID int64, body rtmpmsg.AMFConvertible) error {
	buf := new(bytes.Buffer)
	enc := rtmpmsg.NewAMFEncoder(buf, rtmpmsg.EncodingTypeAMF0)
	if err := rtmpmsg.EncodeBodyAnyValues(enc, body); err != nil {
		return err
	}

	return c.write(commandChunkStreamID, streamID, &rtmpmsg.CommandMessage{
		CommandName:   name,
		TransactionID: transactionID,
		Encoding:      rtmpmsg.EncodingTypeAMF0,
		Body:          buf,
	})
}

// write serializes writers; the chunk streamer's encoder is shared.
func (c *playClient) write(chunkStreamID int, streamID uint32, msg rtmpmsg.Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.streamer.Write(ctx, chunkStreamID, 0, &gortmp.ChunkMessage{
		StreamID: streamID,
		Message:  msg,
	})
}

// Done is closed when the read loop ends; Err then reports why.
func (c *playClient) Done() <-chan struct{} { return c.done }

func (c *playClient) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *playClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.streamer.Close()
		err = c.conn.Close()
	})
	return err
}
