package rtmp

import (
	"io"
	"sync/atomic"
	"time"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/optimize"

	flvtag "github.com/yutopp/go-flv/tag"
)

var drainBuffers = optimize.NewBytePool(4096)

// videoHandler turns RTMP video messages into packets.
type videoHandler struct {
	deliver atomic.Pointer[ports.PacketHandler]
}

func (h *videoHandler) set(handler ports.PacketHandler) {
	if handler == nil {
		h.deliver.Store(nil)
		return
	}
	h.deliver.Store(&handler)
}

func (h *videoHandler) OnVideo(timestamp uint32, payload io.Reader) error {
	r := &countingReader{r: payload}

	var video flvtag.VideoData
	keyframe := false
	if err := flvtag.DecodeVideoData(r, &video); err == nil {
		keyframe = video.FrameType == flvtag.FrameTypeKeyFrame
	}
	// the payload is never kept, only measured
	if err := drain(r); err != nil {
		return err
	}

	if deliver := h.deliver.Load(); deliver != nil {
		(*deliver)(domain.VideoPacket{
			Timestamp:  timestamp,
			Size:       r.n,
			Keyframe:   keyframe,
			ReceivedAt: time.Now(),
		})
	}
	return nil
}

func drain(r io.Reader) error {
	buf := drainBuffers.Get()
	defer drainBuffers.Put(buf)

	for {
		_, err := r.Read(*buf)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}
