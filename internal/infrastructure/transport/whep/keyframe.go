package whep

import (
	"strings"

	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v3"
)

// isKeyframe inspects the first bytes of an RTP payload. Unknown codecs
// never report keyframes.
func isKeyframe(mimeType string, payload []byte) bool {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeVP8):
		return isVP8Keyframe(payload)
	case strings.EqualFold(mimeType, webrtc.MimeTypeH264):
		return isH264Keyframe(payload)
	default:
		return false
	}
}

func isVP8Keyframe(payload []byte) bool {
	var vp8 codecs.VP8Packet
	frame, err := vp8.Unmarshal(payload)
	if err != nil || len(frame) == 0 {
		return false
	}
	// start of partition 0 with the P bit clear
	return vp8.S == 1 && vp8.PID == 0 && frame[0]&0x01 == 0
}

const (
	naluIDR   = 5
	naluSPS   = 7
	naluSTAPA = 24
	naluFUA   = 28
)

func isH264Keyframe(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	switch payload[0] & 0x1F {
	case naluIDR, naluSPS:
		return true
	case naluSTAPA:
		// first aggregated unit follows a 2-byte size
		return len(payload) > 3 && isH264Keyframe(payload[3:])
	case naluFUA:
		start := payload[1]&0x80 != 0
		return start && payload[1]&0x1F == naluIDR
	default:
		return false
	}
}
