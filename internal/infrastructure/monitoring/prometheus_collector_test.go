package monitoring

import (
	"testing"

	"confvideo/internal/core/domain"
	"confvideo/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusCollector_SessionStates(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.SessionStateChanged(domain.StateUnconnected, domain.StateConnecting)
	p.SessionStateChanged(domain.StateConnecting, domain.StateConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionsConnected))

	p.SessionStateChanged(domain.StateConnected, domain.StateDisconnected)
	assert.Equal(t, 0.0, testutil.ToFloat64(p.sessionsConnected))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.sessionTransitions.WithLabelValues("connected", "disconnected")))
}

func TestPrometheusCollector_Packets(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.PacketReceived(13, domain.VideoPacket{Timestamp: 40, Size: 1000, Keyframe: true})
	p.PacketReceived(13, domain.VideoPacket{Timestamp: 80, Size: 200})
	p.ConnectFailed(13)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.packetsReceived.WithLabelValues("13")))
	assert.Equal(t, 1200.0, testutil.ToFloat64(p.bytesReceived.WithLabelValues("13")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.keyframesReceived.WithLabelValues("13")))
	assert.Equal(t, 80.0, testutil.ToFloat64(p.lastPacketTimestamp.WithLabelValues("13")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.connectFailures.WithLabelValues("13")))
}

func TestPrometheusCollector_BreakerState(t *testing.T) {
	p := NewPrometheusCollector(prometheus.NewRegistry())

	p.BreakerStateChanged("media.local", circuitbreaker.StateOpen)
	assert.Equal(t, 1.0, testutil.ToFloat64(p.breakerState.WithLabelValues("media.local")))
}
