package monitoring

import (
	"strconv"

	"confvideo/internal/core/domain"
	"confvideo/internal/core/ports"
	"confvideo/pkg/circuitbreaker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusCollector exports video session metrics. Packet series are
// labelled by participant.
type PrometheusCollector struct {
	sessionsConnected  prometheus.Gauge
	sessionTransitions *prometheus.CounterVec
	connectFailures    *prometheus.CounterVec

	packetsReceived     *prometheus.CounterVec
	bytesReceived       *prometheus.CounterVec
	keyframesReceived   *prometheus.CounterVec
	lastPacketTimestamp *prometheus.GaugeVec
	packetSize          prometheus.Histogram

	breakerState *prometheus.GaugeVec
}

// NewPrometheusCollector registers the collector's metrics with reg, or with
// the default registry when reg is nil.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "confvideo_sessions_connected",
			Help: "Number of video sessions currently connected to a media server",
		}),

		sessionTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confvideo_session_transitions_total",
			Help: "Video session state transitions",
		}, []string{"from", "to"}),

		connectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confvideo_connect_failures_total",
			Help: "Failed attempts to open a participant's video stream",
		}, []string{"participant_id"}),

		packetsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confvideo_video_packets_total",
			Help: "Video packets received",
		}, []string{"participant_id"}),

		bytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confvideo_video_bytes_total",
			Help: "Video payload bytes received",
		}, []string{"participant_id"}),

		keyframesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "confvideo_video_keyframes_total",
			Help: "Video packets carrying a keyframe",
		}, []string{"participant_id"}),

		lastPacketTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confvideo_video_last_packet_timestamp",
			Help: "Media timestamp of the latest video packet",
		}, []string{"participant_id"}),

		packetSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "confvideo_video_packet_size_bytes",
			Help:    "Size of received video packets",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),

		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "confvideo_media_server_breaker_state",
			Help: "Circuit breaker state per media server (0 closed, 1 open, 2 half-open)",
		}, []string{"server"}),
	}
}

func (p *PrometheusCollector) SessionStateChanged(from, to domain.ConnectionState) {
	p.sessionTransitions.WithLabelValues(from.String(), to.String()).Inc()

	if to == domain.StateConnected {
		p.sessionsConnected.Inc()
	}
	if from == domain.StateConnected {
		p.sessionsConnected.Dec()
	}
}

func (p *PrometheusCollector) PacketReceived(participantID domain.ParticipantID, pkt domain.VideoPacket) {
	id := strconv.Itoa(int(participantID))

	p.packetsReceived.WithLabelValues(id).Inc()
	p.bytesReceived.WithLabelValues(id).Add(float64(pkt.Size))
	if pkt.Keyframe {
		p.keyframesReceived.WithLabelValues(id).Inc()
	}
	p.lastPacketTimestamp.WithLabelValues(id).Set(float64(pkt.Timestamp))
	p.packetSize.Observe(float64(pkt.Size))
}

func (p *PrometheusCollector) ConnectFailed(participantID domain.ParticipantID) {
	p.connectFailures.WithLabelValues(strconv.Itoa(int(participantID))).Inc()
}

func (p *PrometheusCollector) BreakerStateChanged(server string, state circuitbreaker.State) {
	p.breakerState.WithLabelValues(server).Set(float64(state))
}

var _ ports.SessionMetrics = (*PrometheusCollector)(nil)
