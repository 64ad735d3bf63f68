package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics records transport activity. A nil registerer yields unregistered
// collectors.
type Metrics struct {
	framesSent        prometheus.Counter
	framesQueued      prometheus.Counter
	framesRequeued    prometheus.Counter
	framesReceived    prometheus.Counter
	pendingDepth      prometheus.Gauge
	reconnectAttempts prometheus.Counter
	exhausted         prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		framesSent: f.NewCounter(prometheus.CounterOpts{
			Name: "session_transport_frames_sent_total",
			Help: "Frames written to the socket, including drained ones",
		}),
		framesQueued: f.NewCounter(prometheus.CounterOpts{
			Name: "session_transport_frames_queued_total",
			Help: "Frames queued because the socket was not connected",
		}),
		framesRequeued: f.NewCounter(prometheus.CounterOpts{
			Name: "session_transport_frames_requeued_total",
			Help: "Frames put back at the queue head after a write failure",
		}),
		framesReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "session_transport_frames_received_total",
			Help: "Frames read from the socket",
		}),
		pendingDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "session_transport_pending_frames",
			Help: "Frames waiting for a connection",
		}),
		reconnectAttempts: f.NewCounter(prometheus.CounterOpts{
			Name: "session_transport_reconnect_attempts_total",
			Help: "Reconnect attempts scheduled",
		}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Name: "session_transport_exhausted_total",
			Help: "Times the reconnect budget ran out",
		}),
	}
}
