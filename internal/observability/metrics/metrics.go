package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"service", "method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "method", "path"},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connections_active",
			Help: "Currently open websocket connections.",
		},
		[]string{"service"},
	)

	FramesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_frames_processed_total",
			Help: "Inbound websocket frames by type and outcome.",
		},
		[]string{"service", "type", "result"},
	)

	MessagesRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_relayed_total",
			Help: "Persisted messages by live-delivery outcome.",
		},
		[]string{"service", "delivery"},
	)

	ReceiptsForwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_forwarded_total",
			Help: "Receipt frames forwarded to senders.",
		},
		[]string{"service", "kind"},
	)

	CallSignalsRelayedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "call_signals_relayed_total",
			Help: "WebRTC signaling frames relayed between peers.",
		},
		[]string{"service", "type"},
	)
)

func MustRegister(serviceName string) {
	HTTPRequestsTotal = HTTPRequestsTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	HTTPRequestDurationSeconds = HTTPRequestDurationSeconds.MustCurryWith(prometheus.Labels{"service": serviceName}).(*prometheus.HistogramVec)
	ConnectionsActive = ConnectionsActive.MustCurryWith(prometheus.Labels{"service": serviceName})
	FramesProcessedTotal = FramesProcessedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	MessagesRelayedTotal = MessagesRelayedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	ReceiptsForwardedTotal = ReceiptsForwardedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})
	CallSignalsRelayedTotal = CallSignalsRelayedTotal.MustCurryWith(prometheus.Labels{"service": serviceName})

	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDurationSeconds,
		ConnectionsActive,
		FramesProcessedTotal,
		MessagesRelayedTotal,
		ReceiptsForwardedTotal,
		CallSignalsRelayedTotal,
	)
}
