package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the hub's operational counters.
type Metrics struct {
	ConnectionsOpen   prometheus.Gauge
	CanvasesLoaded    prometheus.Gauge
	EventsAppended    prometheus.Counter
	EventsDenied      prometheus.Counter
	BroadcastsSent    prometheus.Counter
	BroadcastsDropped prometheus.Counter
}

// NewMetrics registers the realtime metric set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ConnectionsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "easel_ws_connections_open",
			Help: "Currently open websocket connections",
		}),
		CanvasesLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Name: "easel_canvases_loaded",
			Help: "Canvas states currently resident in memory",
		}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Name: "easel_events_appended_total",
			Help: "Drawing events appended to canvas logs",
		}),
		EventsDenied: factory.NewCounter(prometheus.CounterOpts{
			Name: "easel_events_denied_total",
			Help: "Drawing events rejected by the permission gate",
		}),
		BroadcastsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "easel_broadcasts_sent_total",
			Help: "Messages delivered to subscriber queues",
		}),
		BroadcastsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "easel_broadcasts_dropped_total",
			Help: "Messages dropped due to backpressure or dead connections",
		}),
	}
}
