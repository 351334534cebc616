package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshcall",
		Subsystem: "relay",
		Name:      "connections",
		Help:      "Open signaling websocket connections.",
	})
	activeRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "meshcall",
		Subsystem: "relay",
		Name:      "rooms",
		Help:      "Signaling topics with at least one connection.",
	})
	relayedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meshcall",
		Subsystem: "relay",
		Name:      "frames_total",
		Help:      "Frames received from clients and fanned out to their room.",
	})
	droppedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "meshcall",
		Subsystem: "relay",
		Name:      "dropped_frames_total",
		Help:      "Frames dropped because a client's send buffer was full.",
	})
)

// Metrics serves the prometheus registry.
func Metrics() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
