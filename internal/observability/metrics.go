package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

const metricsNamespace = "collab"

var (
	httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status.",
	}, []string{"method", "route", "status"})

	httpLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})

	grpcHandled = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "grpc_server_handled_total",
		Help: "gRPC requests handled, by method and code.",
	}, []string{"grpc_service", "grpc_method", "grpc_code"})

	roomConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "connections",
		Help:      "Websocket connections attached to room channels.",
	})

	roomLifecycle = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "lifecycle_events_total",
		Help:      "Room connection lifecycle events (connected, disconnected, rejected).",
	}, []string{"event"})

	roomDroppedFrames = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "dropped_frames_total",
		Help:      "Client frames discarded before fan-out.",
	}, []string{"reason"})

	roomEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "evicted_connections_total",
		Help:      "Connections closed because they could not keep up with room traffic.",
	})

	roomChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "change_events_total",
		Help:      "Change-feed events published to room channels.",
	}, []string{"table", "op"})

	roomBroadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "broadcast_events_total",
		Help:      "Ephemeral broadcasts relayed on room channels.",
	}, []string{"event"})

	roomPresenceMembers = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Subsystem: "room",
		Name:      "presence_sync_members",
		Help:      "Distinct users carried by each presence sync.",
		Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
	})

	amqpPublishErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Subsystem: "amqp",
		Name:      "publish_errors_total",
		Help:      "Failed AMQP publishes.",
	})
)

func init() {
	prometheus.MustRegister(
		httpRequests,
		httpLatency,
		grpcHandled,
		roomConnections,
		roomLifecycle,
		roomDroppedFrames,
		roomEvictions,
		roomChanges,
		roomBroadcasts,
		roomPresenceMembers,
		amqpPublishErrors,
	)
}

// HTTPMetricsMiddleware records count and latency per matched route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		service, method := splitFullMethod(info.FullMethod)
		grpcHandled.WithLabelValues(service, method, status.Code(err).String()).Inc()
		return resp, err
	}
}

// splitFullMethod turns "/pkg.Service/Method" into its two parts.
func splitFullMethod(fullMethod string) (string, string) {
	service, method, ok := strings.Cut(strings.TrimPrefix(fullMethod, "/"), "/")
	if !ok || service == "" || method == "" {
		return "unknown", "unknown"
	}
	return service, method
}

func RoomConnected()    { roomConnections.Inc() }
func RoomDisconnected() { roomConnections.Dec() }

func IncRoomLifecycle(event string) {
	roomLifecycle.WithLabelValues(event).Inc()
}

func IncDroppedFrame(reason string) {
	roomDroppedFrames.WithLabelValues(reason).Inc()
}

func IncEvictedPeer() {
	roomEvictions.Inc()
}

func IncChangeEvent(table, op string) {
	roomChanges.WithLabelValues(table, op).Inc()
}

func IncBroadcastEvent(event string) {
	roomBroadcasts.WithLabelValues(event).Inc()
}

func ObservePresenceSync(members int) {
	roomPresenceMembers.Observe(float64(members))
}

func IncAMQPPublishError() {
	amqpPublishErrors.Inc()
}
