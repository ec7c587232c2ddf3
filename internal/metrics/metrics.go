package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenhub_http_request_duration_seconds",
			Help:    "HTTP request duration (stream endpoints excluded)",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Stream metrics
	StreamConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "greenhub_stream_connections",
			Help: "Open event streams",
		},
		[]string{"channel"},
	)

	FramesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_frames_delivered_total",
			Help: "Event frames accepted by open streams",
		},
		[]string{"channel"},
	)

	StreamEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_stream_evictions_total",
			Help: "Streams dropped because they could not accept a frame",
		},
		[]string{"channel"},
	)

	// Business metrics
	ChatsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_chats_created_total",
			Help: "Total chats created",
		},
		[]string{"kind"}, // "direct" or "group"
	)

	MessagesPosted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_messages_posted_total",
			Help: "Total chat messages posted",
		},
		[]string{"type"},
	)

	SignalsRelayed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "greenhub_signals_relayed_total",
			Help: "Total WebRTC signaling payloads relayed",
		},
	)

	NotificationsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "greenhub_notifications_sent_total",
			Help: "Total notifications created",
		},
	)

	TelemetryReadings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "greenhub_telemetry_readings_total",
			Help: "Total IoT telemetry readings ingested",
		},
	)

	// Rate limit metrics
	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_rate_limit_hits_total",
			Help: "Total rate limit hits",
		},
		[]string{"endpoint"},
	)

	BlockedRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "greenhub_blocked_requests_total",
			Help: "Total blocked requests",
		},
		[]string{"reason"},
	)

	// Infrastructure metrics
	RedisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "greenhub_redis_latency_seconds",
			Help:    "Redis operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05},
		},
	)

	DatabaseLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "greenhub_database_latency_seconds",
			Help:    "Chat store query latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1},
		},
		[]string{"op"},
	)
)
