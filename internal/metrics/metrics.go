package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Gateway metrics
	Connections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gigchat_ws_connections",
			Help: "Open realtime connections",
		},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_messages_total",
			Help: "send_message events by outcome",
		},
		[]string{"outcome"}, // accepted, invalid, blocked, degraded, rejected, rate_limited
	)

	EnqueueLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gigchat_enqueue_latency_seconds",
			Help:    "Time to durably queue a job",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
	)

	// Worker metrics
	JobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gigchat_jobs_processed_total",
			Help: "Queue jobs by result",
		},
		[]string{"result"}, // ok, retry, dead
	)

	MergeLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gigchat_merge_latency_seconds",
			Help:    "Transcript merge latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .5},
		},
	)

	RoomsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gigchat_rooms_created_total",
			Help: "Rooms created by the persistence worker",
		},
	)
)
