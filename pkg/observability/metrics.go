package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global collector instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the undo engine and its
// surrounding surfaces
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Undo engine metrics
	OperationsRecorded *prometheus.CounterVec
	MovesMerged        prometheus.Counter
	UndoAttempts       *prometheus.CounterVec
	RedoAttempts       *prometheus.CounterVec
	ConflictsDetected  *prometheus.CounterVec
	RemoteOperations   prometheus.Counter

	// Collaboration channel metrics
	ActiveConnections prometheus.Gauge
	MessagesSent      prometheus.Counter
	MessagesFailed    prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Singleton to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		OperationsRecorded: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_recorded_total",
				Help:      "Total number of operations recorded, by type",
			},
			[]string{"type"},
		),
		MovesMerged: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "moves_merged_total",
				Help:      "Total number of move operations coalesced into merged entries",
			},
		),
		UndoAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "undo_attempts_total",
				Help:      "Total number of undo attempts, by outcome",
			},
			[]string{"outcome"},
		),
		RedoAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redo_attempts_total",
				Help:      "Total number of redo attempts, by outcome",
			},
			[]string{"outcome"},
		),
		ConflictsDetected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "conflicts_detected_total",
				Help:      "Total number of conflicts detected, by source",
			},
			[]string{"source"},
		),
		RemoteOperations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_operations_total",
				Help:      "Total number of remote operations applied",
			},
		),
		ActiveConnections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "ws_active_connections",
				Help:      "Number of active WebSocket connections",
			},
		),
		MessagesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_sent_total",
				Help:      "Total number of WebSocket messages sent",
			},
		),
		MessagesFailed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ws_messages_failed_total",
				Help:      "Total number of WebSocket messages that failed to send",
			},
		),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.OperationsRecorded,
		c.MovesMerged,
		c.UndoAttempts,
		c.RedoAttempts,
		c.ConflictsDetected,
		c.RemoteOperations,
		c.ActiveConnections,
		c.MessagesSent,
		c.MessagesFailed,
	)

	globalCollector = c
	return c
}

// Registry returns the collector's Prometheus registry for the /metrics handler
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Outcome labels for undo/redo attempt counters
const (
	OutcomeSuccess  = "success"
	OutcomeConflict = "conflict"
	OutcomeEmpty    = "empty"
)
