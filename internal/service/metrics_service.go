package service

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the line
// protocol server.
type MetricsService struct {
	registry          *prometheus.Registry
	handler           http.Handler
	commandsTotal     *prometheus.CounterVec
	commandDuration   *prometheus.HistogramVec
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	readTimeouts      prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	commandsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "registrar_commands_total",
		Help: "Total number of dispatched commands",
	}, []string{"command", "outcome"})

	commandDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "registrar_command_duration_seconds",
		Help:    "Duration of command dispatch in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"command"})

	activeConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "registrar_active_connections",
		Help: "Currently open client connections",
	})

	connectionsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrar_connections_total",
		Help: "Total accepted client connections",
	})

	readTimeouts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "registrar_read_timeouts_total",
		Help: "Connections closed by read deadline expiry",
	})

	registry.MustRegister(commandsTotal, commandDuration, activeConnections, connectionsTotal, readTimeouts)

	return &MetricsService{
		registry:          registry,
		handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		commandsTotal:     commandsTotal,
		commandDuration:   commandDuration,
		activeConnections: activeConnections,
		connectionsTotal:  connectionsTotal,
		readTimeouts:      readTimeouts,
	}
}

// Handler exposes the scrape endpoint.
func (s *MetricsService) Handler() http.Handler {
	return s.handler
}

// ObserveCommand records one dispatched command.
func (s *MetricsService) ObserveCommand(command, outcome string, duration time.Duration) {
	s.commandsTotal.WithLabelValues(command, outcome).Inc()
	s.commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// ConnOpened tracks an accepted connection.
func (s *MetricsService) ConnOpened() {
	s.connectionsTotal.Inc()
	s.activeConnections.Inc()
}

// ConnClosed tracks a finished connection.
func (s *MetricsService) ConnClosed() {
	s.activeConnections.Dec()
}

// ReadTimeout tracks a connection dropped by deadline expiry.
func (s *MetricsService) ReadTimeout() {
	s.readTimeouts.Inc()
}
