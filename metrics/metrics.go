// Package metrics exposes registry counters and gauges over a Prometheus endpoint.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/sidechain-registry/interfaces"
)

var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// MetricsServer owns a dedicated Prometheus registry and the HTTP server
// publishing it. All observation methods are safe on a nil receiver.
type MetricsServer struct {
	registry *prometheus.Registry
	srv      *http.Server

	operations       *prometheus.CounterVec
	checkpoints      *prometheus.CounterVec
	activeSidechains prometheus.Gauge
	notificationHead prometheus.Gauge
}

// New creates a metrics server listening on addr. Characters of namespace
// that are invalid in metric names are replaced with underscores.
func New(namespace, addr string) (*MetricsServer, error) {
	namespace = invalidNameChars.ReplaceAllString(namespace, "_")
	registry := prometheus.NewRegistry()

	m := &MetricsServer{
		registry: registry,
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Registry operations by name and outcome.",
		}, []string{"operation", "result"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoints_total",
			Help:      "Snapshot checkpoints by outcome.",
		}, []string{"result"}),
		activeSidechains: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sidechains",
			Help:      "Number of currently active sidechains.",
		}),
		notificationHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_head_sequence",
			Help:      "Sequence number of the latest notification.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.operations,
		m.checkpoints,
		m.activeSidechains,
		m.notificationHead,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(c); err != nil {
			return nil, err
		}
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	m.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return m, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *MetricsServer) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}

// ObserveOperation counts one registry operation, labelled with the class of err.
func (m *MetricsServer) ObserveOperation(operation string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, Result(err)).Inc()
}

func (m *MetricsServer) ObserveCheckpoint(err error) {
	if m == nil {
		return
	}
	m.checkpoints.WithLabelValues(Result(err)).Inc()
}

func (m *MetricsServer) SetActiveSidechains(n int) {
	if m == nil {
		return
	}
	m.activeSidechains.Set(float64(n))
}

func (m *MetricsServer) SetNotificationHead(sequence uint64) {
	if m == nil {
		return
	}
	m.notificationHead.Set(float64(sequence))
}

// NotificationObserver returns a callback that tracks the notification head
// and the active sidechain count, starting from active. Notifications must be
// passed in sequence order from a single goroutine.
func (m *MetricsServer) NotificationObserver(active int) func(interfaces.Notification) {
	m.SetActiveSidechains(active)
	return func(n interfaces.Notification) {
		switch n.Kind {
		case interfaces.SideChainOpened:
			active++
		case interfaces.SideChainClosed:
			active--
		}
		m.SetActiveSidechains(active)
		m.SetNotificationHead(n.Sequence)
	}
}

// Result maps an operation error to a low-cardinality label value.
func Result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, interfaces.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, interfaces.ErrInvalidIdentity):
		return "invalid_identity"
	case errors.Is(err, interfaces.ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, interfaces.ErrAlreadyActive):
		return "already_active"
	default:
		return "error"
	}
}
