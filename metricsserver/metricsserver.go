// Package metricsserver exposes the runtime's internal events as
// Prometheus metrics over a small HTTP server, adapted from the
// stellar-gateway's internal webapi (metrics/health/pprof endpoint).
package metricsserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/couchbase/gocbclientcore/clusternode"
	"github.com/couchbase/gocbclientcore/configprovider"
	"github.com/couchbase/gocbclientcore/corectl"
	"github.com/couchbase/gocbclientcore/endpoint"
	"github.com/couchbase/gocbclientcore/eventbus"
)

// Options configures a Server.
type Options struct {
	Logger        *zap.Logger
	ListenAddress string
	Bus           *eventbus.Bus
}

// Server hosts /metrics (Prometheus) and a root liveness response for
// the client runtime's lifecycle events.
type Server struct {
	logger        *zap.Logger
	listenAddress string
	httpServer    *http.Server

	busCancel func()

	connectionsTotal      *prometheus.CounterVec
	connectionFailures    *prometheus.CounterVec
	disconnectionsTotal   *prometheus.CounterVec
	reconfigurationsTotal *prometheus.CounterVec
	serviceReplacedTotal  prometheus.Counter
	configIgnoredTotal    *prometheus.CounterVec
	configUpdatedTotal    prometheus.Counter
	bucketsOpen           prometheus.Gauge
}

// New builds a Server and registers its collectors with the default
// Prometheus registry.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:        logger,
		listenAddress: opts.ListenAddress,

		connectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "endpoint_connections_total",
			Help:      "Total successful endpoint connections, by host.",
		}, []string{"host"}),
		connectionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "endpoint_connection_failures_total",
			Help:      "Total failed endpoint connect attempts, by host.",
		}, []string{"host"}),
		disconnectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "endpoint_disconnections_total",
			Help:      "Total endpoint disconnections, by host.",
		}, []string{"host"}),
		reconfigurationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "reconfigurations_total",
			Help:      "Total reconciler passes, by outcome.",
		}, []string{"outcome"}),
		serviceReplacedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "node_service_replaced_total",
			Help:      "Total times a node service was replaced due to a port mismatch.",
		}),
		configIgnoredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "config_ignored_total",
			Help:      "Total proposed bucket configurations not applied, by reason.",
		}, []string{"reason"}),
		configUpdatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocbclientcore",
			Name:      "config_updated_total",
			Help:      "Total bucket configuration updates that changed observable topology.",
		}),
		bucketsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gocbclientcore",
			Name:      "buckets_open",
			Help:      "Number of currently open buckets.",
		}),
	}

	prometheus.MustRegister(
		s.connectionsTotal,
		s.connectionFailures,
		s.disconnectionsTotal,
		s.reconfigurationsTotal,
		s.serviceReplacedTotal,
		s.configIgnoredTotal,
		s.configUpdatedTotal,
		s.bucketsOpen,
	)

	if opts.Bus != nil {
		events, cancel := opts.Bus.Subscribe()
		s.busCancel = cancel
		go s.consumeEvents(events)
	}

	return s
}

func (s *Server) consumeEvents(events <-chan eventbus.Event) {
	for ev := range events {
		switch e := ev.(type) {
		case endpoint.Connected:
			s.connectionsTotal.WithLabelValues(e.Host).Inc()
		case endpoint.ConnectionFailed:
			s.connectionFailures.WithLabelValues(e.Host).Inc()
		case endpoint.Disconnected:
			s.disconnectionsTotal.WithLabelValues(e.Host).Inc()
		case clusternode.ServiceReplaced:
			s.serviceReplacedTotal.Inc()
		case corectl.ReconfigurationCompleted:
			s.reconfigurationsTotal.WithLabelValues("completed").Inc()
		case corectl.ReconfigurationIgnored:
			s.reconfigurationsTotal.WithLabelValues("ignored").Inc()
		case corectl.ReconfigurationErrorDetected:
			s.reconfigurationsTotal.WithLabelValues("error").Inc()
		case configprovider.ConfigIgnored:
			s.configIgnoredTotal.WithLabelValues(e.Reason.String()).Inc()
		case configprovider.ConfigUpdated:
			s.configUpdatedTotal.Inc()
		case configprovider.BucketOpened:
			s.bucketsOpen.Inc()
		case configprovider.BucketClosed:
			s.bucketsOpen.Dec()
		}
	}
}

func (s *Server) handleRoot(rw http.ResponseWriter, r *http.Request) {
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write([]byte("ok")); err != nil {
		s.logger.Debug("failed to write root response", zap.Error(err))
	}
}

// ListenAndServe blocks serving /metrics and / until the server is
// shut down or fails.
func (s *Server) ListenAndServe() error {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/", s.handleRoot)

	s.httpServer = &http.Server{
		Handler:      r,
		Addr:         s.listenAddress,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s.httpServer.ListenAndServe()
}

// Shutdown stops the HTTP server and the event-consuming goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.busCancel != nil {
		s.busCancel()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
