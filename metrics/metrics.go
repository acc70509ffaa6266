// Package metrics exposes Prometheus collectors for the bootstrap service and
// a small HTTP server publishing them.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ruteri/node-bootstrap/common"
)

// Label values.
const (
	ResultAcknowledged = "acknowledged"
	ResultFailed       = "failed"

	ResultAccepted = "accepted"
	ResultInvalid  = "invalid"
	ResultRejected = "rejected"

	ResultSucceeded = "succeeded"
)

var (
	// Registry holds every collector of this process.
	Registry = prometheus.NewRegistry()

	AnnounceAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "announce_attempts_total",
			Help:      "Announce heartbeats sent to the control plane by result",
		},
		[]string{"result"},
	)

	Commands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "commands_total",
			Help:      "Provision and restore commands received by result",
		},
		[]string{"command", "result"},
	)

	InstallerRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: common.PackageName,
			Name:      "installer_runs_total",
			Help:      "Installer invocations by command and result",
		},
		[]string{"command", "result"},
	)

	LifecycleState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: common.PackageName,
			Name:      "lifecycle_state",
			Help:      "Current lifecycle state (0 idle, 1 announcing, 2 accepted, 3 executing, 4 terminated)",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		AnnounceAttempts,
		Commands,
		InstallerRuns,
		LifecycleState,
	)
}

// MetricsServer serves the registry on /metrics.
type MetricsServer struct {
	srv *http.Server
}

func New(listenAddr string) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))

	return &MetricsServer{
		srv: &http.Server{
			Addr:              listenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

func (m *MetricsServer) ListenAndServe() error {
	return m.srv.ListenAndServe()
}

func (m *MetricsServer) Shutdown(ctx context.Context) error {
	return m.srv.Shutdown(ctx)
}
