// Package metrics exposes optional Prometheus counters for the protocol
// stack, mirroring observability.RegisterMetrics' sync.Once-guarded
// registration in the teacher but scoped to PL2 traffic and domain errors
// instead of HTTP requests.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/plbridge/plclient/internal/errkind"
)

var (
	registerOnce sync.Once

	pl2BytesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plclient",
			Subsystem: "pl2",
			Name:      "bytes_sent_total",
			Help:      "Total PL2 payload bytes sent, by component.",
		},
		[]string{"component"},
	)
	pl2BytesReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plclient",
			Subsystem: "pl2",
			Name:      "bytes_received_total",
			Help:      "Total PL2 payload bytes received, by component.",
		},
		[]string{"component"},
	)
	errorsByKind = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "plclient",
			Subsystem: "protocol",
			Name:      "errors_total",
			Help:      "Domain errors observed, by component and kind.",
		},
		[]string{"component", "kind"},
	)
)

// Register installs the collectors into the default Prometheus registry
// exactly once per process; a caller who never wires a registry still pays
// only the counter-increment cost from Record*.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(pl2BytesSent, pl2BytesReceived, errorsByKind)
	})
}

// RecordPL2Sent increments the sent-bytes counter for component.
func RecordPL2Sent(component string, n int) {
	Register()
	pl2BytesSent.WithLabelValues(component).Add(float64(n))
}

// RecordPL2Received increments the received-bytes counter for component.
func RecordPL2Received(component string, n int) {
	Register()
	pl2BytesReceived.WithLabelValues(component).Add(float64(n))
}

// RecordError increments the error counter for component/kind.
func RecordError(component string, kind errkind.ErrorKind) {
	Register()
	errorsByKind.WithLabelValues(component, kind.String()).Inc()
}
