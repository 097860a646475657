package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// OperationMetrics records cart and checkout operation outcomes along with
// the remote requests they issue.
type OperationMetrics struct {
	duration *prometheus.HistogramVec
	total    *prometheus.CounterVec
	remote   *prometheus.CounterVec
}

// NewOperationMetrics registers the operation metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewOperationMetrics(reg prometheus.Registerer) *OperationMetrics {
	if reg == nil {
		return &OperationMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_operation_duration_seconds",
		Help:    "Duration of storefront operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	total := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_operations_total",
		Help: "Storefront operations by outcome.",
	}, []string{"operation", "outcome"})
	remote := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_remote_requests_total",
		Help: "Requests issued to the commerce backend by response status.",
	}, []string{"method", "status"})
	reg.MustRegister(duration, total, remote)
	return &OperationMetrics{
		duration: duration,
		total:    total,
		remote:   remote,
	}
}

// Observe records the duration and outcome of one operation.
func (m *OperationMetrics) Observe(operation string, started time.Time, err error) {
	if m == nil || m.duration == nil {
		return
	}
	op := normalizeLabel(operation)
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.total.WithLabelValues(op, outcome).Inc()
}

// ObserveRemote counts one remote request. A zero status means the request
// never produced a response.
func (m *OperationMetrics) ObserveRemote(method string, status int) {
	if m == nil || m.remote == nil {
		return
	}
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.remote.WithLabelValues(normalizeLabel(method), label).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
