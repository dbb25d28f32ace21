package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultOK       = "ok"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// LifecycleMetrics records order transitions, stage writes and upload sizes.
type LifecycleMetrics struct {
	transitions  *prometheus.CounterVec
	stageUpdates *prometheus.CounterVec
	uploadBytes  *prometheus.HistogramVec
	outbox       *prometheus.CounterVec
}

// NewLifecycleMetrics registers the storefront metrics on the provided registerer.
// A nil registerer yields a no-op recorder.
func NewLifecycleMetrics(reg prometheus.Registerer) *LifecycleMetrics {
	if reg == nil {
		return &LifecycleMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "order_transitions_total",
		Help: "Order lifecycle actions by outcome.",
	}, []string{"action", "result"})
	stageUpdates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stage_updates_total",
		Help: "Shipment stage rows written, by resulting status.",
	}, []string{"status"})
	uploadBytes := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upload_bytes",
		Help:    "Size of accepted uploads in bytes.",
		Buckets: prometheus.ExponentialBuckets(16*1024, 4, 7),
	}, []string{"kind"})
	outbox := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "outbox_publish_total",
		Help: "Outbox rows handled by the publisher, by outcome.",
	}, []string{"event_type", "result"})
	reg.MustRegister(transitions, stageUpdates, uploadBytes, outbox)
	return &LifecycleMetrics{
		transitions:  transitions,
		stageUpdates: stageUpdates,
		uploadBytes:  uploadBytes,
		outbox:       outbox,
	}
}

// ObserveTransition counts one lifecycle action with its outcome.
func (m *LifecycleMetrics) ObserveTransition(action, result string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(action), normalizeLabel(result)).Inc()
}

// AddStageUpdates counts n stage rows moved to status.
func (m *LifecycleMetrics) AddStageUpdates(status string, n int) {
	if m == nil || m.stageUpdates == nil || n <= 0 {
		return
	}
	m.stageUpdates.WithLabelValues(normalizeLabel(status)).Add(float64(n))
}

// ObserveUpload records the size of an accepted upload.
func (m *LifecycleMetrics) ObserveUpload(kind string, size int64) {
	if m == nil || m.uploadBytes == nil {
		return
	}
	m.uploadBytes.WithLabelValues(normalizeLabel(kind)).Observe(float64(size))
}

// ObserveOutbox counts one outbox publish attempt.
func (m *LifecycleMetrics) ObserveOutbox(eventType, result string) {
	if m == nil || m.outbox == nil {
		return
	}
	m.outbox.WithLabelValues(normalizeLabel(eventType), normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
