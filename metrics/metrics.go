package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tapir"

// Write kinds used as label values of DocumentsWritten.
const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
)

// Metrics holds the collectors of a unit of work.
type Metrics struct {
	// Flushes counts flushes by result, either "ok" or "error".
	Flushes *prometheus.CounterVec
	// FlushDuration observes the time taken by each flush.
	FlushDuration prometheus.Histogram
	// ComputeDuration observes the time taken to compute change sets.
	ComputeDuration prometheus.Histogram
	// ChangeSets counts change sets computed.
	ChangeSets prometheus.Counter
	// DocumentsWritten counts successful writes by kind.
	DocumentsWritten *prometheus.CounterVec
	// WriteErrors counts failed document writes.
	WriteErrors prometheus.Counter
	// Managed is the number of documents in the identity map.
	Managed prometheus.Gauge
}

// New returns collectors registered with reg. A nil reg creates unregistered collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Flushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "flushes_total",
			Help:      "Total number of flushes by result",
		}, []string{"result"}),
		FlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "flush_duration_seconds",
			Help:      "Time taken to flush a unit of work",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ComputeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "changeset",
			Name:      "compute_duration_seconds",
			Help:      "Time taken to compute the change sets of a flush",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		ChangeSets: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changeset",
			Name:      "computed_total",
			Help:      "Total number of non-empty change sets computed",
		}),
		DocumentsWritten: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "documents_written_total",
			Help:      "Total number of documents written by kind",
		}, []string{"kind"}),
		WriteErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "write_errors_total",
			Help:      "Total number of document writes that failed",
		}),
		Managed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "uow",
			Name:      "managed_documents",
			Help:      "Number of documents tracked by the unit of work",
		}),
	}
}

// ObserveFlush records a finished flush.
func (m *Metrics) ObserveFlush(start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Flushes.WithLabelValues(result).Inc()
	m.FlushDuration.Observe(time.Since(start).Seconds())
}
