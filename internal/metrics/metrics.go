// Package metrics exposes Prometheus counters for admission decisions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the admission service and audit worker report into.
type Recorder interface {
	RecordAdmission(kind, outcome, reason string, d time.Duration)
	RecordAuditPublishFailure()
	RecordAuditPersisted(ok bool)
}

// Collector implements Recorder with Prometheus metrics.
type Collector struct {
	admissions     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	publishFail    prometheus.Counter
	auditPersisted *prometheus.CounterVec
}

// NewCollector registers the metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_admissions_total",
			Help: "Admission decisions by kind, outcome and rejection reason.",
		}, []string{"kind", "outcome", "reason"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qrattend_admission_duration_seconds",
			Help:    "Time spent deciding one admission.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		publishFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "qrattend_audit_publish_failures_total",
			Help: "Decisions that could not be published to the audit queue.",
		}),
		auditPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "qrattend_audit_persisted_total",
			Help: "Audit messages handled by the worker.",
		}, []string{"result"}),
	}
	reg.MustRegister(c.admissions, c.latency, c.publishFail, c.auditPersisted)
	return c
}

func (c *Collector) RecordAdmission(kind, outcome, reason string, d time.Duration) {
	c.admissions.WithLabelValues(kind, outcome, reason).Inc()
	c.latency.WithLabelValues(kind).Observe(d.Seconds())
}

func (c *Collector) RecordAuditPublishFailure() {
	c.publishFail.Inc()
}

func (c *Collector) RecordAuditPersisted(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	c.auditPersisted.WithLabelValues(result).Inc()
}

// Nop discards everything.
type Nop struct{}

func (Nop) RecordAdmission(string, string, string, time.Duration) {}
func (Nop) RecordAuditPublishFailure()                             {}
func (Nop) RecordAuditPersisted(bool)                              {}

// Handler serves the scrape endpoint for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
