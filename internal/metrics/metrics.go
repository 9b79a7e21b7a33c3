// Package metrics exposes dispatcher counters in Prometheus format. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "grouper_dispatcher"

// Metrics holds the dispatcher's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	received       prometheus.Counter
	skipped        prometheus.Counter
	committed      prometheus.Counter
	rolledBack     prometheus.Counter
	published      *prometheus.CounterVec
	processingTime prometheus.Histogram

	workersLive    prometheus.Gauge
	workersDesired prometheus.Gauge
	workerExits    *prometheus.CounterVec

	reloads      *prometheus.CounterVec
	rulesLoaded  prometheus.Gauge
	lastReloadOK prometheus.Gauge
}

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		received: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_received_total",
			Help:      "Messages received from the ingress queue",
		}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_skipped_total",
			Help:      "Malformed messages committed without dispatch",
		}),
		committed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_committed_total",
			Help:      "Session commits, one per received message",
		}),
		rolledBack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_rolled_back_total",
			Help:      "Session rollbacks after a routing or transport error",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "envelopes_published_total",
			Help:      "Envelopes sent to a target queue",
		}, []string{"queue", "format"}),
		processingTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "envelope_processing_seconds",
			Help:      "Time from receipt to commit of one message",
			Buckets:   prometheus.DefBuckets,
		}),

		workersLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "workers_live",
			Help:      "Workers currently running",
		}),
		workersDesired: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "workers_desired",
			Help:      "Worker count requested by the process controls",
		}),
		workerExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "supervisor",
			Name:      "worker_exits_total",
			Help:      "Worker terminations by reason",
		}, []string{"reason"}),

		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "reloads_total",
			Help:      "Rule file reloads by result",
		}, []string{"result"}),
		rulesLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "loaded",
			Help:      "Rules in the published routing state",
		}),
		lastReloadOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "last_reload_success",
			Help:      "1 if the last reload succeeded, 0 otherwise",
		}),
	}

	m.registry.MustRegister(
		m.received, m.skipped, m.committed, m.rolledBack, m.published, m.processingTime,
		m.workersLive, m.workersDesired, m.workerExits,
		m.reloads, m.rulesLoaded, m.lastReloadOK,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Received() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) Skipped() {
	if m != nil {
		m.skipped.Inc()
	}
}

func (m *Metrics) Published(queue, format string) {
	if m != nil {
		m.published.WithLabelValues(queue, format).Inc()
	}
}

// Committed records a commit and how long the message took to process.
func (m *Metrics) Committed(elapsed time.Duration) {
	if m != nil {
		m.committed.Inc()
		m.processingTime.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RolledBack() {
	if m != nil {
		m.rolledBack.Inc()
	}
}

// Workers records the supervisor's view after a tick.
func (m *Metrics) Workers(live, desired int) {
	if m != nil {
		m.workersLive.Set(float64(live))
		m.workersDesired.Set(float64(desired))
	}
}

// WorkerExited counts a worker termination. reason is "retired" or "failed".
func (m *Metrics) WorkerExited(reason string) {
	if m != nil {
		m.workerExits.WithLabelValues(reason).Inc()
	}
}

// Reloaded records one rule file reload. rules is ignored when err is set.
func (m *Metrics) Reloaded(rules int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.reloads.WithLabelValues("failure").Inc()
		m.lastReloadOK.Set(0)
		return
	}
	m.reloads.WithLabelValues("success").Inc()
	m.lastReloadOK.Set(1)
	m.rulesLoaded.Set(float64(rules))
}
