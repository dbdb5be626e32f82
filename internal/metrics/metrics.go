// Package metrics exposes Prometheus counters for the job pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the set of counters the services emit.
type Metrics interface {
	IncJobsStarted(tool string)
	IncJobsFinished(tool, status string)
	IncRefunds(tool string)
	IncGatewayCalls(op, outcome string)
	IncReconciled(outcome string)
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncJobsStarted(string)                          {}
func (Noop) IncJobsFinished(string, string)                 {}
func (Noop) IncRefunds(string)                              {}
func (Noop) IncGatewayCalls(string, string)                 {}
func (Noop) IncReconciled(string)                           {}
func (Noop) ObserveRequest(string, string, string, float64) {}

// Prom implements Metrics on its own registry.
type Prom struct {
	registry     *prometheus.Registry
	jobsStarted  *prometheus.CounterVec
	jobsFinished *prometheus.CounterVec
	refunds      *prometheus.CounterVec
	gatewayCalls *prometheus.CounterVec
	reconciled   *prometheus.CounterVec
	requests     *prometheus.CounterVec
	latency      *prometheus.HistogramVec
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		registry: prometheus.NewRegistry(),
		jobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Jobs started by tool",
		}, []string{"tool"}),
		jobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state by tool and status",
		}, []string{"tool", "status"}),
		refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_refunds_total",
			Help:      "Credit refunds applied by tool",
		}, []string{"tool"}),
		gatewayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_calls_total",
			Help:      "Tool gateway calls by operation and outcome",
		}, []string{"op", "outcome"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciled_jobs_total",
			Help:      "Jobs visited by the reconciler by outcome",
		}, []string{"outcome"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	p.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.jobsStarted, p.jobsFinished, p.refunds, p.gatewayCalls, p.reconciled, p.requests, p.latency,
	)
	return p
}

func (p *Prom) IncJobsStarted(tool string) {
	p.jobsStarted.WithLabelValues(tool).Inc()
}

func (p *Prom) IncJobsFinished(tool, status string) {
	p.jobsFinished.WithLabelValues(tool, status).Inc()
}

func (p *Prom) IncRefunds(tool string) {
	p.refunds.WithLabelValues(tool).Inc()
}

func (p *Prom) IncGatewayCalls(op, outcome string) {
	p.gatewayCalls.WithLabelValues(op, outcome).Inc()
}

func (p *Prom) IncReconciled(outcome string) {
	p.reconciled.WithLabelValues(outcome).Inc()
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

// Handler serves this registry in the Prometheus exposition format.
func (p *Prom) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
