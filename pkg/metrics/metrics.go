// Package metrics exposes Prometheus instruments for hashing, verification
// and policy reconciliation. Every recorder is safe on a nil *Metrics.
package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/porthorian/hashpolicy/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hashpolicy"

type VerifyResult string

const (
	VerifyResultMatch     VerifyResult = "match"
	VerifyResultMismatch  VerifyResult = "mismatch"
	VerifyResultMalformed VerifyResult = "malformed"
	VerifyResultError     VerifyResult = "error"
)

type Metrics struct {
	HashDuration      *prometheus.HistogramVec
	VerifyDuration    *prometheus.HistogramVec
	VerifyResults     *prometheus.CounterVec
	PolicyChecks      *prometheus.CounterVec
	CostSubstitutions *prometheus.CounterVec
	Rehashes          *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers all instruments on a fresh registry so several instances can
// live in one process.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.HashDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "hash_duration_seconds",
			Help:      "Time spent deriving password hashes",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"algorithm"},
	)

	m.VerifyDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying passwords against stored credentials",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
		},
		[]string{"algorithm"},
	)

	m.VerifyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_results_total",
			Help:      "Password verification outcomes",
		},
		[]string{"algorithm", "result"},
	)

	m.PolicyChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_checks_total",
			Help:      "Policy compliance checks by outcome",
		},
		[]string{"algorithm", "compliant"},
	)

	m.CostSubstitutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cost_substitutions_total",
			Help:      "Requested costs replaced by the provider default",
		},
		[]string{"algorithm"},
	)

	m.Rehashes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rehashes_total",
			Help:      "Credentials re-hashed after a successful verification",
		},
		[]string{"from", "to", "result"},
	)

	m.registry.MustRegister(
		m.HashDuration,
		m.VerifyDuration,
		m.VerifyResults,
		m.PolicyChecks,
		m.CostSubstitutions,
		m.Rehashes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveHash(algorithm string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.HashDuration.WithLabelValues(algorithm).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveVerify(algorithm string, result VerifyResult, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.VerifyDuration.WithLabelValues(algorithm).Observe(elapsed.Seconds())
	m.VerifyResults.WithLabelValues(algorithm, string(result)).Inc()
}

func (m *Metrics) RecordPolicyCheck(algorithm string, compliant bool) {
	if m == nil {
		return
	}
	m.PolicyChecks.WithLabelValues(algorithm, strconv.FormatBool(compliant)).Inc()
}

func (m *Metrics) RecordCostSubstitution(algorithm string) {
	if m == nil {
		return
	}
	m.CostSubstitutions.WithLabelValues(algorithm).Inc()
}

func (m *Metrics) RecordRehash(from string, to string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, storage.ErrConflict):
		result = "conflict"
	case err != nil:
		result = "error"
	}
	m.Rehashes.WithLabelValues(from, to, result).Inc()
}
