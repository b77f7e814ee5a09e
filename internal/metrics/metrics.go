// Package metrics holds the Prometheus collectors of the diploma service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "diplomasecure"

// Result label values.
const (
	Success  = "ok_success"
	Rejected = "err_rejected"
	Failed   = "err_internal"
	Invalid  = "err_integrity"
	NotFound = "err_not_found"
)

var (
	// DiplomasCreated counts records created per tenant.
	DiplomasCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "diplomas_created_total",
		Help:      "Diploma records created.",
	}, []string{"tenant"})

	// Transitions counts status transitions by target status.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "status_transitions_total",
		Help:      "Diploma status transitions by target status.",
	}, []string{"to"})

	// Signatures counts signature append attempts by result.
	Signatures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signatures_total",
		Help:      "Signature append attempts by result.",
	}, []string{"result"})

	// Replacements counts replacement attempts by result.
	Replacements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "replacements_total",
		Help:      "Diploma replacement attempts by result.",
	}, []string{"result"})

	// Verifications counts public verification lookups by outcome.
	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Public verification lookups by outcome.",
	}, []string{"result"})

	// ChainChecks counts audit chain verifications by result.
	ChainChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "audit_chain_checks_total",
		Help:      "Audit hash chain verifications by result.",
	}, []string{"result"})

	// HaltedTenants is the number of tenants whose audit log is halted.
	HaltedTenants = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "audit_halted_tenants",
		Help:      "Tenants whose mutating operations are halted after an integrity failure.",
	})

	// RequestDuration observes HTTP handler latency.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   []float64{0.005, 0.01, 0.02, 0.04, 0.08, 0.16, 0.32, 0.64, 1.28, 2.56},
	}, []string{"route", "code"})
)
