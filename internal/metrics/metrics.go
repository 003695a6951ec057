// Package metrics counts key, signing and verification outcomes. A CLI run is
// short-lived, so the registry is folded into a node_exporter textfile instead
// of being served over HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "padessign"

// Outcome labels.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	OutcomeValid  = "valid"
	OutcomeBad    = "invalid"
	OutcomeFailed = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	keysGenerated  prometheus.Counter
	signTotal      *prometheus.CounterVec
	verifyTotal    *prometheus.CounterVec
	unlockFailures prometheus.Counter
	unlockSeconds  prometheus.Histogram
}

// New builds a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		keysGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "keys_generated_total",
			Help:      "Key pairs generated and written to a device",
		}),
		signTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sign_total",
			Help:      "Signing attempts by result",
		}, []string{"result"}),
		verifyTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_total",
			Help:      "Verification attempts by outcome",
		}, []string{"outcome"}),
		unlockFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unlock_failures_total",
			Help:      "Private key unlocks rejected for a wrong PIN or corrupted blob",
		}),
		unlockSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "unlock_seconds",
			Help:      "Time spent deriving the key and decrypting the private key",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
	m.registry.MustRegister(m.keysGenerated, m.signTotal, m.verifyTotal, m.unlockFailures, m.unlockSeconds)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) KeyGenerated() {
	if m == nil {
		return
	}
	m.keysGenerated.Inc()
}

func (m *Metrics) Signed(err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.signTotal.WithLabelValues(result).Inc()
}

// Verified records one verification. outcome is OutcomeValid, OutcomeBad or
// OutcomeFailed.
func (m *Metrics) Verified(outcome string) {
	if m == nil {
		return
	}
	m.verifyTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Unlocked(elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.unlockSeconds.Observe(elapsed.Seconds())
	if err != nil {
		m.unlockFailures.Inc()
	}
}
