// Package metrics provides Prometheus instrumentation for the identity services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the identity service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	LoginAttempts       *prometheus.CounterVec
	Lockouts            prometheus.Counter
	PasswordChanges     *prometheus.CounterVec
	CredentialEvictions prometheus.Counter
	Rehashes            prometheus.Counter
	LockWaitSeconds     prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New(namespace string) *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),

		LoginAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "login_attempts_total",
				Help:      "Login attempts by outcome.",
			},
			[]string{"status"},
		),
		Lockouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "auth",
				Name:      "lockouts_total",
				Help:      "Accounts locked after too many failed logins.",
			},
		),
		PasswordChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "password",
				Name:      "changes_total",
				Help:      "Password changes by kind (initial, change, reset).",
			},
			[]string{"kind"},
		),
		CredentialEvictions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "password",
				Name:      "history_evictions_total",
				Help:      "Credentials evicted from password history by retention.",
			},
		),
		Rehashes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "password",
				Name:      "rehashes_total",
				Help:      "Credentials upgraded to the configured hash scheme on login.",
			},
		),
		LockWaitSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "lock",
				Name:      "wait_seconds",
				Help:      "Time spent acquiring per-user write locks.",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
		),
	}

	m.Registry.MustRegister(
		m.LoginAttempts,
		m.Lockouts,
		m.PasswordChanges,
		m.CredentialEvictions,
		m.Rehashes,
		m.LockWaitSeconds,
	)
	return m
}

// RecordLogin counts a login attempt with the given outcome.
func (m *Metrics) RecordLogin(status string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(status).Inc()
}

// RecordLockout counts an account lockout.
func (m *Metrics) RecordLockout() {
	if m == nil {
		return
	}
	m.Lockouts.Inc()
}

// RecordPasswordChange counts a password change and the credentials it evicted.
func (m *Metrics) RecordPasswordChange(kind string, evicted int) {
	if m == nil {
		return
	}
	m.PasswordChanges.WithLabelValues(kind).Inc()
	m.CredentialEvictions.Add(float64(evicted))
}

// RecordRehash counts a credential upgraded on login.
func (m *Metrics) RecordRehash() {
	if m == nil {
		return
	}
	m.Rehashes.Inc()
}

// ObserveLockWait records time spent waiting for a lock.
func (m *Metrics) ObserveLockWait(seconds float64) {
	if m == nil {
		return
	}
	m.LockWaitSeconds.Observe(seconds)
}
