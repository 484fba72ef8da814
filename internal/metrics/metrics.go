// Package metrics exposes Prometheus counters for the session lifecycle
// and liveness/readiness probes for orchestrators.
//
// Readiness tracks the session: /ready passes only while the phase is
// ready, so a load balancer can route around a bot that is waiting for a
// QR scan or reconnecting.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	wabotErrors "github.com/ibetin/wabot/internal/errors"
	"github.com/ibetin/wabot/internal/responder"
	"github.com/ibetin/wabot/internal/session"
	"github.com/ibetin/wabot/internal/supervisor"
)

const namespace = "wabot"

// maxGoroutines fails liveness when exceeded; a leak in reply goroutines
// shows up here first.
const maxGoroutines = 10000

// StateReader provides the current session snapshot.
type StateReader interface {
	Snapshot() session.Snapshot
}

// Metrics holds the collectors and probe handler.
type Metrics struct {
	registry *prometheus.Registry
	health   healthcheck.Handler

	transitions   *prometheus.CounterVec
	phase         *prometheus.GaugeVec
	recoveries    prometheus.Counter
	recoveryDelay prometheus.Gauge
	replies       *prometheus.CounterVec
}

var (
	_ supervisor.Observer       = (*Metrics)(nil)
	_ responder.OutcomeObserver = (*Metrics)(nil)
)

// New creates Metrics on a private registry. state backs the readiness
// probe and the initial phase gauge.
func New(state StateReader) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Session phase transitions by target phase.",
		}, []string{"phase"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_phase",
			Help:      "1 for the current session phase, 0 otherwise.",
		}, []string{"phase"}),
		recoveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_scheduled_total",
			Help:      "Re-initialize attempts scheduled after a disconnection.",
		}),
		recoveryDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_delay_seconds",
			Help:      "Delay of the most recently scheduled recovery.",
		}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Auto-reply attempts by result code (ok on success).",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.transitions,
		m.phase,
		m.recoveries,
		m.recoveryDelay,
		m.replies,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m.setPhase(state.Snapshot().Phase)

	m.health = healthcheck.NewMetricsHandler(reg, namespace)
	m.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))
	m.health.AddReadinessCheck("session-ready", func() error {
		snap := state.Snapshot()
		if snap.Phase != session.PhaseReady {
			return fmt.Errorf("session is %s", snap.Phase)
		}
		return nil
	})
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics, /live and /ready.
func (m *Metrics) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry}))
	mux.HandleFunc("GET /live", m.health.LiveEndpoint)
	mux.HandleFunc("GET /ready", m.health.ReadyEndpoint)
	return mux
}

// Transitioned counts tr and moves the phase gauge.
func (m *Metrics) Transitioned(tr session.Transition, _ string) {
	m.transitions.WithLabelValues(string(tr.To.Phase)).Inc()
	m.setPhase(tr.To.Phase)
}

// RecoveryScheduled counts a scheduled recovery.
func (m *Metrics) RecoveryScheduled(delay time.Duration) {
	m.recoveries.Inc()
	m.recoveryDelay.Set(delay.Seconds())
}

// ReplyFinished counts a reply by result code.
func (m *Metrics) ReplyFinished(o responder.Outcome) {
	result := "ok"
	if !o.Result.OK() {
		result = wabotErrors.GetCode(o.Result.Err)
	}
	m.replies.WithLabelValues(result).Inc()
}

func (m *Metrics) setPhase(current session.Phase) {
	for _, p := range session.Phases {
		v := 0.0
		if p == current {
			v = 1
		}
		m.phase.WithLabelValues(string(p)).Set(v)
	}
}
