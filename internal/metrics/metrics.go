// SPDX-License-Identifier: MPL-2.0

// Package metrics exposes Prometheus instruments for invocations, container
// lifecycle transitions and image builds. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "msrun"

// Outcome labels.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeInvalid = "invalid"
)

// Metrics holds the instruments and the registry they are registered with.
type Metrics struct {
	Invocations         *prometheus.CounterVec
	InvocationDuration  *prometheus.HistogramVec
	Transitions         *prometheus.CounterVec
	Builds              *prometheus.CounterVec
	ActiveSubscriptions prometheus.Gauge
	registry            *prometheus.Registry
}

// New creates the instruments on a fresh registry. The registry also
// carries the Go runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of action invocations by outcome",
			},
			[]string{"action", "outcome"},
		),
		InvocationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Action invocation latency in seconds, including the container exec",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "container_transitions_total",
				Help:      "Container state transitions by target state",
			},
			[]string{"state"},
		),
		Builds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "image_builds_total",
				Help:      "Image builds by outcome",
			},
			[]string{"outcome"},
		),
		ActiveSubscriptions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_subscriptions",
				Help:      "Event subscriptions currently polling their container",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.Invocations,
		m.InvocationDuration,
		m.Transitions,
		m.Builds,
		m.ActiveSubscriptions,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveInvocation records one invocation of action.
func (m *Metrics) ObserveInvocation(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.Invocations.WithLabelValues(action, outcome).Inc()
	m.InvocationDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveTransition records a container entering state.
func (m *Metrics) ObserveTransition(state string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(state).Inc()
}

// ObserveBuild records an image build.
func (m *Metrics) ObserveBuild(outcome string) {
	if m == nil {
		return
	}
	m.Builds.WithLabelValues(outcome).Inc()
}

// SubscriptionStarted increments the active subscription gauge.
func (m *Metrics) SubscriptionStarted() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Inc()
}

// SubscriptionEnded decrements the active subscription gauge.
func (m *Metrics) SubscriptionEnded() {
	if m == nil {
		return
	}
	m.ActiveSubscriptions.Dec()
}

// Registry returns the registry the instruments are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Outcome maps an error to OutcomeSuccess or OutcomeFailure.
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}
