// Package metrics holds the process Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "quiz_match"

// Metrics is a private registry plus the collectors the service updates.
type Metrics struct {
	Registry *prometheus.Registry

	ActiveRooms      prometheus.Gauge
	MatchesStarted   *prometheus.CounterVec
	MatchesFinished  *prometheus.CounterVec
	MatchesAbandoned *prometheus.CounterVec
	Answers          *prometheus.CounterVec
	ChatMessages     prometheus.Counter
	SinkWrites       *prometheus.CounterVec
	SinkDropped      prometheus.Counter
}

// New registers every collector on a fresh registry, so tests can build as
// many as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Rooms with a running worker.",
		}),
		MatchesStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_started_total",
			Help:      "Matches that left the waiting state.",
		}, []string{"mode"}),
		MatchesFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_finished_total",
			Help:      "Matches that played every round.",
		}, []string{"mode"}),
		MatchesAbandoned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "matches_abandoned_total",
			Help:      "Matches terminated before the last round.",
		}, []string{"mode"}),
		Answers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Accepted answer submissions by outcome.",
		}, []string{"outcome"}),
		ChatMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages broadcast.",
		}),
		SinkWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_writes_total",
			Help:      "Persistence sink writes by kind and result.",
		}, []string{"kind", "result"}),
		SinkDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_dropped_total",
			Help:      "Sink jobs dropped because the queue was full or closed.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.ActiveRooms,
		m.MatchesStarted,
		m.MatchesFinished,
		m.MatchesAbandoned,
		m.Answers,
		m.ChatMessages,
		m.SinkWrites,
		m.SinkDropped,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
