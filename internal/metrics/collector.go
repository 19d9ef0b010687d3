// Package metrics exposes Prometheus instruments for passes, agent turns,
// routing, sessions, and HTTP traffic. A nil *Collector is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every instrument.
type Collector struct {
	passesTotal    *prometheus.CounterVec
	passDuration   *prometheus.HistogramVec
	agentTurns     *prometheus.CounterVec
	agentDuration  *prometheus.HistogramVec
	routingErrors  *prometheus.CounterVec
	handoffs       *prometheus.CounterVec
	consensusScore prometheus.Histogram
	sessionsActive prometheus.Gauge
	sessionsReaped prometheus.Counter
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// NewCollector registers all instruments on reg under namespace.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		passesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "Interaction passes by mode and completion reason",
		}, []string{"mode", "reason"}),
		passDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "Wall time of an interaction pass",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"mode"}),
		agentTurns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_turns_total",
			Help:      "Agent turns by mode, agent and status",
		}, []string{"mode", "agent", "status"}),
		agentDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "agent_turn_duration_seconds",
			Help:      "Time to stream one agent turn",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		routingErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_errors_total",
			Help:      "Classification failures by tier (user, reply)",
		}, []string{"tier"}),
		handoffs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handoffs_total",
			Help:      "Agent-to-agent hand-offs by source and target",
		}, []string{"from", "to"}),
		consensusScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_score",
			Help:      "Think-tank consensus score per evaluated round",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		sessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in memory",
		}),
		sessionsReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_reaped_total",
			Help:      "Stale sessions reclaimed",
		}),
		httpRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		httpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// PassCompleted records a finished pass.
func (c *Collector) PassCompleted(mode, reason string, d time.Duration) {
	if c == nil {
		return
	}
	c.passesTotal.WithLabelValues(mode, reason).Inc()
	c.passDuration.WithLabelValues(mode).Observe(d.Seconds())
}

// AgentTurn records one agent turn. status is "ok" or "error".
func (c *Collector) AgentTurn(mode, agent, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.agentTurns.WithLabelValues(mode, agent, status).Inc()
	c.agentDuration.WithLabelValues(agent).Observe(d.Seconds())
}

// RoutingError records a failed classification.
func (c *Collector) RoutingError(tier string) {
	if c == nil {
		return
	}
	c.routingErrors.WithLabelValues(tier).Inc()
}

// Handoff records an agent bringing in a teammate.
func (c *Collector) Handoff(from, to string) {
	if c == nil {
		return
	}
	c.handoffs.WithLabelValues(from, to).Inc()
}

// Consensus records a round's consensus score.
func (c *Collector) Consensus(score float64) {
	if c == nil {
		return
	}
	c.consensusScore.Observe(score)
}

// SessionsActive sets the live session gauge.
func (c *Collector) SessionsActive(n int) {
	if c == nil {
		return
	}
	c.sessionsActive.Set(float64(n))
}

// SessionsReaped counts reclaimed sessions.
func (c *Collector) SessionsReaped(n int) {
	if c == nil {
		return
	}
	c.sessionsReaped.Add(float64(n))
}

// HTTPRequest records one served request.
func (c *Collector) HTTPRequest(method, route, status string, d time.Duration) {
	if c == nil {
		return
	}
	c.httpRequests.WithLabelValues(method, route, status).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
