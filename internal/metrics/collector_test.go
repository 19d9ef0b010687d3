package metrics_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentoven/huddle/internal/metrics"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := metrics.NewCollector("huddle", reg)

	c.PassCompleted("group", "queue_empty", time.Second)
	c.PassCompleted("group", "queue_empty", time.Second)
	c.AgentTurn("group", "rahil", "ok", 100*time.Millisecond)
	c.RoutingError("reply")
	c.SessionsActive(3)
	c.SessionsReaped(2)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"huddle_passes_total",
		"huddle_agent_turns_total",
		"huddle_routing_errors_total",
		"huddle_sessions_active",
		"huddle_sessions_reaped_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}

	series, err := testutil.GatherAndCount(reg, "huddle_passes_total")
	require.NoError(t, err)
	assert.Equal(t, 1, series)

	for _, f := range families {
		if f.GetName() == "huddle_passes_total" {
			assert.Equal(t, 2.0, f.GetMetric()[0].GetCounter().GetValue())
		}
	}
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.PassCompleted("group", "error", time.Second)
		c.AgentTurn("group", "x", "ok", time.Second)
		c.RoutingError("user")
		c.Handoff("a", "b")
		c.Consensus(0.5)
		c.SessionsActive(1)
		c.SessionsReaped(1)
		c.HTTPRequest("GET", "/health", "200", time.Millisecond)
	})
}
