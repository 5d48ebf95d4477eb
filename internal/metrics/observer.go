// Package metrics exports scheduler statistics to Prometheus.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/flowscript/internal/engine"
	"github.com/roach88/flowscript/internal/graph"
)

// Observer is an engine.Observer backed by Prometheus collectors. It is safe
// to share across States updated in parallel.
type Observer struct {
	nodeUpdates *prometheus.CounterVec
	nodeCharged *prometheus.HistogramVec
	ticks       *prometheus.CounterVec
	events      *prometheus.CounterVec
	steps       *prometheus.HistogramVec
	wall        *prometheus.HistogramVec
}

var _ engine.Observer = (*Observer)(nil)

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		nodeUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowscript_node_updates_total",
				Help: "Node updates by node type and result.",
			},
			[]string{"type", "result"},
		),
		nodeCharged: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowscript_node_charged_seconds",
				Help:    "Script time charged to a node per update.",
				Buckets: []float64{0, .001, .005, .01, .016, .033, .05, .1, .25, .5, 1},
			},
			[]string{"type"},
		),
		ticks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowscript_ticks_total",
				Help: "Script updates by graph and resulting status.",
			},
			[]string{"graph", "status"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flowscript_scheduler_events_total",
				Help: "Forks, merges, terminations, panics, quota hits and restarts.",
			},
			[]string{"graph", "event"},
		),
		steps: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowscript_tick_steps",
				Help:    "Node updates performed per script update.",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"graph"},
		),
		wall: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flowscript_tick_wall_seconds",
				Help:    "Wall-clock time spent in one script update.",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10),
			},
			[]string{"graph"},
		),
	}

	for _, c := range []prometheus.Collector{o.nodeUpdates, o.nodeCharged, o.ticks, o.events, o.steps, o.wall} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return o, nil
}

// NodeUpdated implements engine.Observer.
func (o *Observer) NodeUpdated(node *graph.Node, state engine.ResultState, consumed time.Duration) {
	o.nodeUpdates.WithLabelValues(node.Type, state.String()).Inc()
	o.nodeCharged.WithLabelValues(node.Type).Observe(consumed.Seconds())
}

// TickCompleted implements engine.Observer.
func (o *Observer) TickCompleted(stats engine.TickStats) {
	o.ticks.WithLabelValues(stats.Graph, stats.Status.String()).Inc()
	o.steps.WithLabelValues(stats.Graph).Observe(float64(stats.Steps))
	o.wall.WithLabelValues(stats.Graph).Observe(stats.Wall.Seconds())

	o.count(stats.Graph, "fork", stats.Forks)
	o.count(stats.Graph, "merge", stats.Merges)
	o.count(stats.Graph, "terminated", stats.Terminated)
	o.count(stats.Graph, "panic", stats.Panics)
	if stats.QuotaHit {
		o.count(stats.Graph, "quota", 1)
	}
	if stats.Restarted {
		o.count(stats.Graph, "restart", 1)
	}
}

func (o *Observer) count(graph, event string, n int) {
	if n > 0 {
		o.events.WithLabelValues(graph, event).Add(float64(n))
	}
}

// WriteText writes every metric family gathered from g in the Prometheus
// text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
