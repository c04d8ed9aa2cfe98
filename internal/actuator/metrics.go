// Package actuator emits the autoscaler's own Prometheus metrics: what each
// tier decided, what was submitted, and how operations resolved. The
// metrics are the operator-facing record of everything the loop does,
// including dry-run decisions that never reach the executor.
package actuator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Operation outcome label values.
const (
	OutcomeSubmitted = "submitted"
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
	OutcomeTimedOut  = "timed_out"
)

// Skip reason label values.
const (
	SkipMetricsUnavailable = "metrics_unavailable"
	SkipUnreachable        = "unreachable_fraction"
	SkipGated              = "gated"
	SkipInfeasible         = "placement_infeasible"
)

// Emitter registers and updates the autoscaler's metrics.
type Emitter struct {
	decisions  *prometheus.CounterVec
	operations *prometheus.CounterVec
	skips      *prometheus.CounterVec
	shortfall  *prometheus.CounterVec
	tierNodes  *prometheus.GaugeVec
}

// NewEmitter builds an Emitter and registers its collectors with reg.
func NewEmitter(reg prometheus.Registerer) *Emitter {
	e := &Emitter{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tier_autoscaler_decisions_total",
			Help: "Scaling decisions per tier and action kind.",
		}, []string{"tier", "action"}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tier_autoscaler_operations_total",
			Help: "Operation lifecycle events per tier, kind and outcome.",
		}, []string{"tier", "kind", "outcome"}),
		skips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tier_autoscaler_skipped_cycles_total",
			Help: "Tier evaluation cycles that short-circuited, by reason.",
		}, []string{"tier", "reason"}),
		shortfall: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tier_autoscaler_selection_shortfall_total",
			Help: "Decommission nodes not removed because of the zone floor.",
		}, []string{"tier"}),
		tierNodes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tier_autoscaler_tier_nodes",
			Help: "Nodes observed in the last snapshot, by reachability.",
		}, []string{"tier", "reachability"}),
	}
	reg.MustRegister(e.decisions, e.operations, e.skips, e.shortfall, e.tierNodes)
	return e
}

// ObserveDecision records one decider outcome.
func (e *Emitter) ObserveDecision(tier, action string) {
	e.decisions.WithLabelValues(tier, action).Inc()
}

// ObserveOperation records an operation lifecycle event.
func (e *Emitter) ObserveOperation(tier, kind, outcome string) {
	e.operations.WithLabelValues(tier, kind, outcome).Inc()
}

// ObserveSkip records a short-circuited tier cycle.
func (e *Emitter) ObserveSkip(tier, reason string) {
	e.skips.WithLabelValues(tier, reason).Inc()
}

// ObserveShortfall records decommission selections trimmed by the floor.
func (e *Emitter) ObserveShortfall(tier string, n int) {
	if n > 0 {
		e.shortfall.WithLabelValues(tier).Add(float64(n))
	}
}

// SetTierNodes publishes the last snapshot's node counts.
func (e *Emitter) SetTierNodes(tier string, reachable, unreachable int) {
	e.tierNodes.WithLabelValues(tier, "reachable").Set(float64(reachable))
	e.tierNodes.WithLabelValues(tier, "unreachable").Set(float64(unreachable))
}
