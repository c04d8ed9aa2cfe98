// Package decider implements the pure per-tier scaling decision: node
// snapshots plus a tier policy in, a single action out. It holds no state
// and performs no I/O; hysteresis against in-flight operations and
// cooldowns is a separate, equally pure gate.
package decider

import (
	"fmt"
	"time"

	"github.com/syed-asak/es-tier-autoscaler/internal/collector"
	"github.com/syed-asak/es-tier-autoscaler/internal/config"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// Kind is the decided scaling direction.
type Kind string

const (
	KindNone         Kind = "none"
	KindProvision    Kind = "provision"
	KindDecommission Kind = "decommission"
)

// Action is the outcome of one decision for one tier.
type Action struct {
	// Kind of action; KindNone means leave the tier alone.
	Kind Kind

	// Count of nodes to add or remove. Zero for KindNone.
	Count int

	// Reason is a human-readable explanation for logs.
	Reason string
}

// Decide maps one tier's reachable node snapshots and its policy to an
// action. Unreachable nodes must already be excluded from nodes: they never
// count toward thresholds and never qualify for decommission.
//
// A zero BelowCountThreshold disables downscaling for the tier entirely,
// rather than making the condition trivially true (zero nodes below the
// threshold is always >= 0).
//
// When the downscale and upscale conditions are simultaneously true
// (possible with disjoint threshold bands), Provision wins: losing capacity
// headroom is the more expensive mistake. Both conditions are computed
// before the precedence is applied, so the tie-break reads as policy rather
// than accident.
func Decide(nodes []collector.NodeSnapshot, pol config.TierPolicy) Action {
	belowDown := 0
	headroom := 0
	for _, n := range nodes {
		if n.DiskUsedPercent < pol.DownThreshold {
			belowDown++
		}
		if n.DiskUsedPercent < pol.UpThreshold {
			headroom++
		}
	}

	wantDown := pol.BelowCountThreshold > 0 && belowDown >= pol.BelowCountThreshold
	wantUp := headroom < pol.BelowUpCheckThreshold

	switch {
	case wantUp:
		return Action{
			Kind:  KindProvision,
			Count: pol.ProvisionCount,
			Reason: fmt.Sprintf("only %d/%d nodes below %.1f%% used (need %d with headroom)",
				headroom, len(nodes), pol.UpThreshold, pol.BelowUpCheckThreshold),
		}
	case wantDown:
		count := pol.DecommissionCount
		if belowDown < count {
			count = belowDown
		}
		if count == 0 {
			return Action{Kind: KindNone}
		}
		return Action{
			Kind:  KindDecommission,
			Count: count,
			Reason: fmt.Sprintf("%d/%d nodes below %.1f%% used (threshold %d)",
				belowDown, len(nodes), pol.DownThreshold, pol.BelowCountThreshold),
		}
	default:
		return Action{Kind: KindNone}
	}
}

// Gate reports whether the tier may act now. A tier is blocked while an
// operation is pending and for the policy cooldown after its last confirmed
// action, regardless of threshold breaches.
func Gate(v state.View, pol config.TierPolicy, defaultCooldown time.Duration, now time.Time) (blocked bool, reason string) {
	if v.InFlight != nil {
		return true, fmt.Sprintf("operation %s (%s) still pending", v.InFlight.ID, v.InFlight.Kind)
	}
	cooldown := pol.CooldownDuration(defaultCooldown)
	if !v.LastActionAt.IsZero() {
		if remaining := cooldown - now.Sub(v.LastActionAt); remaining > 0 {
			return true, fmt.Sprintf("in cooldown for another %s", remaining.Round(time.Second))
		}
	}
	return false, ""
}

// EligibleForDecommission filters the reachable nodes down to decommission
// candidates: below the down threshold and not in the probation set of
// not-yet-confirmed-healthy nodes.
func EligibleForDecommission(nodes []collector.NodeSnapshot, pol config.TierPolicy, probation []string) []collector.NodeSnapshot {
	onProbation := make(map[string]bool, len(probation))
	for _, id := range probation {
		onProbation[id] = true
	}
	var eligible []collector.NodeSnapshot
	for _, n := range nodes {
		if n.DiskUsedPercent < pol.DownThreshold && !onProbation[n.ID] {
			eligible = append(eligible, n)
		}
	}
	return eligible
}
