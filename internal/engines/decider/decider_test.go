package decider

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/syed-asak/es-tier-autoscaler/internal/collector"
	"github.com/syed-asak/es-tier-autoscaler/internal/config"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// tierNodes builds n snapshots with the given disk percentages, ids hot-1..n
// spread over two zones.
func tierNodes(used ...float64) []collector.NodeSnapshot {
	nodes := make([]collector.NodeSnapshot, len(used))
	zones := []string{"z1", "z2"}
	for i, u := range used {
		nodes[i] = collector.NodeSnapshot{
			ID:              fmt.Sprintf("hot-%d", i+1),
			Tier:            "hot",
			Zone:            zones[i%2],
			DiskUsedPercent: u,
		}
	}
	return nodes
}

func hotPolicy() config.TierPolicy {
	return config.TierPolicy{
		Tier:                  "hot",
		NodePrefix:            "hot",
		DownThreshold:         55,
		BelowCountThreshold:   6,
		DecommissionCount:     2,
		UpThreshold:           80,
		BelowUpCheckThreshold: 6,
		ProvisionCount:        3,
		Zones:                 []string{"z1", "z2"},
		MinPerZone:            1,
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name  string
		nodes []collector.NodeSnapshot
		pol   config.TierPolicy
		want  Action
	}{
		{
			name: "steady state",
			// Plenty of headroom, too few below the down threshold.
			nodes: tierNodes(60, 62, 65, 70, 71, 72, 73, 74, 75, 76),
			pol:   hotPolicy(),
			want:  Action{Kind: KindNone},
		},
		{
			name: "downscale when enough nodes are underused",
			// 7 of 10 below 55: decommission, capped at decommissionCount=2.
			nodes: tierNodes(10, 20, 30, 40, 45, 50, 54, 70, 75, 78),
			pol:   hotPolicy(),
			want:  Action{Kind: KindDecommission, Count: 2},
		},
		{
			name: "decommission capped by eligible count",
			nodes: tierNodes(10, 70, 72, 74, 75, 76, 77, 78, 79, 79),
			pol: func() config.TierPolicy {
				p := hotPolicy()
				p.BelowCountThreshold = 1
				p.DecommissionCount = 5
				return p
			}(),
			want: Action{Kind: KindDecommission, Count: 1},
		},
		{
			name: "upscale when too few nodes have headroom",
			// Only 4 of 10 below 80: provision provisionCount.
			nodes: tierNodes(60, 62, 65, 70, 85, 88, 90, 91, 92, 95),
			pol:   hotPolicy(),
			want:  Action{Kind: KindProvision, Count: 3},
		},
		{
			name: "provision wins when both conditions fire",
			// 6 nodes below 55 (downscale fires) but only 6 of 13 below 80
			// with belowUpCheckThreshold 7 (upscale fires too).
			nodes: tierNodes(10, 20, 30, 40, 45, 50, 85, 86, 88, 90, 91, 92, 95),
			pol: func() config.TierPolicy {
				p := hotPolicy()
				p.BelowUpCheckThreshold = 7
				return p
			}(),
			want: Action{Kind: KindProvision, Count: 3},
		},
		{
			name:  "empty tier provisions",
			nodes: nil,
			pol:   hotPolicy(),
			want:  Action{Kind: KindProvision, Count: 3},
		},
		{
			name:  "zero belowCountThreshold disables downscale",
			nodes: tierNodes(10, 10, 10, 10, 10, 10, 10, 10, 10, 10),
			pol: func() config.TierPolicy {
				p := hotPolicy()
				p.BelowCountThreshold = 0
				return p
			}(),
			want: Action{Kind: KindNone},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.nodes, tt.pol)
			if got.Kind != tt.want.Kind || got.Count != tt.want.Count {
				t.Errorf("Decide() = {%s %d}, want {%s %d} (reason: %s)",
					got.Kind, got.Count, tt.want.Kind, tt.want.Count, got.Reason)
			}
		})
	}
}

// The conflict tie-break is a documented contract: for every input, the
// decider must never resolve a both-conditions-true snapshot to a
// decommission. Sweep adversarial threshold bands to make sure provision
// always wins.
func TestDecideNeverDecommissionsWhenUpscaleFires(t *testing.T) {
	pol := hotPolicy()
	pol.BelowCountThreshold = 1
	for belowUp := 1; belowUp <= 12; belowUp++ {
		pol.BelowUpCheckThreshold = belowUp
		nodes := tierNodes(10, 20, 30, 85, 86, 90, 91, 92, 93, 94)
		got := Decide(nodes, pol)

		headroom := 0
		for _, n := range nodes {
			if n.DiskUsedPercent < pol.UpThreshold {
				headroom++
			}
		}
		if headroom < belowUp && got.Kind != KindProvision {
			t.Errorf("belowUpCheckThreshold=%d: got %s, want provision", belowUp, got.Kind)
		}
	}
}

func TestDecideIsIdempotent(t *testing.T) {
	nodes := tierNodes(10, 20, 30, 40, 45, 50, 54, 70, 75, 78)
	pol := hotPolicy()
	first := Decide(nodes, pol)
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(first, Decide(nodes, pol)); diff != "" {
			t.Fatalf("Decide not idempotent (-first +repeat):\n%s", diff)
		}
	}
}

func TestGate(t *testing.T) {
	pol := hotPolicy()
	pol.Cooldown = "30m"
	now := time.Now()

	tests := []struct {
		name    string
		view    state.View
		blocked bool
	}{
		{
			name:    "clear tier acts",
			view:    state.View{Tier: "hot"},
			blocked: false,
		},
		{
			name: "pending operation blocks",
			view: state.View{
				Tier:     "hot",
				InFlight: &state.OperationRecord{ID: "op-1", Kind: state.KindProvision, Status: state.StatusPending},
			},
			blocked: true,
		},
		{
			name:    "inside cooldown blocks",
			view:    state.View{Tier: "hot", LastActionAt: now.Add(-10 * time.Minute)},
			blocked: true,
		},
		{
			name:    "cooldown expired acts",
			view:    state.View{Tier: "hot", LastActionAt: now.Add(-31 * time.Minute)},
			blocked: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, reason := Gate(tt.view, pol, config.DefaultCooldown, now)
			if blocked != tt.blocked {
				t.Errorf("Gate() blocked = %v (%s), want %v", blocked, reason, tt.blocked)
			}
			if blocked && reason == "" {
				t.Error("blocked gate should carry a reason")
			}
		})
	}
}

func TestGateUsesDefaultCooldown(t *testing.T) {
	pol := hotPolicy()
	pol.Cooldown = ""
	now := time.Now()
	view := state.View{Tier: "hot", LastActionAt: now.Add(-time.Minute)}

	if blocked, _ := Gate(view, pol, 10*time.Minute, now); !blocked {
		t.Error("tier should still be cooling down under the default cooldown")
	}
	if blocked, _ := Gate(view, pol, 30*time.Second, now); blocked {
		t.Error("tier should be clear once the default cooldown has passed")
	}
}

func TestEligibleForDecommission(t *testing.T) {
	pol := hotPolicy()
	nodes := tierNodes(10, 20, 70, 40)

	eligible := EligibleForDecommission(nodes, pol, []string{"hot-4"})
	var ids []string
	for _, n := range eligible {
		ids = append(ids, n.ID)
	}
	want := []string{"hot-1", "hot-2"}
	if diff := cmp.Diff(want, ids); diff != "" {
		t.Errorf("eligible mismatch (-want +got):\n%s", diff)
	}
}
