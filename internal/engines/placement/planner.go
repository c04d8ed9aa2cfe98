// Package placement turns scaling decisions into concrete node targets:
// which nodes to decommission without unbalancing zones, and which ids and
// zones new nodes should get. All functions are pure and deterministic so
// identical snapshots always produce identical plans.
package placement

import (
	"errors"
	"fmt"

	"github.com/syed-asak/es-tier-autoscaler/internal/collector"
	"github.com/syed-asak/es-tier-autoscaler/internal/config"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// ErrPlacementInfeasible indicates no valid selection exists at all, e.g.
// the zone floor rules out every candidate. The cycle takes no action.
var ErrPlacementInfeasible = errors.New("placement infeasible")

// Selection is the outcome of a decommission selection.
type Selection struct {
	// Targets are the chosen nodes, in removal order.
	Targets []state.Target

	// Shortfall is how many fewer nodes were selected than requested
	// because the zone floor would otherwise be violated. A non-zero
	// shortfall is a logged deviation, not an error.
	Shortfall int
}

// SelectDecommission picks count nodes to remove from the eligible set,
// maximizing remaining zone balance: each pick comes from the most
// populated zone still above the floor, and zone ties resolve to the
// numerically highest node id. all is the full reachable snapshot of the
// tier (zone populations are counted against it); eligible is the subset
// that qualifies for removal.
func SelectDecommission(all, eligible []collector.NodeSnapshot, count, floor int) (Selection, error) {
	if count <= 0 {
		return Selection{}, fmt.Errorf("%w: requested count %d", ErrPlacementInfeasible, count)
	}

	zoneCount := collector.ZoneCounts(all)

	// Candidates per zone, kept sorted so the highest id is last.
	byZone := make(map[string][]collector.NodeSnapshot)
	for _, n := range eligible {
		byZone[n.Zone] = append(byZone[n.Zone], n)
	}
	for z := range byZone {
		collector.SortByID(byZone[z])
	}

	var targets []state.Target
	for len(targets) < count {
		zone := pickZone(byZone, zoneCount, floor)
		if zone == "" {
			break
		}
		cands := byZone[zone]
		picked := cands[len(cands)-1]
		byZone[zone] = cands[:len(cands)-1]
		zoneCount[zone]--
		targets = append(targets, state.Target{ID: picked.ID, Zone: picked.Zone})
	}

	if len(targets) == 0 {
		return Selection{}, fmt.Errorf("%w: zone floor %d blocks every candidate", ErrPlacementInfeasible, floor)
	}
	return Selection{Targets: targets, Shortfall: count - len(targets)}, nil
}

// pickZone returns the zone to take the next removal from: the most
// populated zone that still has candidates and sits above the floor. When
// several zones tie on population, the one holding the numerically highest
// candidate id wins, keeping selection reproducible.
func pickZone(byZone map[string][]collector.NodeSnapshot, zoneCount map[string]int, floor int) string {
	best := ""
	bestCount := -1
	bestID := ""
	for zone, cands := range byZone {
		if len(cands) == 0 || zoneCount[zone] <= floor {
			continue
		}
		top := cands[len(cands)-1].ID
		if zoneCount[zone] > bestCount ||
			(zoneCount[zone] == bestCount && collector.CompareIDs(top, bestID) > 0) {
			best = zone
			bestCount = zoneCount[zone]
			bestID = top
		}
	}
	return best
}

// PlanProvision computes the target ids and zones for count new nodes. Ids
// follow the tier's prefix-N convention with gap-free lowest-available
// numbering; extraUsed carries ids that exist but are missing from the
// snapshot (unreachable nodes, in-flight provisions) so their numbers are
// never reused. Zones are assigned one node at a time to the currently
// least populated policy zone, ties resolving in policy order, pulling the
// tier back toward even distribution.
func PlanProvision(existing []collector.NodeSnapshot, extraUsed []string, pol config.TierPolicy, count int) []state.Target {
	if count <= 0 {
		return nil
	}

	used := make(map[int]bool)
	markUsed := func(id string) {
		if n, ok := collector.IDNumber(id); ok {
			used[n] = true
		}
	}
	for _, n := range existing {
		markUsed(n.ID)
	}
	for _, id := range extraUsed {
		markUsed(id)
	}

	zoneCount := make(map[string]int, len(pol.Zones))
	for _, z := range pol.Zones {
		zoneCount[z] = 0
	}
	for _, n := range existing {
		if _, ok := zoneCount[n.Zone]; ok {
			zoneCount[n.Zone]++
		}
	}

	targets := make([]state.Target, 0, count)
	next := 1
	for len(targets) < count {
		for used[next] {
			next++
		}
		used[next] = true

		zone := pol.Zones[0]
		for _, z := range pol.Zones[1:] {
			if zoneCount[z] < zoneCount[zone] {
				zone = z
			}
		}
		zoneCount[zone]++

		targets = append(targets, state.Target{
			ID:   fmt.Sprintf("%s-%d", pol.NodePrefix, next),
			Zone: zone,
		})
	}
	return targets
}
