/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package collector

import (
	"sort"
	"strconv"
	"strings"
)

// NodeSnapshot is the observed state of one storage node at poll time.
// Snapshots are produced fresh each cycle and never mutated after capture.
type NodeSnapshot struct {
	// ID is the node identifier (e.g., "hot-3").
	ID string

	// Tier is the capacity tier the node belongs to.
	Tier string

	// Zone is the availability zone the node runs in.
	Zone string

	// DiskUsedPercent is current disk utilization in [0, 100].
	DiskUsedPercent float64
}

// SortByID orders snapshots by numeric id suffix, then lexicographically.
// Deterministic ordering keeps selection and planning reproducible across
// runs with identical inputs.
func SortByID(nodes []NodeSnapshot) {
	sort.Slice(nodes, func(i, j int) bool {
		return CompareIDs(nodes[i].ID, nodes[j].ID) < 0
	})
}

// CompareIDs compares node ids by their trailing integer when both share a
// prefix ("hot-2" < "hot-10"), falling back to plain string comparison.
func CompareIDs(a, b string) int {
	pa, na, oka := splitID(a)
	pb, nb, okb := splitID(b)
	if oka && okb && pa == pb {
		switch {
		case na < nb:
			return -1
		case na > nb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// splitID splits "hot-12" into ("hot", 12, true). IDs without a numeric
// suffix return ok=false.
func splitID(id string) (prefix string, n int, ok bool) {
	i := strings.LastIndex(id, "-")
	if i < 0 || i == len(id)-1 {
		return id, 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return id, 0, false
	}
	return id[:i], n, true
}

// IDNumber returns the numeric suffix of a node id, or ok=false when the id
// does not follow the prefix-N convention.
func IDNumber(id string) (int, bool) {
	_, n, ok := splitID(id)
	return n, ok
}

// ZoneCounts tallies nodes per zone for one tier's snapshot.
func ZoneCounts(nodes []NodeSnapshot) map[string]int {
	counts := make(map[string]int)
	for _, n := range nodes {
		counts[n.Zone]++
	}
	return counts
}
