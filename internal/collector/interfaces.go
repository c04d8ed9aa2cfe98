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
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMetricsUnavailable indicates the underlying metrics query could not
// complete at all within its deadline. Transient: the tier is skipped this
// cycle and retried on the next tick.
var ErrMetricsUnavailable = errors.New("metrics unavailable")

// PartialSnapshotError reports a snapshot where some nodes could not be
// queried. The reachable snapshots are still returned alongside this error;
// callers decide whether the unreachable fraction is tolerable.
type PartialSnapshotError struct {
	// Tier is the tier the snapshot was taken for.
	Tier string

	// Unreachable lists the node ids that failed to report.
	Unreachable []string
}

func (e *PartialSnapshotError) Error() string {
	return fmt.Sprintf("partial snapshot for tier %q: %d unreachable nodes (%s)",
		e.Tier, len(e.Unreachable), strings.Join(e.Unreachable, ", "))
}

// NodeSource is the pluggable source of per-node disk utilization and
// tier/zone membership. Implementations include PromSource (Prometheus
// queries) and ClusterAPISource (the storage cluster's own allocation API).
//
// Snapshot must return a consistent view: all nodes queried within one short
// window, bounded by the context deadline. Total failure returns an error
// wrapping ErrMetricsUnavailable; partial failure returns the reachable
// nodes together with a *PartialSnapshotError.
type NodeSource interface {
	// Name returns the unique name of this source (e.g., "prometheus").
	Name() string

	// Snapshot returns current per-node snapshots for the given tier.
	Snapshot(ctx context.Context, tier string) ([]NodeSnapshot, error)
}
