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

// Package collector provides per-node disk utilization snapshots for the
// tier autoscaler.
//
// # Architecture
//
// The package exposes a single pluggable interface, NodeSource:
//
//	nodes, err := source.Snapshot(ctx, "hot")
//
// and two backends:
//
//   - PromSource: membership from the scrape-health series plus a disk
//     usage PromQL query, evaluated at the same instant for a consistent
//     view.
//   - ClusterAPISource: a single GET against the storage cluster's own
//     allocation endpoint.
//
// # Failure semantics
//
// Snapshot degrades rather than fabricates:
//
//   - Total query failure wraps ErrMetricsUnavailable. The tier is skipped
//     for the cycle and retried on the next tick.
//   - Partial failure returns the reachable snapshots together with a
//     *PartialSnapshotError listing the unreachable node ids. Unreachable
//     nodes are excluded from all downstream counts: a node that cannot be
//     confirmed over-provisioned is never a decommission candidate, and the
//     control loop skips the tier entirely when the unreachable share
//     reaches the configured safety fraction.
//
// Both backends bound their work by the request context; the control loop
// applies a per-call timeout so one stalled source cannot delay other
// tiers.
package collector
