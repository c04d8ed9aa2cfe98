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
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"

	"github.com/syed-asak/es-tier-autoscaler/internal/logging"
)

// Query templates may reference $TIER, replaced with the tier name at query
// time. Both must yield one sample per node carrying "node" and "zone"
// labels.
const (
	defaultMembershipQuery = `up{job="storage-nodes",tier="$TIER"}`
	defaultDiskUsageQuery  = `100 * (1 - node_filesystem_avail_bytes{job="storage-nodes",tier="$TIER",mountpoint="/data"}` +
		` / node_filesystem_size_bytes{job="storage-nodes",tier="$TIER",mountpoint="/data"})`
)

// PromSource reads node membership and disk utilization from Prometheus.
//
// Membership comes from the scrape-health series: a node that exists but
// fails to report (up == 0, or missing from the disk usage vector) is
// unreachable, which surfaces as a PartialSnapshotError rather than a
// fabricated utilization value.
type PromSource struct {
	api             promv1.API
	membershipQuery string
	diskUsageQuery  string
}

// NewPromSource builds a PromSource against the given Prometheus base URL.
// Empty query strings select the built-in defaults.
func NewPromSource(url, membershipQuery, diskUsageQuery string) (*PromSource, error) {
	client, err := api.NewClient(api.Config{Address: url})
	if err != nil {
		return nil, fmt.Errorf("creating prometheus client: %w", err)
	}
	if membershipQuery == "" {
		membershipQuery = defaultMembershipQuery
	}
	if diskUsageQuery == "" {
		diskUsageQuery = defaultDiskUsageQuery
	}
	return &PromSource{
		api:             promv1.NewAPI(client),
		membershipQuery: membershipQuery,
		diskUsageQuery:  diskUsageQuery,
	}, nil
}

// Name implements NodeSource.
func (s *PromSource) Name() string { return "prometheus" }

// Snapshot implements NodeSource. Both queries are evaluated at the same
// instant so the view is consistent within the cycle.
func (s *PromSource) Snapshot(ctx context.Context, tier string) ([]NodeSnapshot, error) {
	logger := logr.FromContextOrDiscard(ctx)
	ts := time.Now()

	members, err := s.queryVector(ctx, s.membershipQuery, tier, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: membership query for tier %q: %v", ErrMetricsUnavailable, tier, err)
	}
	usage, err := s.queryVector(ctx, s.diskUsageQuery, tier, ts)
	if err != nil {
		return nil, fmt.Errorf("%w: disk usage query for tier %q: %v", ErrMetricsUnavailable, tier, err)
	}

	usageByNode := make(map[string]float64, len(usage))
	for _, sample := range usage {
		usageByNode[string(sample.Metric["node"])] = float64(sample.Value)
	}

	var (
		snapshots   []NodeSnapshot
		unreachable []string
	)
	for _, sample := range members {
		node := string(sample.Metric["node"])
		if node == "" {
			continue
		}
		used, reported := usageByNode[node]
		if sample.Value == 0 || !reported {
			unreachable = append(unreachable, node)
			continue
		}
		snapshots = append(snapshots, NodeSnapshot{
			ID:              node,
			Tier:            tier,
			Zone:            string(sample.Metric["zone"]),
			DiskUsedPercent: used,
		})
	}
	SortByID(snapshots)

	if len(unreachable) > 0 {
		logger.V(logging.DEBUG).Info("snapshot has unreachable nodes",
			"tier", tier, "unreachable", unreachable)
		return snapshots, &PartialSnapshotError{Tier: tier, Unreachable: unreachable}
	}
	return snapshots, nil
}

func (s *PromSource) queryVector(ctx context.Context, query, tier string, ts time.Time) (model.Vector, error) {
	q := strings.ReplaceAll(query, "$TIER", tier)
	result, warnings, err := s.api.Query(ctx, q, ts)
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		logr.FromContextOrDiscard(ctx).V(logging.DEBUG).Info("prometheus query warnings",
			"query", q, "warnings", warnings)
	}
	vector, ok := result.(model.Vector)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %s for query %q", result.Type(), q)
	}
	return vector, nil
}
