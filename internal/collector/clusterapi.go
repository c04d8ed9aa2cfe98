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
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// allocationRow is one node's entry in the cluster allocation response.
// DiskUsedPercent is null for nodes the cluster could not reach within its
// own collection window.
type allocationRow struct {
	Node            string   `json:"node"`
	Zone            string   `json:"zone"`
	DiskUsedPercent *float64 `json:"diskUsedPercent"`
}

// ClusterAPISource reads node allocation directly from the storage
// cluster's HTTP API instead of going through Prometheus.
type ClusterAPISource struct {
	baseURL string
	client  *http.Client
}

// NewClusterAPISource builds a source against the cluster API base URL. A
// nil client uses http.DefaultClient; per-call deadlines come from the
// request context either way.
func NewClusterAPISource(baseURL string, client *http.Client) *ClusterAPISource {
	if client == nil {
		client = http.DefaultClient
	}
	return &ClusterAPISource{baseURL: baseURL, client: client}
}

// Name implements NodeSource.
func (s *ClusterAPISource) Name() string { return "cluster-api" }

// Snapshot implements NodeSource.
func (s *ClusterAPISource) Snapshot(ctx context.Context, tier string) ([]NodeSnapshot, error) {
	u := fmt.Sprintf("%s/_nodes/allocation?tier=%s", s.baseURL, url.QueryEscape(tier))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMetricsUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: querying %s: %v", ErrMetricsUnavailable, s.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: allocation API returned status %d", ErrMetricsUnavailable, resp.StatusCode)
	}

	var rows []allocationRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: decoding allocation response: %v", ErrMetricsUnavailable, err)
	}

	var (
		snapshots   []NodeSnapshot
		unreachable []string
	)
	for _, row := range rows {
		if row.Node == "" {
			continue
		}
		if row.DiskUsedPercent == nil {
			unreachable = append(unreachable, row.Node)
			continue
		}
		snapshots = append(snapshots, NodeSnapshot{
			ID:              row.Node,
			Tier:            tier,
			Zone:            row.Zone,
			DiskUsedPercent: *row.DiskUsedPercent,
		})
	}
	SortByID(snapshots)

	if len(unreachable) > 0 {
		return snapshots, &PartialSnapshotError{Tier: tier, Unreachable: unreachable}
	}
	return snapshots, nil
}
