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

package e2e

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// nodeRow mirrors the cluster allocation API wire format: a nil disk value
// marks a node the cluster could not reach.
type nodeRow struct {
	Node            string   `json:"node"`
	Zone            string   `json:"zone"`
	DiskUsedPercent *float64 `json:"diskUsedPercent"`
}

type jobSubmission struct {
	OperationKind  state.Kind        `json:"operationKind"`
	Tier           string            `json:"tier"`
	TargetNodes    []state.Target    `json:"targetNodes"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// fakeCluster is an in-memory storage cluster exposing the allocation API
// and the job runner API on one HTTP server. Accepted jobs are applied to
// the node table immediately and report succeeded; new nodes come up almost
// empty, giving scale-up cycles a natural convergence point.
type fakeCluster struct {
	mu     sync.Mutex
	nodes  map[string][]nodeRow
	jobs   map[string]string
	byKey  map[string]string
	server *httptest.Server

	newNodeUsage float64
}

func newFakeCluster() *fakeCluster {
	c := &fakeCluster{
		nodes:        map[string][]nodeRow{},
		jobs:         map[string]string{},
		byKey:        map[string]string{},
		newNodeUsage: 10,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/_nodes/allocation", c.handleAllocation)
	mux.HandleFunc("/api/v1/jobs", c.handleSubmit)
	mux.HandleFunc("/api/v1/jobs/", c.handleStatus)
	c.server = httptest.NewServer(mux)
	return c
}

func (c *fakeCluster) close() { c.server.Close() }

func (c *fakeCluster) url() string { return c.server.URL }

func (c *fakeCluster) addNode(tier, id, zone string, used float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[tier] = append(c.nodes[tier], nodeRow{Node: id, Zone: zone, DiskUsedPercent: &used})
}

func (c *fakeCluster) addUnreachableNode(tier, id, zone string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[tier] = append(c.nodes[tier], nodeRow{Node: id, Zone: zone})
}

func (c *fakeCluster) tierNodes(tier string) []nodeRow {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]nodeRow, len(c.nodes[tier]))
	copy(out, c.nodes[tier])
	return out
}

func (c *fakeCluster) tierIDs(tier string) []string {
	rows := c.tierNodes(tier)
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.Node)
	}
	return ids
}

func (c *fakeCluster) zoneCount(tier, zone string) int {
	n := 0
	for _, r := range c.tierNodes(tier) {
		if r.Zone == zone {
			n++
		}
	}
	return n
}

func (c *fakeCluster) jobCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs)
}

func (c *fakeCluster) handleAllocation(w http.ResponseWriter, r *http.Request) {
	tier := r.URL.Query().Get("tier")
	rows := c.tierNodes(tier)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rows)
}

func (c *fakeCluster) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var sub jobSubmission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Idempotent: a retried submission returns the original correlation id
	// without re-applying the job.
	if id, ok := c.byKey[sub.IdempotencyKey]; ok {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"correlationId": id})
		return
	}

	c.apply(sub)
	id := uuid.NewString()
	c.jobs[id] = "succeeded"
	c.byKey[sub.IdempotencyKey] = id

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"correlationId": id})
}

// apply mutates the node table under c.mu.
func (c *fakeCluster) apply(sub jobSubmission) {
	switch sub.OperationKind {
	case state.KindProvision:
		for _, t := range sub.TargetNodes {
			used := c.newNodeUsage
			c.nodes[sub.Tier] = append(c.nodes[sub.Tier],
				nodeRow{Node: t.ID, Zone: t.Zone, DiskUsedPercent: &used})
		}
	case state.KindDecommission:
		remove := map[string]bool{}
		for _, t := range sub.TargetNodes {
			remove[t.ID] = true
		}
		kept := c.nodes[sub.Tier][:0]
		for _, row := range c.nodes[sub.Tier] {
			if !remove[row.Node] {
				kept = append(kept, row)
			}
		}
		c.nodes[sub.Tier] = kept
	}
}

func (c *fakeCluster) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/")
	c.mu.Lock()
	jobState, ok := c.jobs[id]
	c.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"state": jobState})
}
