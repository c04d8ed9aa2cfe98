// Package health is the optional node health confirmation collaborator:
// after a provision is confirmed, new nodes stay on probation (excluded
// from decommission counting) until the checker reports them healthy. With
// no checker configured, new nodes are immediately eligible.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Checker reports whether a node has joined the cluster and is serving.
type Checker interface {
	Healthy(ctx context.Context, nodeID string) (bool, error)
}

// HTTPChecker queries a health endpoint per node:
//
//	GET {base}/health/{node} -> 200 {"healthy": true|false}
//
// A 404 means the node has not registered yet and is treated as not
// healthy, not as an error.
type HTTPChecker struct {
	baseURL string
	client  *http.Client
}

// NewHTTPChecker builds a checker against the health base URL. A nil client
// uses http.DefaultClient.
func NewHTTPChecker(baseURL string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPChecker{baseURL: baseURL, client: client}
}

// Healthy implements Checker.
func (c *HTTPChecker) Healthy(ctx context.Context, nodeID string) (bool, error) {
	u := c.baseURL + "/health/" + url.PathEscape(nodeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("checking health of %s: %w", nodeID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("health check for %s returned %d", nodeID, resp.StatusCode)
	}

	var body struct {
		Healthy bool `json:"healthy"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, fmt.Errorf("decoding health response for %s: %w", nodeID, err)
	}
	return body.Healthy, nil
}
