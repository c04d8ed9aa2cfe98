package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v5"

	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

const submitMaxTries = 3

// HTTPExecutor drives a JSON-over-HTTP job runner:
//
//	POST {base}/api/v1/jobs          -> 202 {"correlationId": "..."}
//	GET  {base}/api/v1/jobs/{id}     -> 200 {"state": "running|succeeded|failed"}
//
// Submissions retry transient transport failures with exponential backoff;
// the idempotency key keeps retries from double-submitting on the runner
// side. A 5xx after the body was sent is reported as ambiguous delivery.
type HTTPExecutor struct {
	baseURL string
	client  *http.Client
}

// NewHTTPExecutor builds an executor against the job runner base URL. A nil
// client uses http.DefaultClient.
func NewHTTPExecutor(baseURL string, client *http.Client) *HTTPExecutor {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPExecutor{baseURL: baseURL, client: client}
}

type jobSubmission struct {
	OperationKind  state.Kind        `json:"operationKind"`
	Tier           string            `json:"tier"`
	TargetNodes    []state.Target    `json:"targetNodes"`
	Parameters     map[string]string `json:"parameters,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

type jobAccepted struct {
	CorrelationID string `json:"correlationId"`
}

type jobStatusResponse struct {
	State string `json:"state"`
}

// SubmitJob implements Executor.
func (e *HTTPExecutor) SubmitJob(ctx context.Context, req JobRequest) (string, error) {
	body, err := json.Marshal(jobSubmission{
		OperationKind:  req.OperationKind,
		Tier:           req.Tier,
		TargetNodes:    req.TargetNodes,
		Parameters:     req.Parameters,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return "", fmt.Errorf("encoding job request: %w", err)
	}

	operation := func() (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
			e.baseURL+"/api/v1/jobs", bytes.NewReader(body))
		if err != nil {
			return "", backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Idempotency-Key", req.IdempotencyKey)

		resp, err := e.client.Do(httpReq)
		if err != nil {
			// Transport failure: retryable, the idempotency key guards
			// against a duplicate if the request did get through.
			return "", err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted:
			var accepted jobAccepted
			if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
				return "", backoff.Permanent(&AmbiguousDeliveryError{
					Err: fmt.Errorf("decoding accept response: %w", err),
				})
			}
			if accepted.CorrelationID == "" {
				return "", backoff.Permanent(&AmbiguousDeliveryError{
					Err: fmt.Errorf("runner accepted job without a correlation id"),
				})
			}
			return accepted.CorrelationID, nil
		case resp.StatusCode >= 500:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return "", backoff.Permanent(&AmbiguousDeliveryError{
				Err: fmt.Errorf("runner returned status %d: %s", resp.StatusCode, snippet),
			})
		default:
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
			return "", backoff.Permanent(fmt.Errorf("runner rejected job: status %d: %s", resp.StatusCode, snippet))
		}
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(submitMaxTries))
}

// JobStatus implements Executor. An unknown correlation id maps to
// JobStateUnknown rather than an error: the dispatcher decides what to do
// with it.
func (e *HTTPExecutor) JobStatus(ctx context.Context, correlationID string) (JobState, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.baseURL+"/api/v1/jobs/"+correlationID, nil)
	if err != nil {
		return JobStateUnknown, err
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return JobStateUnknown, fmt.Errorf("querying job %s: %w", correlationID, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return JobStateUnknown, nil
	}
	if resp.StatusCode != http.StatusOK {
		return JobStateUnknown, fmt.Errorf("job status query returned %d", resp.StatusCode)
	}

	var status jobStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return JobStateUnknown, fmt.Errorf("decoding job status: %w", err)
	}
	switch JobState(status.State) {
	case JobStateRunning, JobStateSucceeded, JobStateFailed:
		return JobState(status.State), nil
	default:
		return JobStateUnknown, nil
	}
}
