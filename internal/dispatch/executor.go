// Package dispatch submits provision and decommission operations to the
// external job runner and tracks them until they resolve. It owns the
// single-in-flight-per-tier invariant (built on state.Registry's
// check-and-set) and the operation timeout that keeps the loop from
// wedging on a lost job.
package dispatch

import (
	"context"
	"fmt"

	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// JobState is the external job runner's view of a submitted job.
type JobState string

const (
	JobStateRunning   JobState = "running"
	JobStateSucceeded JobState = "succeeded"
	JobStateFailed    JobState = "failed"
	// JobStateUnknown: the runner has no record of the correlation id.
	JobStateUnknown JobState = "unknown"
)

// JobRequest is the typed submission handed to the executor. The transport
// behind it (HTTP job runner, CLI wrapper, fake) is an injected capability.
type JobRequest struct {
	// OperationKind is "provision" or "decommission".
	OperationKind state.Kind

	// Tier the operation acts on.
	Tier string

	// TargetNodes are the nodes acted on, in order.
	TargetNodes []state.Target

	// Parameters are passed through to the runner verbatim.
	Parameters map[string]string

	// IdempotencyKey lets the runner deduplicate retried submissions. The
	// dispatcher sets it to the operation record id.
	IdempotencyKey string
}

// Executor is the capability interface to the external job runner.
type Executor interface {
	// SubmitJob submits a job and returns the runner's correlation id.
	// A failure to deliver where the job may nonetheless have been accepted
	// must be reported as an *AmbiguousDeliveryError.
	SubmitJob(ctx context.Context, req JobRequest) (string, error)

	// JobStatus reports the current state of a previously submitted job.
	JobStatus(ctx context.Context, correlationID string) (JobState, error)
}

// AmbiguousDeliveryError marks a submission failure where the request may
// have reached the runner (e.g., a 5xx after the body was sent). The
// dispatcher keeps the tier guarded until the operation timeout resolves
// the uncertainty instead of risking a duplicate mutation.
type AmbiguousDeliveryError struct {
	Err error
}

func (e *AmbiguousDeliveryError) Error() string {
	return fmt.Sprintf("job delivery ambiguous: %v", e.Err)
}

func (e *AmbiguousDeliveryError) Unwrap() error { return e.Err }
