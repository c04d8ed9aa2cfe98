package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/syed-asak/es-tier-autoscaler/internal/logging"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

var (
	// ErrOperationInProgress is the expected concurrency-guard rejection: a
	// submission raced an operation already pending on the same tier. Not
	// an error to surface loudly.
	ErrOperationInProgress = errors.New("operation already in progress for tier")

	// ErrOperationTimeout indicates a pending operation exceeded the hard
	// timeout and was marked failed. The tier is released, but the true
	// external state is unknown: this warrants operator attention.
	ErrOperationTimeout = errors.New("operation timed out")
)

// OperationRequest asks the dispatcher to run one scaling operation.
type OperationRequest struct {
	Kind    state.Kind
	Tier    string
	Targets []state.Target

	// Reason is carried into logs only.
	Reason string
}

// Dispatcher mediates between the control loop and the executor. Exactly
// one operation per tier may be pending at a time.
type Dispatcher struct {
	executor   Executor
	states     *state.Registry
	parameters map[string]string
	timeout    time.Duration
	dryRun     bool
	now        func() time.Time
}

// NewDispatcher builds a dispatcher. parameters are included with every job
// submission; timeout is the hard bound on pending operations. With dryRun
// set, Submit logs the operation and returns a synthetic confirmed record
// without touching the executor or the tier state.
func NewDispatcher(executor Executor, states *state.Registry, parameters map[string]string, timeout time.Duration, dryRun bool) *Dispatcher {
	return &Dispatcher{
		executor:   executor,
		states:     states,
		parameters: parameters,
		timeout:    timeout,
		dryRun:     dryRun,
		now:        time.Now,
	}
}

// Submit creates an operation record for the request and hands it to the
// executor. Returns ErrOperationInProgress when the tier already has a
// pending operation.
//
// Cancellation semantics: if the executor reports a plain failure the tier
// is released (the request is treated as never sent); if delivery was
// ambiguous the record stays pending with no correlation id and is resolved
// by Poll, at the latest via the operation timeout.
func (d *Dispatcher) Submit(ctx context.Context, req OperationRequest) (*state.OperationRecord, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("tier", req.Tier, "kind", req.Kind)
	now := d.now()

	rec := &state.OperationRecord{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Tier:        req.Tier,
		Targets:     req.Targets,
		SubmittedAt: now,
		Status:      state.StatusPending,
	}

	if d.dryRun {
		logger.Info("dry run: would submit operation",
			"nodes", rec.TargetIDs(), "reason", req.Reason)
		out := *rec
		out.Status = state.StatusConfirmed
		out.CorrelationID = "dry-run"
		return &out, nil
	}

	if !d.states.Reserve(req.Tier, rec) {
		logger.V(logging.DEBUG).Info("submission rejected, operation already pending")
		return nil, fmt.Errorf("%w: %s", ErrOperationInProgress, req.Tier)
	}

	correlation, err := d.executor.SubmitJob(ctx, JobRequest{
		OperationKind:  req.Kind,
		Tier:           req.Tier,
		TargetNodes:    req.Targets,
		Parameters:     d.parameters,
		IdempotencyKey: rec.ID,
	})
	if err != nil {
		var ambiguous *AmbiguousDeliveryError
		if errors.As(err, &ambiguous) {
			// The job may have been accepted; keep the tier guarded until
			// Poll or the timeout settles it.
			logger.Info("job delivery ambiguous, holding tier until resolution",
				"operation", rec.ID, "error", err.Error())
			out := *rec
			return &out, nil
		}
		d.states.Release(req.Tier)
		return nil, fmt.Errorf("submitting %s for tier %s: %w", req.Kind, req.Tier, err)
	}

	d.states.SetCorrelation(req.Tier, correlation, now)
	logger.Info("operation submitted",
		"operation", rec.ID, "correlation", correlation, "nodes", rec.TargetIDs(), "reason", req.Reason)

	out := *rec
	out.CorrelationID = correlation
	return &out, nil
}

// Poll resolves the tier's pending operation, if any: confirmed or failed
// from executor feedback, or failed via the hard timeout (returned as
// ErrOperationTimeout so callers can surface it). A nil record with nil
// error means nothing was pending.
func (d *Dispatcher) Poll(ctx context.Context, tier string) (*state.OperationRecord, error) {
	logger := logr.FromContextOrDiscard(ctx).WithValues("tier", tier)
	now := d.now()

	view := d.states.View(tier)
	rec := view.InFlight
	if rec == nil {
		return nil, nil
	}

	if now.Sub(rec.SubmittedAt) > d.timeout {
		resolved := d.states.Resolve(tier, state.StatusFailed, now)
		return resolved, fmt.Errorf("%w: operation %s (%s) pending since %s",
			ErrOperationTimeout, rec.ID, rec.Kind, rec.SubmittedAt.Format(time.RFC3339))
	}

	if rec.CorrelationID == "" {
		// Ambiguous delivery: nothing to query yet, wait for the timeout.
		return rec, nil
	}

	jobState, err := d.executor.JobStatus(ctx, rec.CorrelationID)
	if err != nil {
		// Transient; the record stays pending and is retried next tick.
		return rec, fmt.Errorf("querying status of operation %s: %w", rec.ID, err)
	}

	switch jobState {
	case JobStateSucceeded:
		resolved := d.states.Resolve(tier, state.StatusConfirmed, now)
		logger.Info("operation confirmed", "operation", rec.ID, "kind", rec.Kind, "nodes", rec.TargetIDs())
		return resolved, nil
	case JobStateFailed:
		resolved := d.states.Resolve(tier, state.StatusFailed, now)
		logger.Info("operation failed", "operation", rec.ID, "kind", rec.Kind)
		return resolved, nil
	default:
		logger.V(logging.DEBUG).Info("operation still running", "operation", rec.ID, "state", jobState)
		return rec, nil
	}
}
