// Package state holds the mutable per-tier control state: the last
// completed action timestamp, the in-flight operation record, and the
// probation set of newly provisioned nodes. Each tier's state sits behind
// its own lock so tiers can be evaluated concurrently without sharing
// anything mutable.
package state

import (
	"time"
)

// Kind is the kind of a scaling operation.
type Kind string

const (
	KindProvision    Kind = "provision"
	KindDecommission Kind = "decommission"
)

// Status is the lifecycle state of a submitted operation.
type Status string

const (
	// StatusPending: submitted, not yet confirmed or failed.
	StatusPending Status = "pending"
	// StatusConfirmed: the executor reported success.
	StatusConfirmed Status = "confirmed"
	// StatusFailed: the executor reported failure, or the operation timed
	// out with its true external state unknown.
	StatusFailed Status = "failed"
)

// Target is one node an operation acts on.
type Target struct {
	// ID is the node identifier.
	ID string
	// Zone is the availability zone (set for provision targets; echoed for
	// decommission targets).
	Zone string
}

// OperationRecord describes one submitted provision or decommission
// operation. At most one record per tier may be Pending at any time; that
// invariant is enforced by Registry.Reserve.
type OperationRecord struct {
	// ID is the internal record id, also used as the idempotency key on
	// submission.
	ID string

	// Kind is provision or decommission.
	Kind Kind

	// Tier the operation acts on.
	Tier string

	// Targets are the nodes acted on, in submission order.
	Targets []Target

	// CorrelationID is the external job runner's id for this operation.
	// Empty until the executor acknowledges the submission.
	CorrelationID string

	// SubmittedAt is when the request was handed to the executor.
	SubmittedAt time.Time

	// Status is the current lifecycle state.
	Status Status
}

// TargetIDs returns the target node ids in order.
func (r *OperationRecord) TargetIDs() []string {
	ids := make([]string, len(r.Targets))
	for i, t := range r.Targets {
		ids[i] = t.ID
	}
	return ids
}
