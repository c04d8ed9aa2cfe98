package state

import (
	"sync"
	"time"
)

// View is a read-only copy of one tier's control state.
type View struct {
	// Tier name.
	Tier string

	// LastActionAt is when the last operation on this tier was confirmed.
	// Zero if no action has completed yet.
	LastActionAt time.Time

	// InFlight is a copy of the pending operation record, nil when none.
	InFlight *OperationRecord

	// Probation lists provisioned nodes not yet confirmed healthy. They are
	// excluded from decommission eligibility.
	Probation []string
}

// tierState is one tier's guarded mutable state.
type tierState struct {
	mu           sync.Mutex
	tier         string
	lastActionAt time.Time
	inFlight     *OperationRecord
	probation    map[string]bool
}

// Registry is the arena of per-tier state records, indexed by tier name.
// The tier set is fixed at construction; all mutation goes through Registry
// methods under the owning tier's lock.
type Registry struct {
	tiers map[string]*tierState
}

// NewRegistry creates a registry for the given tier names.
func NewRegistry(tiers []string) *Registry {
	m := make(map[string]*tierState, len(tiers))
	for _, t := range tiers {
		m[t] = &tierState{tier: t, probation: make(map[string]bool)}
	}
	return &Registry{tiers: m}
}

// Reserve installs rec as the tier's in-flight operation if and only if
// none is pending. Returns false when another operation already holds the
// tier; this is the check-and-set behind the single-in-flight invariant.
func (r *Registry) Reserve(tier string, rec *OperationRecord) bool {
	ts, ok := r.tiers[tier]
	if !ok {
		return false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.inFlight != nil {
		return false
	}
	ts.inFlight = rec
	return true
}

// Release clears the in-flight slot without recording an action. Used when
// a submission was abandoned before the executor acknowledged it.
func (r *Registry) Release(tier string) {
	ts, ok := r.tiers[tier]
	if !ok {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.inFlight = nil
}

// SetCorrelation records the executor's correlation id and submission time
// on the tier's in-flight record.
func (r *Registry) SetCorrelation(tier, correlationID string, submittedAt time.Time) {
	ts, ok := r.tiers[tier]
	if !ok {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.inFlight == nil {
		return
	}
	ts.inFlight.CorrelationID = correlationID
	ts.inFlight.SubmittedAt = submittedAt
}

// Resolve finishes the tier's in-flight operation with the given status and
// clears the slot. A confirmed operation updates LastActionAt, starting the
// cooldown window. Returns a copy of the resolved record, nil when nothing
// was pending.
func (r *Registry) Resolve(tier string, status Status, now time.Time) *OperationRecord {
	ts, ok := r.tiers[tier]
	if !ok {
		return nil
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if ts.inFlight == nil {
		return nil
	}
	rec := *ts.inFlight
	rec.Status = status
	ts.inFlight = nil
	if status == StatusConfirmed {
		ts.lastActionAt = now
		if rec.Kind == KindProvision {
			for _, t := range rec.Targets {
				ts.probation[t.ID] = true
			}
		}
	}
	return &rec
}

// ClearProbation removes a node from the tier's probation set once it has
// been confirmed healthy.
func (r *Registry) ClearProbation(tier, nodeID string) {
	ts, ok := r.tiers[tier]
	if !ok {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	delete(ts.probation, nodeID)
}

// ClearAllProbation empties the tier's probation set. Used when no health
// checker is configured: new nodes are immediately eligible.
func (r *Registry) ClearAllProbation(tier string) {
	ts, ok := r.tiers[tier]
	if !ok {
		return
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.probation = make(map[string]bool)
}

// View returns a consistent read-only copy of the tier's state.
func (r *Registry) View(tier string) View {
	ts, ok := r.tiers[tier]
	if !ok {
		return View{Tier: tier}
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	v := View{Tier: tier, LastActionAt: ts.lastActionAt}
	if ts.inFlight != nil {
		rec := *ts.inFlight
		v.InFlight = &rec
	}
	for id := range ts.probation {
		v.Probation = append(v.Probation, id)
	}
	return v
}

// Tiers returns the registered tier names.
func (r *Registry) Tiers() []string {
	names := make([]string, 0, len(r.tiers))
	for t := range r.tiers {
		names = append(names, t)
	}
	return names
}
