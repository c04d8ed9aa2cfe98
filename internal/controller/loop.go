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

package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/syed-asak/es-tier-autoscaler/internal/actuator"
	"github.com/syed-asak/es-tier-autoscaler/internal/collector"
	"github.com/syed-asak/es-tier-autoscaler/internal/config"
	"github.com/syed-asak/es-tier-autoscaler/internal/dispatch"
	"github.com/syed-asak/es-tier-autoscaler/internal/engines/decider"
	"github.com/syed-asak/es-tier-autoscaler/internal/engines/placement"
	"github.com/syed-asak/es-tier-autoscaler/internal/health"
	"github.com/syed-asak/es-tier-autoscaler/internal/logging"
	"github.com/syed-asak/es-tier-autoscaler/internal/state"
)

// Options carries the loop-level timings.
type Options struct {
	// PollInterval between ticks. Independent of per-tier cooldowns.
	PollInterval time.Duration

	// CallTimeout bounds each metrics, executor and health call so one
	// stalled tier cannot delay the others indefinitely.
	CallTimeout time.Duration

	// DefaultCooldown applies to tiers without their own cooldown.
	DefaultCooldown time.Duration

	// SafetyFraction: skip a tier when the unreachable share of its nodes
	// reaches this fraction. 3 unreachable of 10 at 0.30 skips.
	SafetyFraction float64
}

// Loop is the control loop: it ticks at a fixed interval and runs one
// evaluation cycle per tier per tick, tiers in parallel.
type Loop struct {
	source     collector.NodeSource
	dispatcher *dispatch.Dispatcher
	states     *state.Registry
	policies   []config.TierPolicy
	emitter    *actuator.Emitter
	checker    health.Checker
	opts       Options
	now        func() time.Time
}

// New assembles a Loop. checker may be nil; then newly provisioned nodes
// are immediately eligible for decommission counting.
func New(source collector.NodeSource, dispatcher *dispatch.Dispatcher, states *state.Registry,
	policies []config.TierPolicy, emitter *actuator.Emitter, checker health.Checker, opts Options) *Loop {
	return &Loop{
		source:     source,
		dispatcher: dispatcher,
		states:     states,
		policies:   policies,
		emitter:    emitter,
		checker:    checker,
		opts:       opts,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled. The first evaluation happens
// immediately rather than one interval in. Run only returns on shutdown;
// no tier failure is fatal.
func (l *Loop) Run(ctx context.Context) error {
	logger := logr.FromContextOrDiscard(ctx)
	logger.Info("control loop starting",
		"tiers", len(l.policies), "pollInterval", l.opts.PollInterval, "source", l.source.Name())

	ticker := time.NewTicker(l.opts.PollInterval)
	defer ticker.Stop()

	l.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("control loop stopping")
			return nil
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

// tick evaluates every tier concurrently. Tiers never share mutable state,
// so the only coordination is waiting for all of them before the next tick.
func (l *Loop) tick(ctx context.Context) {
	logger := logr.FromContextOrDiscard(ctx)

	g := new(errgroup.Group)
	for _, pol := range l.policies {
		g.Go(func() error {
			if err := l.evaluateTier(ctx, pol); err != nil && ctx.Err() == nil {
				logger.Error(err, "tier evaluation failed", "tier", pol.Tier)
			}
			// A tier's failure never stops the other tiers.
			return nil
		})
	}
	_ = g.Wait()
}

// evaluateTier runs one Polling -> Deciding -> Dispatching cycle for a
// tier. It short-circuits at Deciding while an operation is pending or the
// tier is cooling down.
func (l *Loop) evaluateTier(ctx context.Context, pol config.TierPolicy) error {
	logger := logr.FromContextOrDiscard(ctx).WithValues("tier", pol.Tier)
	ctx = logr.NewContext(ctx, logger)
	now := l.now()

	// Polling.
	snapCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	nodes, err := l.source.Snapshot(snapCtx, pol.Tier)
	cancel()

	var partial *collector.PartialSnapshotError
	unreachable := 0
	switch {
	case errors.As(err, &partial):
		unreachable = len(partial.Unreachable)
		total := len(nodes) + unreachable
		l.emitter.SetTierNodes(pol.Tier, len(nodes), unreachable)
		if total > 0 && float64(unreachable)/float64(total) >= l.opts.SafetyFraction {
			l.emitter.ObserveSkip(pol.Tier, actuator.SkipUnreachable)
			logger.Info("skipping tier, too many unreachable nodes",
				"unreachable", unreachable, "total", total, "safetyFraction", l.opts.SafetyFraction)
			return nil
		}
	case err != nil:
		l.emitter.ObserveSkip(pol.Tier, actuator.SkipMetricsUnavailable)
		return fmt.Errorf("snapshot: %w", err)
	default:
		l.emitter.SetTierNodes(pol.Tier, len(nodes), 0)
	}

	// Resolve any pending operation first: a confirmation or failure this
	// tick releases the tier before the gate below looks at it.
	l.resolvePending(ctx, pol.Tier)
	l.refreshProbation(ctx, pol.Tier)

	// Deciding.
	view := l.states.View(pol.Tier)
	if blocked, reason := decider.Gate(view, pol, l.opts.DefaultCooldown, now); blocked {
		l.emitter.ObserveSkip(pol.Tier, actuator.SkipGated)
		logger.V(logging.DEBUG).Info("tier gated", "reason", reason)
		return nil
	}

	action := decider.Decide(nodes, pol)
	l.emitter.ObserveDecision(pol.Tier, string(action.Kind))
	if action.Kind == decider.KindNone {
		logger.V(logging.DEBUG).Info("no action", "nodes", len(nodes))
		return nil
	}
	logger.Info("scaling decision", "action", action.Kind, "count", action.Count, "reason", action.Reason)

	// Dispatching.
	var req dispatch.OperationRequest
	switch action.Kind {
	case decider.KindDecommission:
		eligible := decider.EligibleForDecommission(nodes, pol, view.Probation)
		sel, err := placement.SelectDecommission(nodes, eligible, action.Count, pol.MinPerZone)
		if err != nil {
			if errors.Is(err, placement.ErrPlacementInfeasible) {
				l.emitter.ObserveSkip(pol.Tier, actuator.SkipInfeasible)
				logger.Info("no valid decommission selection", "error", err.Error())
				return nil
			}
			return fmt.Errorf("selecting decommission candidates: %w", err)
		}
		if sel.Shortfall > 0 {
			l.emitter.ObserveShortfall(pol.Tier, sel.Shortfall)
			logger.Info("zone floor trimmed decommission selection",
				"requested", action.Count, "selected", len(sel.Targets))
		}
		req = dispatch.OperationRequest{
			Kind: state.KindDecommission, Tier: pol.Tier, Targets: sel.Targets, Reason: action.Reason,
		}
	case decider.KindProvision:
		var extraUsed []string
		if partial != nil {
			// Unreachable nodes still exist; never reuse their numbers.
			extraUsed = partial.Unreachable
		}
		targets := placement.PlanProvision(nodes, extraUsed, pol, action.Count)
		req = dispatch.OperationRequest{
			Kind: state.KindProvision, Tier: pol.Tier, Targets: targets, Reason: action.Reason,
		}
	}

	subCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	rec, err := l.dispatcher.Submit(subCtx, req)
	cancel()
	if err != nil {
		if errors.Is(err, dispatch.ErrOperationInProgress) {
			logger.V(logging.DEBUG).Info("submission lost the per-tier race")
			return nil
		}
		return fmt.Errorf("submitting operation: %w", err)
	}
	if rec.Status == state.StatusPending {
		l.emitter.ObserveOperation(pol.Tier, string(req.Kind), actuator.OutcomeSubmitted)
	}
	return nil
}

// resolvePending polls the tier's in-flight operation, emitting outcome
// metrics. Timeouts are surfaced prominently: the tier is released but the
// true external state is unknown.
func (l *Loop) resolvePending(ctx context.Context, tier string) {
	logger := logr.FromContextOrDiscard(ctx)

	pollCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
	resolved, err := l.dispatcher.Poll(pollCtx, tier)
	cancel()

	switch {
	case errors.Is(err, dispatch.ErrOperationTimeout):
		if resolved != nil {
			l.emitter.ObserveOperation(tier, string(resolved.Kind), actuator.OutcomeTimedOut)
		}
		logger.Error(err, "operation timed out, tier released; external state unknown")
	case err != nil:
		logger.V(logging.DEBUG).Info("pending operation not resolved this tick", "error", err.Error())
	case resolved != nil && resolved.Status == state.StatusConfirmed:
		l.emitter.ObserveOperation(tier, string(resolved.Kind), actuator.OutcomeConfirmed)
	case resolved != nil && resolved.Status == state.StatusFailed:
		l.emitter.ObserveOperation(tier, string(resolved.Kind), actuator.OutcomeFailed)
	}
}

// refreshProbation asks the health checker about each provisioned node
// still on probation and clears the ones that have come up healthy. With
// no checker configured, probation is a no-op.
func (l *Loop) refreshProbation(ctx context.Context, tier string) {
	if l.checker == nil {
		l.states.ClearAllProbation(tier)
		return
	}
	logger := logr.FromContextOrDiscard(ctx)
	for _, id := range l.states.View(tier).Probation {
		hCtx, cancel := context.WithTimeout(ctx, l.opts.CallTimeout)
		healthy, err := l.checker.Healthy(hCtx, id)
		cancel()
		if err != nil {
			logger.V(logging.DEBUG).Info("health check failed, node stays on probation",
				"node", id, "error", err.Error())
			continue
		}
		if healthy {
			l.states.ClearProbation(tier, id)
		}
	}
}
