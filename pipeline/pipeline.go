// Package pipeline implements the Pipeline orchestrator described in spec.md §4.4: it
// composes an ActivityClassifier, an IntentCore, a SafetyGate, and an external execution
// adapter under a fixed stage order, folds every stage's output into a replay-parity
// fingerprint, publishes SystemEvent telemetry, and defensively degrades any stage that
// faults instead of propagating the fault.
package pipeline

import (
	"context"
	"fmt"

	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
	"github.com/tripwire-kernel/kernel/fingerprint"
	"github.com/tripwire-kernel/kernel/hooks"
	"github.com/tripwire-kernel/kernel/telemetry"
)

// component names used in ERROR telemetry records, per spec.md §8 boundary scenario 5.
const (
	componentActivity = "ActivityEngine"
	componentIntent   = "IntentEngine"
	componentSafety   = "SafetyGate"
	componentAdapter  = "ExecutionAdapter"
)

// Classifier is the narrow interface the Pipeline depends on for activity classification.
// activity.Classifier satisfies it; tests substitute doubles that return errors to exercise
// defensive degradation.
type Classifier interface {
	Process(event agentevent.AgentEvent) (agentevent.ActivityState, error)
}

// IntentEngine is the narrow interface the Pipeline depends on for intent decisions.
// intent.Core satisfies it.
type IntentEngine interface {
	Update(event agentevent.AgentEvent)
	Decide(state agentevent.ActivityState) (agentevent.IntentDecision, error)
}

// SafetyEngine is the narrow interface the Pipeline depends on for the veto gate.
// safety.Gate satisfies it.
type SafetyEngine interface {
	Evaluate(intent agentevent.IntentDecision, state agentevent.ActivityState) (agentevent.SafetyDecision, error)
	RecordEvent(tokens, toolCalls int)
}

// ExecutionAdapter is the external collaborator described in spec.md §6: called only when a
// SafetyDecision is allowed, and expected to honor context cancellation itself.
type ExecutionAdapter interface {
	Execute(ctx context.Context, decision agentevent.SafetyDecision, event agentevent.AgentEvent) (agentevent.ExecutionResult, error)
}

// Clock returns the current time in monotonic milliseconds.
type Clock func() int64

// Resettable is implemented by components that know how to return themselves to their
// initial state. Reset uses it opportunistically; components that don't implement it are
// simply left as-is (a fresh Pipeline is normally built from fresh components instead).
type Resettable interface {
	Reset()
}

// Result is the tuple produced by a single Process call.
type Result struct {
	State    agentevent.ActivityState
	Intent   agentevent.IntentDecision
	Decision agentevent.SafetyDecision
	Exec     agentevent.ExecutionResult
}

// Pipeline composes the four decision-pipeline components under the fixed order of
// spec.md §4.4. A Pipeline instance must not be entered re-entrantly; hosting multiple
// concurrent sessions means constructing one Pipeline per session.
type Pipeline struct {
	cfg   config.Config
	clock Clock

	classifier Classifier
	intent     IntentEngine
	safety     SafetyEngine
	adapter    ExecutionAdapter

	bus     hooks.Bus
	log     telemetry.Logger
	metrics telemetry.Metrics
	digest  *fingerprint.Digest
}

// New constructs a Pipeline from its four components and ambient collaborators. bus, log,
// and metrics may be nil, in which case telemetry publication and logging are skipped.
func New(cfg config.Config, clock Clock, classifier Classifier, intentEngine IntentEngine, safetyEngine SafetyEngine, adapter ExecutionAdapter, bus hooks.Bus, log telemetry.Logger, metrics telemetry.Metrics) *Pipeline {
	if log == nil {
		log = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	return &Pipeline{
		cfg:        cfg,
		clock:      clock,
		classifier: classifier,
		intent:     intentEngine,
		safety:     safetyEngine,
		adapter:    adapter,
		bus:        bus,
		log:        log,
		metrics:    metrics,
		digest:     fingerprint.New(),
	}
}

// Fingerprint returns the current hex-encoded replay-parity digest over every record folded
// so far.
func (p *Pipeline) Fingerprint() string {
	return p.digest.Sum()
}

// publish delivers an event to the bus if one is configured, logging (but not propagating)
// any subscriber error — telemetry is strictly downstream per spec.md §6 and must never
// affect a decision already made.
func (p *Pipeline) publish(ctx context.Context, event hooks.Event) {
	if p.bus == nil {
		return
	}
	if err := p.bus.Publish(ctx, event); err != nil {
		p.log.Warn(ctx, "telemetry publish failed", "error", err)
	}
}

// recordFault logs and counts a component fault immediately, but only queues its ERROR
// telemetry event rather than publishing it — §5 mandates ERROR last in a event's emission
// order, after EXECUTION, so callers flush pending via flushErrors once step 6 completes.
func (p *Pipeline) recordFault(ctx context.Context, now int64, component string, err error, pending *[]hooks.Event) {
	p.log.Error(ctx, "component fault", "component", component, "error", err)
	p.metrics.IncCounter("pipeline.component_fault", 1, "component", component)
	*pending = append(*pending, hooks.NewErrorEvent(now, component, err))
}

func (p *Pipeline) flushErrors(ctx context.Context, pending []hooks.Event) {
	for _, event := range pending {
		p.publish(ctx, event)
	}
}

// Process implements spec.md §4.4's process(event) algorithm: run the four stages in fixed
// order, defensively degrading any stage that faults, folding every produced record into
// the fingerprint and publishing telemetry in the strict order AGENT_EVENT, optional
// STATE_CHANGE, INTENT, EXECUTION, optional ERROR.
func (p *Pipeline) Process(ctx context.Context, event agentevent.AgentEvent) Result {
	now := p.clock()
	var pendingErrors []hooks.Event

	// Step 1: AGENT_EVENT.
	p.digest.FoldEvent(event)
	p.publish(ctx, hooks.NewAgentEventEvent(now, event))

	// Step 2: classifier, with defensive degradation to a forced-STOP synthetic state.
	previousState, hadPrevious := p.stateBefore()
	state, err := p.classifier.Process(event)
	if err != nil {
		state, _ = agentevent.NewActivityState(agentevent.IntensityHigh, agentevent.ModeRunaway, fmt.Sprintf("classifier fault: %v", err), now)
		p.recordFault(ctx, now, componentActivity, err, &pendingErrors)
	}
	if !hadPrevious || previousState.Mode != state.Mode || previousState.Intensity != state.Intensity {
		p.publish(ctx, hooks.NewStateChangeEvent(now, previousState, state))
	}

	// Step 3: intent core.
	p.intent.Update(event)
	intentDecision, err := p.intent.Decide(state)
	if err != nil {
		intentDecision, _ = agentevent.NewIntentDecision(agentevent.IntentPause, 0, fmt.Sprintf("intent core fault: %v", err), now)
		p.recordFault(ctx, now, componentIntent, err, &pendingErrors)
	}

	// Step 4: safety gate.
	decision, err := p.safety.Evaluate(intentDecision, state)
	if err != nil {
		// Built directly rather than via NewSafetyDecision: that constructor rejects
		// allowed=false paired with an empty VetoReason, but spec.md's degraded-gate
		// contract calls for exactly that combination here.
		decision = agentevent.SafetyDecision{
			Allowed:         false,
			RemainingBudget: 0,
			Reason:          fmt.Sprintf("SafetyGate error: %v", err),
			VetoReason:      "",
			Timestamp:       now,
		}
		p.recordFault(ctx, now, componentSafety, err, &pendingErrors)
	}
	p.safety.RecordEvent(event.TokenCount, event.ToolCalls)

	p.digest.FoldIntent(intentDecision)
	p.digest.FoldDecision(decision)
	p.publish(ctx, hooks.NewIntentEvent(now, intentDecision, decision))

	// Step 5: execution invariant.
	result := p.execute(ctx, decision, event, now, &pendingErrors)

	// Step 6: fold result, emit telemetry.
	p.digest.FoldResult(result)
	p.publish(ctx, hooks.NewExecutionEvent(now, result))

	// Step 7: any component faults are published last, per §5's per-event emission order.
	p.flushErrors(ctx, pendingErrors)

	p.metrics.IncCounter("pipeline.events_processed", 1)

	return Result{State: state, Intent: intentDecision, Decision: decision, Exec: result}
}

// execute implements spec.md §4.4 step 5: the adapter is contractually called only when
// decision.Allowed is true, and any fault it raises is degraded to a FAILED result rather
// than propagated.
func (p *Pipeline) execute(ctx context.Context, decision agentevent.SafetyDecision, event agentevent.AgentEvent, now int64, pending *[]hooks.Event) agentevent.ExecutionResult {
	if !decision.Allowed {
		return agentevent.ExecutionResult{Executed: false, Status: agentevent.ExecutionBlocked, Timestamp: now}
	}
	if p.adapter == nil {
		return agentevent.ExecutionResult{Executed: false, Status: agentevent.ExecutionBlocked, Timestamp: now}
	}
	result, err := p.adapter.Execute(ctx, decision, event)
	if err != nil {
		p.recordFault(ctx, now, componentAdapter, err, pending)
		return agentevent.ExecutionResult{Executed: false, Status: agentevent.ExecutionFailed, Timestamp: now}
	}
	return result
}

// stateBefore reports the classifier's state prior to the call about to be made, used only
// to decide whether a STATE_CHANGE telemetry record is due. It is best-effort: a Classifier
// that doesn't expose State() (e.g. a test double) is treated as having no prior state.
func (p *Pipeline) stateBefore() (agentevent.ActivityState, bool) {
	type stateReader interface {
		State() (agentevent.ActivityState, bool)
	}
	reader, ok := p.classifier.(stateReader)
	if !ok {
		return agentevent.ActivityState{}, false
	}
	return reader.State()
}

// Run implements spec.md §4.4's run(events) algorithm: process every event in order and
// return the collected results alongside the final fingerprint.
func (p *Pipeline) Run(ctx context.Context, events []agentevent.AgentEvent) ([]Result, string) {
	results := make([]Result, 0, len(events))
	for _, event := range events {
		results = append(results, p.Process(ctx, event))
	}
	return results, p.Fingerprint()
}

// Reset implements spec.md §4.4's reset(): reset every component that supports it and
// re-initialize the fingerprint. Components with no meaningful reset (e.g. a stateless
// adapter) are left untouched.
func (p *Pipeline) Reset() {
	if r, ok := p.classifier.(Resettable); ok {
		r.Reset()
	}
	if r, ok := p.intent.(Resettable); ok {
		r.Reset()
	}
	if r, ok := p.safety.(Resettable); ok {
		r.Reset()
	}
	p.digest = fingerprint.New()
}
