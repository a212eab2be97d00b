// Package adapter provides reference implementations of pipeline.ExecutionAdapter, the
// external collaborator spec.md §6 says is "contractually called only when allowed=true" and
// "may be asynchronous". It is deliberately outside the core: the pipeline depends only on
// the pipeline.ExecutionAdapter interface, never on this package.
package adapter

import (
	"context"
	"time"

	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/telemetry"
)

// Func performs the actual side-effecting work an allowed SafetyDecision authorizes. It
// receives the event that triggered the decision and reports what happened; InMemory
// passes a returned error on to its caller, and pipeline.Pipeline degrades it to a FAILED
// execution, mirroring the executor pattern in goa-ai's toolregistry/executor package.
type Func func(ctx context.Context, decision agentevent.SafetyDecision, event agentevent.AgentEvent) (agentevent.ExecutionResult, error)

// InMemory adapts a Func into a pipeline.ExecutionAdapter, adding tracing and structured
// logging around the call the way goa-ai's toolregistry Executor wraps its registry client
// call in a span.
type InMemory struct {
	fn     Func
	clock  func() int64
	logger telemetry.Logger
	tracer telemetry.Tracer
}

// Option configures an InMemory adapter.
type Option func(*InMemory)

// WithLogger configures the adapter's logger. When unset, a noop logger is used.
func WithLogger(logger telemetry.Logger) Option {
	return func(a *InMemory) { a.logger = logger }
}

// WithTracer configures the adapter's tracer. When unset, a noop tracer is used.
func WithTracer(tracer telemetry.Tracer) Option {
	return func(a *InMemory) { a.tracer = tracer }
}

// WithClock overrides the adapter's time source, used to stamp ExecutionResult.Timestamp
// and to measure LatencyMs. Tests inject a deterministic clock.
func WithClock(clock func() int64) Option {
	return func(a *InMemory) { a.clock = clock }
}

// New constructs an InMemory adapter that calls fn for every allowed decision.
func New(fn Func, opts ...Option) *InMemory {
	a := &InMemory{
		fn:     fn,
		clock:  func() int64 { return time.Now().UnixMilli() },
		logger: telemetry.NewNoopLogger(),
		tracer: telemetry.NewNoopTracer(),
	}
	for _, o := range opts {
		if o != nil {
			o(a)
		}
	}
	return a
}

// Execute calls the configured Func inside a trace span, filling in Timestamp and LatencyMs
// on the returned result. It never panics into the pipeline: fn is expected to report
// failure through its returned error, which the pipeline degrades to a FAILED result.
func (a *InMemory) Execute(ctx context.Context, decision agentevent.SafetyDecision, event agentevent.AgentEvent) (agentevent.ExecutionResult, error) {
	ctx, span := a.tracer.Start(ctx, "adapter.execute")
	defer span.End()
	span.SetAttribute("adapter.remaining_budget", decision.RemainingBudget)

	start := a.clock()
	result, err := a.fn(ctx, decision, event)
	if err != nil {
		span.RecordError(err)
		a.logger.Error(ctx, "execution adapter failed", "error", err)
		return agentevent.ExecutionResult{}, err
	}
	if result.Timestamp == 0 {
		result.Timestamp = a.clock()
	}
	if result.LatencyMs == 0 {
		result.LatencyMs = a.clock() - start
	}
	return result, nil
}
