package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tripwire-kernel/kernel/activity"
	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
	"github.com/tripwire-kernel/kernel/hooks"
	"github.com/tripwire-kernel/kernel/intent"
	"github.com/tripwire-kernel/kernel/safety"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stepClock is a manually-advanced Clock so tests control elapsed time precisely.
type stepClock struct{ now int64 }

func (c *stepClock) fn() int64     { return c.now }
func (c *stepClock) Set(now int64) { c.now = now }

type fakeClassifier struct {
	process func(agentevent.AgentEvent) (agentevent.ActivityState, error)
}

func (f *fakeClassifier) Process(event agentevent.AgentEvent) (agentevent.ActivityState, error) {
	return f.process(event)
}

type fakeIntent struct {
	decide func(agentevent.ActivityState) (agentevent.IntentDecision, error)
}

func (f *fakeIntent) Update(agentevent.AgentEvent) {}
func (f *fakeIntent) Decide(state agentevent.ActivityState) (agentevent.IntentDecision, error) {
	return f.decide(state)
}

type fakeSafety struct {
	evaluate func(agentevent.IntentDecision, agentevent.ActivityState) (agentevent.SafetyDecision, error)
	recorded []int
}

func (f *fakeSafety) Evaluate(intent agentevent.IntentDecision, state agentevent.ActivityState) (agentevent.SafetyDecision, error) {
	return f.evaluate(intent, state)
}
func (f *fakeSafety) RecordEvent(tokens, toolCalls int) { f.recorded = append(f.recorded, tokens) }

type fakeAdapter struct {
	called  bool
	execute func(context.Context, agentevent.SafetyDecision, agentevent.AgentEvent) (agentevent.ExecutionResult, error)
}

func (f *fakeAdapter) Execute(ctx context.Context, decision agentevent.SafetyDecision, event agentevent.AgentEvent) (agentevent.ExecutionResult, error) {
	f.called = true
	return f.execute(ctx, decision, event)
}

type recordingSubscriber struct {
	events []hooks.Event
}

func (r *recordingSubscriber) HandleEvent(_ context.Context, event hooks.Event) error {
	r.events = append(r.events, event)
	return nil
}

func newRealPipeline(clk *stepClock) *Pipeline {
	cfg := config.New()
	return New(cfg, clk.fn,
		activity.New(cfg, clk.fn),
		intent.New(cfg, clk.fn),
		safety.New(cfg, clk.fn),
		nil, nil, nil, nil,
	)
}

func TestPipeline_HappyPath_AllowedExecution(t *testing.T) {
	clk := &stepClock{}
	rec := &recordingSubscriber{}
	bus := hooks.NewBus()
	_, err := bus.Register(rec)
	require.NoError(t, err)

	cfg := config.New()
	adapter := &fakeAdapter{execute: func(ctx context.Context, decision agentevent.SafetyDecision, event agentevent.AgentEvent) (agentevent.ExecutionResult, error) {
		return agentevent.ExecutionResult{Executed: true, Status: agentevent.ExecutionSuccess, TokensUsed: event.TokenCount}, nil
	}}

	p := New(cfg, clk.fn,
		activity.New(cfg, clk.fn),
		intent.New(cfg, clk.fn),
		safety.New(cfg, clk.fn),
		adapter, bus, nil, nil,
	)

	result := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})
	assert.True(t, result.Decision.Allowed)
	assert.True(t, result.Exec.Executed)
	assert.Equal(t, agentevent.ExecutionSuccess, result.Exec.Status)
	assert.NotEmpty(t, p.Fingerprint())

	var types []hooks.EventType
	for _, e := range rec.events {
		types = append(types, e.Type())
	}
	assert.Contains(t, types, hooks.EventAgentEvent)
	assert.Contains(t, types, hooks.EventIntent)
	assert.Contains(t, types, hooks.EventExecution)
	assert.Equal(t, hooks.EventAgentEvent, types[0], "AGENT_EVENT must be published first")
}

func TestPipeline_ClassifierFault_DegradesToForcedRunaway(t *testing.T) {
	clk := &stepClock{}
	rec := &recordingSubscriber{}
	bus := hooks.NewBus()
	_, err := bus.Register(rec)
	require.NoError(t, err)

	cfg := config.New()
	classifier := &fakeClassifier{process: func(agentevent.AgentEvent) (agentevent.ActivityState, error) {
		return agentevent.ActivityState{}, errors.New("boom")
	}}

	p := New(cfg, clk.fn, classifier, intent.New(cfg, clk.fn), safety.New(cfg, clk.fn), nil, bus, nil, nil)
	result := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})

	assert.Equal(t, agentevent.IntensityHigh, result.State.Intensity)
	assert.Equal(t, agentevent.ModeRunaway, result.State.Mode)

	var sawError bool
	for _, e := range rec.events {
		if ee, ok := e.(*hooks.ErrorEvent); ok {
			sawError = true
			assert.Equal(t, componentActivity, ee.Component)
		}
	}
	assert.True(t, sawError, "expected an ERROR{component=ActivityEngine} telemetry record")

	var types []hooks.EventType
	for _, e := range rec.events {
		types = append(types, e.Type())
	}
	require.NotEmpty(t, types)
	assert.Equal(t, hooks.EventError, types[len(types)-1], "ERROR must be emitted last per the documented per-event order")
}

func TestPipeline_IntentFault_DegradesToPause(t *testing.T) {
	clk := &stepClock{}
	cfg := config.New()
	intentEngine := &fakeIntent{decide: func(agentevent.ActivityState) (agentevent.IntentDecision, error) {
		return agentevent.IntentDecision{}, errors.New("boom")
	}}

	p := New(cfg, clk.fn, activity.New(cfg, clk.fn), intentEngine, safety.New(cfg, clk.fn), nil, nil, nil, nil)
	result := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})

	assert.Equal(t, agentevent.IntentPause, result.Intent.Intent)
	assert.Equal(t, 0.0, result.Intent.Confidence)
}

func TestPipeline_SafetyFault_DegradesToRejectedWithEmptyVeto(t *testing.T) {
	clk := &stepClock{}
	cfg := config.New()
	safetyEngine := &fakeSafety{evaluate: func(agentevent.IntentDecision, agentevent.ActivityState) (agentevent.SafetyDecision, error) {
		return agentevent.SafetyDecision{}, errors.New("boom")
	}}

	p := New(cfg, clk.fn, activity.New(cfg, clk.fn), intent.New(cfg, clk.fn), safetyEngine, nil, nil, nil, nil)
	result := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})

	assert.False(t, result.Decision.Allowed)
	assert.Empty(t, result.Decision.VetoReason)
	assert.Contains(t, result.Decision.Reason, "SafetyGate error")
}

func TestPipeline_VetoedDecision_NeverCallsAdapter(t *testing.T) {
	clk := &stepClock{}
	cfg := config.New()
	safetyEngine := &fakeSafety{evaluate: func(agentevent.IntentDecision, agentevent.ActivityState) (agentevent.SafetyDecision, error) {
		d, _ := agentevent.NewSafetyDecision(false, 0, "vetoed", agentevent.VetoRunawayDetected, 0)
		return d, nil
	}}
	adapter := &fakeAdapter{execute: func(context.Context, agentevent.SafetyDecision, agentevent.AgentEvent) (agentevent.ExecutionResult, error) {
		t.Fatal("adapter must not be called for a vetoed decision")
		return agentevent.ExecutionResult{}, nil
	}}

	p := New(cfg, clk.fn, activity.New(cfg, clk.fn), intent.New(cfg, clk.fn), safetyEngine, adapter, nil, nil, nil)
	result := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})

	assert.False(t, adapter.called)
	assert.Equal(t, agentevent.ExecutionBlocked, result.Exec.Status)
	assert.False(t, result.Exec.Executed)
}

func TestPipeline_AdapterFault_DegradesToFailed(t *testing.T) {
	clk := &stepClock{}
	cfg := config.New()
	safetyEngine := &fakeSafety{evaluate: func(agentevent.IntentDecision, agentevent.ActivityState) (agentevent.SafetyDecision, error) {
		d, _ := agentevent.NewSafetyDecision(true, 100, "allowed", "", 0)
		return d, nil
	}}
	adapter := &fakeAdapter{execute: func(context.Context, agentevent.SafetyDecision, agentevent.AgentEvent) (agentevent.ExecutionResult, error) {
		return agentevent.ExecutionResult{}, errors.New("execution failed")
	}}

	p := New(cfg, clk.fn, activity.New(cfg, clk.fn), intent.New(cfg, clk.fn), safetyEngine, adapter, nil, nil, nil)
	result := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})

	assert.True(t, adapter.called)
	assert.Equal(t, agentevent.ExecutionFailed, result.Exec.Status)
	assert.False(t, result.Exec.Executed)
}

func TestPipeline_ReplayParity_IdenticalRunsProduceIdenticalFingerprints(t *testing.T) {
	events := []agentevent.AgentEvent{
		{Timestamp: 0, TokenCount: 100, ToolCalls: 1},
		{Timestamp: 1_000, TokenCount: 200, ToolCalls: 1},
		{Timestamp: 2_000, TokenCount: 50, ToolCalls: 0},
	}

	run := func() string {
		clk := &stepClock{}
		p := newRealPipeline(clk)
		_, fp := p.Run(context.Background(), events)
		return fp
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestPipeline_Run_ProcessesEveryEventInOrder(t *testing.T) {
	clk := &stepClock{}
	p := newRealPipeline(clk)
	events := []agentevent.AgentEvent{
		{Timestamp: 0, TokenCount: 10},
		{Timestamp: 1_000, TokenCount: 10},
		{Timestamp: 2_000, TokenCount: 10},
	}
	results, fp := p.Run(context.Background(), events)
	assert.Len(t, results, len(events))
	assert.Equal(t, p.Fingerprint(), fp)
}

// TestPipeline_BudgetEdge_StrictGreaterEqualThreshold covers spec.md §8 boundary scenario 1
// at the pipeline level: 5 events of 10 000 tokens each stay allowed (the budget check is a
// strict >=, so exactly reaching MAX_TOKENS_PER_MINUTE on the 5th event does not veto it),
// and a 6th event in the same window is rejected with TOKEN_BUDGET_EXCEEDED.
func TestPipeline_BudgetEdge_StrictGreaterEqualThreshold(t *testing.T) {
	clk := &stepClock{}
	p := newRealPipeline(clk)

	var results []Result
	for i, ts := range []int64{0, 1_000, 2_000, 3_000, 4_000} {
		clk.Set(ts)
		results = append(results, p.Process(context.Background(), agentevent.AgentEvent{Timestamp: ts, TokenCount: 10_000}))
		require.Truef(t, results[i].Decision.Allowed, "event %d should be allowed, got veto %q", i, results[i].Decision.VetoReason)
	}

	clk.Set(5_000)
	sixth := p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 5_000, TokenCount: 1})
	assert.False(t, sixth.Decision.Allowed)
	assert.Equal(t, agentevent.VetoTokenBudgetExceeded, sixth.Decision.VetoReason)
}

// TestPipeline_RunawayTempoCompression_VetoesAndStartsCooldown covers spec.md §8 boundary
// scenario 3 at the pipeline level: a slow HIGH-intensity run followed by a sharp tempo
// compression must drive the classifier into RUNAWAY and the gate must veto with
// RUNAWAY_DETECTED and start a cooldown, latching the veto for subsequent events.
func TestPipeline_RunawayTempoCompression_VetoesAndStartsCooldown(t *testing.T) {
	clk := &stepClock{}
	p := newRealPipeline(clk)

	timestamps := []int64{0, 5_000, 10_000, 15_000, 20_000, 20_500, 21_000, 21_500, 22_000, 22_500}

	var results []Result
	for _, ts := range timestamps {
		clk.Set(ts)
		results = append(results, p.Process(context.Background(), agentevent.AgentEvent{Timestamp: ts, TokenCount: 5_000}))
	}

	var runawayIndex = -1
	for i, r := range results {
		if r.Decision.VetoReason == agentevent.VetoRunawayDetected {
			runawayIndex = i
			break
		}
	}
	require.NotEqual(t, -1, runawayIndex, "expected a RUNAWAY_DETECTED veto once the fast batch compresses tempo")
	assert.Equal(t, agentevent.ModeRunaway, results[runawayIndex].State.Mode)
	assert.False(t, results[runawayIndex].Decision.Allowed)

	for _, r := range results[runawayIndex:] {
		assert.False(t, r.Decision.Allowed, "cooldown started by the RUNAWAY veto must latch through the rest of the batch")
	}
}

func TestPipeline_Reset_ReinitializesFingerprintAndComponents(t *testing.T) {
	clk := &stepClock{}
	p := newRealPipeline(clk)
	p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})
	firstFingerprint := p.Fingerprint()
	require.NotEmpty(t, firstFingerprint)

	p.Reset()
	assert.Empty(t, p.Fingerprint())

	clk.Set(0)
	p.Process(context.Background(), agentevent.AgentEvent{Timestamp: 0, TokenCount: 100})
	assert.Equal(t, firstFingerprint, p.Fingerprint(), "identical replay after Reset must reproduce the same fingerprint")
}
