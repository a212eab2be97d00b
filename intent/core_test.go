package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
)

type mutableClock struct{ now int64 }

func (c *mutableClock) Clock() Clock  { return func() int64 { return c.now } }
func (c *mutableClock) Set(now int64) { c.now = now }

func TestCore_RunawayModeAlwaysProducesStopWithFullConfidence(t *testing.T) {
	clk := &mutableClock{}
	c := New(config.New(), clk.Clock())
	state := agentevent.ActivityState{Mode: agentevent.ModeRunaway, Intensity: agentevent.IntensityHigh}
	decision, err := c.Decide(state)
	require.NoError(t, err)
	assert.Equal(t, agentevent.IntentStop, decision.Intent)
	assert.Equal(t, 1.0, decision.Confidence)
}

func TestCore_LoopingModeProducesStop(t *testing.T) {
	clk := &mutableClock{}
	c := New(config.New(), clk.Clock())
	state := agentevent.ActivityState{Mode: agentevent.ModeLooping, Intensity: agentevent.IntensityNormal}
	decision, err := c.Decide(state)
	require.NoError(t, err)
	assert.Equal(t, agentevent.IntentStop, decision.Intent)
	assert.Equal(t, 0.9, decision.Confidence)
}

func TestCore_HighIntensityProducesPause(t *testing.T) {
	clk := &mutableClock{}
	c := New(config.New(), clk.Clock())
	state := agentevent.ActivityState{Mode: agentevent.ModeWorking, Intensity: agentevent.IntensityHigh}
	decision, err := c.Decide(state)
	require.NoError(t, err)
	assert.Equal(t, agentevent.IntentPause, decision.Intent)
}

func TestCore_IdleModeProducesLowConfidenceContinue(t *testing.T) {
	clk := &mutableClock{}
	c := New(config.New(), clk.Clock())
	state := agentevent.ActivityState{Mode: agentevent.ModeIdle, Intensity: agentevent.IntensityLow}
	decision, err := c.Decide(state)
	require.NoError(t, err)
	assert.Equal(t, agentevent.IntentContinue, decision.Intent)
	assert.Equal(t, 0.3, decision.Confidence)
}

func TestCore_ConfidenceDecaysBetweenCalls(t *testing.T) {
	cfg := config.New(config.WithConfidenceDecayRate(0.01))
	clk := &mutableClock{}
	c := New(cfg, clk.Clock())

	working := agentevent.ActivityState{Mode: agentevent.ModeWorking, Intensity: agentevent.IntensityNormal}
	first, err := c.Decide(working)
	require.NoError(t, err)

	clk.Set(10_000) // 10s later
	second, err := c.Decide(working)
	require.NoError(t, err)

	assert.Equal(t, first.Intent, second.Intent)
	assert.Less(t, second.Confidence, first.Confidence)
}

func TestCore_InvalidatesContinueWhenModeTurnsCritical(t *testing.T) {
	cfg := config.New(config.WithConfidenceDecayRate(0.0)) // no decay: isolate invalidation
	clk := &mutableClock{}
	c := New(cfg, clk.Clock())

	working := agentevent.ActivityState{Mode: agentevent.ModeWorking, Intensity: agentevent.IntensityNormal}
	first, err := c.Decide(working)
	require.NoError(t, err)
	require.Equal(t, agentevent.IntentContinue, first.Intent)

	clk.Set(1_000)
	runaway := agentevent.ActivityState{Mode: agentevent.ModeRunaway, Intensity: agentevent.IntensityHigh}
	second, err := c.Decide(runaway)
	require.NoError(t, err)
	assert.Equal(t, agentevent.IntentPause, second.Intent)
}

func TestCore_PauseNeverDecays(t *testing.T) {
	cfg := config.New(config.WithConfidenceDecayRate(0.01))
	clk := &mutableClock{}
	c := New(cfg, clk.Clock())

	highIntensity := agentevent.ActivityState{Mode: agentevent.ModeWorking, Intensity: agentevent.IntensityHigh}
	first, err := c.Decide(highIntensity)
	require.NoError(t, err)
	require.Equal(t, agentevent.IntentPause, first.Intent)

	clk.Set(60_000)
	second, err := c.Decide(highIntensity)
	require.NoError(t, err)
	assert.Equal(t, agentevent.IntentPause, second.Intent)
	assert.Equal(t, first.Confidence, second.Confidence, "a PAUSE intent is re-derived fresh, not decayed")
}

func TestCore_TokenTrendLowersConfidenceOnSharpIncrease(t *testing.T) {
	cfg := config.New(config.WithConfidenceDecayRate(0.0))
	clk := &mutableClock{}
	c := New(cfg, clk.Clock())

	// Prior window: small token counts. Recent window: much larger, tripping the >0.5
	// upward trend that discounts confidence.
	for _, n := range []int{10, 10, 10, 100, 100, 100} {
		c.Update(agentevent.AgentEvent{TokenCount: n})
	}
	working := agentevent.ActivityState{Mode: agentevent.ModeWorking, Intensity: agentevent.IntensityNormal}
	decision, err := c.Decide(working)
	require.NoError(t, err)
	assert.Less(t, decision.Confidence, 0.6, "base WORKING/NORMAL confidence of 0.6 should be discounted by the upward trend")
}

func TestCore_ResetClearsHistoryAndPriorIntent(t *testing.T) {
	clk := &mutableClock{}
	c := New(config.New(), clk.Clock())
	c.Update(agentevent.AgentEvent{TokenCount: 500})
	_, err := c.Decide(agentevent.ActivityState{Mode: agentevent.ModeWorking, Intensity: agentevent.IntensityNormal})
	require.NoError(t, err)

	c.Reset()
	assert.Nil(t, c.lastIntent)
	assert.Empty(t, c.tokenHistory)
}
