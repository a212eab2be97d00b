// Package intent implements the IntentCore described in spec.md §4.2: given a classified
// ActivityState, it produces an IntentDecision with a confidence value, applying confidence
// decay between calls.
package intent

import (
	"fmt"

	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
)

// Clock returns the current time in monotonic milliseconds.
type Clock func() int64

// Core owns lastIntent and tokenHistory exclusively; no other component reads or mutates
// them. It is not safe for concurrent Update/Decide calls.
type Core struct {
	cfg          config.Config
	clock        Clock
	lastIntent   *agentevent.IntentDecision
	lastAt       int64
	tokenHistory []int
}

// New constructs a Core with empty history and no prior intent.
func New(cfg config.Config, clock Clock) *Core {
	return &Core{cfg: cfg, clock: clock}
}

// Reset restores the core to its initial empty-history, no-prior-intent condition.
func (c *Core) Reset() {
	*c = *New(c.cfg, c.clock)
}

// Update pushes event.TokenCount onto the token history, evicting the oldest entry once
// TokenHistorySize is exceeded.
func (c *Core) Update(event agentevent.AgentEvent) {
	limit := c.cfg.TokenHistorySize
	if limit <= 0 {
		limit = 1
	}
	c.tokenHistory = append(c.tokenHistory, event.TokenCount)
	if len(c.tokenHistory) > limit {
		c.tokenHistory = c.tokenHistory[len(c.tokenHistory)-limit:]
	}
}

// Decide produces an IntentDecision for the given ActivityState, applying decay to any
// still-valid prior intent before falling back to the fixed priority rules of spec.md
// §4.2. Decide has no internal failure mode of its own and always returns a nil error; the
// signature returns an error so pipeline.Pipeline can depend on a narrow interface that
// test doubles can use to exercise the defensive-degradation path of spec.md §4.4 step 3.
func (c *Core) Decide(state agentevent.ActivityState) (agentevent.IntentDecision, error) {
	now := c.clock()

	if c.lastIntent != nil && c.lastIntent.Intent != agentevent.IntentPause {
		elapsedSeconds := float64(now-c.lastAt) / 1000.0
		decayed := c.lastIntent.Confidence - elapsedSeconds*c.cfg.ConfidenceDecayRatePerSec
		if decayed < 0 {
			decayed = 0
		}
		if decayed > 0 {
			if invalidated, decision := c.invalidate(state, now); invalidated {
				c.store(decision, now)
				return decision, nil
			}
			decision, _ := agentevent.NewIntentDecision(c.lastIntent.Intent, decayed, c.lastIntent.Reason+" (decayed)", now)
			c.store(decision, now)
			return decision, nil
		}
	}

	decision := c.fresh(state, now)
	c.store(decision, now)
	return decision, nil
}

// invalidate implements spec.md §4.2 step 1's invalidation check: a still-decaying
// CONTINUE against a now-critical mode, or high intensity eroding a confident prior
// intent, both force a fresh PAUSE.
func (c *Core) invalidate(state agentevent.ActivityState, now int64) (bool, agentevent.IntentDecision) {
	criticalNow := state.Mode == agentevent.ModeRunaway || state.Mode == agentevent.ModeLooping
	continueInvalidated := c.lastIntent.Intent == agentevent.IntentContinue && criticalNow
	highIntensityInvalidated := state.Intensity == agentevent.IntensityHigh && c.lastIntent.Confidence > 0.5

	if !continueInvalidated && !highIntensityInvalidated {
		return false, agentevent.IntentDecision{}
	}
	decision, _ := agentevent.NewIntentDecision(agentevent.IntentPause, 0.5, "Invalidated: activity mode critical", now)
	return true, decision
}

// fresh implements spec.md §4.2 step 2's fixed priority rules for generating a new intent
// when no still-valid decayed intent survives.
func (c *Core) fresh(state agentevent.ActivityState, now int64) agentevent.IntentDecision {
	var decision agentevent.IntentDecision
	switch {
	case state.Mode == agentevent.ModeRunaway:
		decision, _ = agentevent.NewIntentDecision(agentevent.IntentStop, 1.0, "RUNAWAY mode detected – uncontrolled activity", now)
	case state.Mode == agentevent.ModeLooping:
		decision, _ = agentevent.NewIntentDecision(agentevent.IntentStop, 0.9, "LOOPING mode detected – repetitive behavior", now)
	case state.Intensity == agentevent.IntensityHigh:
		decision, _ = agentevent.NewIntentDecision(agentevent.IntentPause, 0.7, "HIGH intensity – approaching resource limits", now)
	case state.Mode == agentevent.ModeIdle:
		decision, _ = agentevent.NewIntentDecision(agentevent.IntentContinue, 0.3, "IDLE mode – waiting for activity", now)
	default:
		confidence := c.computedConfidence(state.Intensity)
		reason := fmt.Sprintf("WORKING mode: intensity=%s", state.Intensity)
		decision, _ = agentevent.NewIntentDecision(agentevent.IntentContinue, confidence, reason, now)
	}
	return decision
}

// computedConfidence implements spec.md §4.2 step 3's default-WORKING confidence, applying
// a token-trend adjustment when enough history has accumulated.
func (c *Core) computedConfidence(intensity agentevent.Intensity) float64 {
	base := 0.5
	switch intensity {
	case agentevent.IntensityLow:
		base = 0.8
	case agentevent.IntensityNormal:
		base = 0.6
	case agentevent.IntensityHigh:
		base = 0.3
	}

	if len(c.tokenHistory) >= 5 {
		n := len(c.tokenHistory)
		recentMean := meanInts(c.tokenHistory[n-3:])
		priorStart := n - 6
		if priorStart < 0 {
			priorStart = 0
		}
		priorMean := meanInts(c.tokenHistory[priorStart : n-3])
		var trend float64
		if priorMean != 0 {
			trend = (recentMean - priorMean) / priorMean
		}
		switch {
		case trend > 0.5:
			base *= 0.7
		case trend < -0.5:
			base *= 1.1
		}
	}

	switch {
	case base < 0.1:
		base = 0.1
	case base > 1.0:
		base = 1.0
	}
	return base
}

func meanInts(xs []int) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func (c *Core) store(decision agentevent.IntentDecision, now int64) {
	d := decision
	c.lastIntent = &d
	c.lastAt = now
}
