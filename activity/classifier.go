// Package activity implements the ActivityClassifier described in spec.md §4.1: it
// interprets a bounded window of recent AgentEvents (and, separately, recent output-hash
// repetition) as a behavioral mode and intensity classification.
package activity

import (
	"fmt"

	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
)

// idleThresholdMs is the fixed gap (spec.md §4.1) after which a session with no recent
// events is classified IDLE. It is not part of the configuration surface in spec.md §6.
const idleThresholdMs = 30_000

// Clock returns the current time in monotonic milliseconds. Tests inject a deterministic
// Clock; production callers use a wall-clock-backed one.
type Clock func() int64

// Classifier owns its event and hash buffers exclusively; no other component reads or
// mutates them. It is not safe for concurrent Process calls.
type Classifier struct {
	cfg          config.Config
	clock        Clock
	eventBuffer  []agentevent.AgentEvent
	hashBuffer   []string
	currentState *agentevent.ActivityState
}

// New constructs a Classifier with empty buffers and no current state.
func New(cfg config.Config, clock Clock) *Classifier {
	return &Classifier{cfg: cfg, clock: clock}
}

// Reset restores the classifier to its initial empty-buffer, no-current-state condition.
func (c *Classifier) Reset() {
	*c = *New(c.cfg, c.clock)
}

// State returns the classifier's current ActivityState, or the zero value and false if no
// event has been processed yet.
func (c *Classifier) State() (agentevent.ActivityState, bool) {
	if c.currentState == nil {
		return agentevent.ActivityState{}, false
	}
	return *c.currentState, true
}

// Process appends event to the classifier's buffers, recomputes a candidate state, and
// applies the transition gate (hysteresis) before returning the classifier's current
// ActivityState. Malformed events are accepted as-is; callers sanitize.
//
// Process has no internal failure mode of its own and always returns a nil error; the
// signature returns an error so pipeline.Pipeline can depend on a narrow interface that
// test doubles can use to exercise the defensive-degradation path of spec.md §4.4 step 2.
func (c *Classifier) Process(event agentevent.AgentEvent) (agentevent.ActivityState, error) {
	c.appendEvent(event)
	if event.OutputHash != "" {
		c.appendHash(event.OutputHash)
	}

	intensity := c.candidateIntensity()
	mode := c.candidateMode(intensity)
	reason := fmt.Sprintf("mode=%s intensity=%s", mode, intensity)

	if c.currentState == nil {
		state, _ := agentevent.NewActivityState(intensity, mode, reason, c.clock())
		c.currentState = &state
		return state, nil
	}

	now := c.clock()
	elapsed := now - c.currentState.Since
	if elapsed < c.cfg.MinStateDurationMs {
		return *c.currentState, nil
	}

	leavingCritical := isCritical(c.currentState.Mode) && !isCritical(mode)
	if leavingCritical && elapsed < c.cfg.MinStateDurationMs*c.cfg.CriticalExitMultiplier {
		return *c.currentState, nil
	}

	if mode == c.currentState.Mode && intensity == c.currentState.Intensity {
		return *c.currentState, nil
	}

	state, _ := agentevent.NewActivityState(intensity, mode, reason, now)
	c.currentState = &state
	return state, nil
}

func isCritical(mode agentevent.Mode) bool {
	return mode == agentevent.ModeLooping || mode == agentevent.ModeRunaway
}

func (c *Classifier) appendEvent(event agentevent.AgentEvent) {
	limit := c.cfg.EventBufferSize
	if limit <= 0 {
		limit = 1
	}
	c.eventBuffer = append(c.eventBuffer, event)
	if len(c.eventBuffer) > limit {
		c.eventBuffer = c.eventBuffer[len(c.eventBuffer)-limit:]
	}
}

func (c *Classifier) appendHash(hash string) {
	limit := c.cfg.LoopWindowSize
	if limit <= 0 {
		limit = 1
	}
	c.hashBuffer = append(c.hashBuffer, hash)
	if len(c.hashBuffer) > limit {
		c.hashBuffer = c.hashBuffer[len(c.hashBuffer)-limit:]
	}
}

// candidateIntensity implements spec.md §4.1's intensity rule over the last up-to-10
// events.
func (c *Classifier) candidateIntensity() agentevent.Intensity {
	window := c.eventBuffer
	if len(window) > 10 {
		window = window[len(window)-10:]
	}
	if len(window) < 3 {
		return agentevent.IntensityNormal
	}

	first, last := window[0], window[len(window)-1]
	timeSpan := last.Timestamp - first.Timestamp

	var totalTokens int64
	for _, e := range window {
		totalTokens += int64(e.TokenCount)
	}

	var tokensPerMinute float64
	if timeSpan == 0 {
		tokensPerMinute = float64(totalTokens)
	} else {
		tokensPerMinute = (float64(totalTokens) / float64(timeSpan)) * 60_000
	}

	switch {
	case tokensPerMinute < c.cfg.IntensityLowThreshold:
		return agentevent.IntensityLow
	case tokensPerMinute > c.cfg.IntensityHighThreshold:
		return agentevent.IntensityHigh
	default:
		return agentevent.IntensityNormal
	}
}

// candidateMode implements spec.md §4.1's priority-ordered mode rule: LOOPING, RUNAWAY,
// IDLE, WORKING.
func (c *Classifier) candidateMode(intensity agentevent.Intensity) agentevent.Mode {
	if c.isLooping() {
		return agentevent.ModeLooping
	}
	if c.isRunaway(intensity) {
		return agentevent.ModeRunaway
	}
	if c.isIdle() {
		return agentevent.ModeIdle
	}
	return agentevent.ModeWorking
}

func (c *Classifier) isLooping() bool {
	windowSize := c.cfg.LoopWindowSize
	if windowSize <= 0 || len(c.hashBuffer) != windowSize {
		return false
	}
	distinct := make(map[string]struct{}, windowSize)
	for _, h := range c.hashBuffer {
		distinct[h] = struct{}{}
	}
	ratio := 1.0 - (float64(len(distinct)) / float64(windowSize))
	return ratio >= c.cfg.LoopSimilarityThreshold
}

func (c *Classifier) isRunaway(intensity agentevent.Intensity) bool {
	if len(c.eventBuffer) < 6 || intensity != agentevent.IntensityHigh {
		return false
	}
	return tempoCompressed(c.eventBuffer, c.cfg.TempoCompressionRatio)
}

// tempoCompressed reports whether the mean of the last 3 successive timestamp intervals is
// less than ratio times the mean of all earlier intervals, per spec.md's tempo
// compression definition. Requires at least 5 events (4 intervals).
func tempoCompressed(events []agentevent.AgentEvent, ratio float64) bool {
	if len(events) < 4 {
		return false
	}
	intervals := make([]int64, 0, len(events)-1)
	for i := 1; i < len(events); i++ {
		intervals = append(intervals, events[i].Timestamp-events[i-1].Timestamp)
	}
	if len(intervals) < 4 {
		return false
	}
	recent := intervals[len(intervals)-3:]
	earlier := intervals[:len(intervals)-3]
	if len(earlier) == 0 {
		return false
	}
	return mean(recent) < mean(earlier)*ratio
}

func mean(xs []int64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum int64
	for _, x := range xs {
		sum += x
	}
	return float64(sum) / float64(len(xs))
}

func (c *Classifier) isIdle() bool {
	if len(c.eventBuffer) == 0 {
		return true
	}
	last := c.eventBuffer[len(c.eventBuffer)-1]
	return c.clock()-last.Timestamp > idleThresholdMs
}
