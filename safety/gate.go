// Package safety implements the SafetyGate described in spec.md §4.3: the single
// authoritative veto point enforcing system preconditions, behavioral vetoes, token and
// rate budgets, cooldowns, and a health score.
package safety

import (
	"github.com/tripwire-kernel/kernel/agentevent"
	"github.com/tripwire-kernel/kernel/config"
)

// Clock returns the current time in monotonic milliseconds.
type Clock func() int64

// Gate owns its budget window, frequency intervals, cooldown, and HealthState exclusively.
// It is not safe for concurrent Evaluate/RecordEvent calls.
type Gate struct {
	cfg   config.Config
	clock Clock

	tokensUsed  int
	toolCalls   int
	windowStart int64
	haveWindow  bool

	intervals          []int64
	lastEventTimestamp int64
	haveLastEventTs    bool

	cooldownUntil int64
	haveCooldown  bool

	health agentevent.HealthState
}

// New constructs a Gate with an empty budget window and a fully healthy HealthState.
func New(cfg config.Config, clock Clock) *Gate {
	return &Gate{
		cfg:   cfg,
		clock: clock,
		health: agentevent.HealthState{
			Score:  1.0,
			Status: agentevent.HealthHealthy,
		},
	}
}

// Health returns a copy of the gate's current HealthState.
func (g *Gate) Health() agentevent.HealthState {
	return g.health
}

// RestoreHealth replaces the gate's HealthState wholesale, used by a host that persists
// snapshots (e.g. store/redis) across process restarts. It bypasses recomputeStatus's
// derivation on the assumption that a persisted snapshot's Status already matches its
// Score; callers restoring hand-built states should call TickRecovery afterward to
// reconcile.
func (g *Gate) RestoreHealth(health agentevent.HealthState) {
	g.health = health
}

func (g *Gate) resetWindowIfStale(now int64) {
	if !g.haveWindow {
		g.windowStart = now
		g.haveWindow = true
		return
	}
	if now-g.windowStart >= 60_000 {
		g.tokensUsed = 0
		g.toolCalls = 0
		g.windowStart = now
	}
}

// Evaluate implements spec.md §4.3's ordered veto checks: system preconditions (confidence
// floor, active cooldown, health), then behavioral vetoes (RUNAWAY/LOOPING mode, tempo
// compression, tool-call rate), then the token budget. Evaluate has no internal failure mode of its own and
// always returns a nil error; the signature returns an error so pipeline.Pipeline can
// depend on a narrow interface that test doubles can use to exercise the
// defensive-degradation path of spec.md §4.4 step 4.
func (g *Gate) Evaluate(intent agentevent.IntentDecision, state agentevent.ActivityState) (agentevent.SafetyDecision, error) {
	now := g.clock()
	g.resetWindowIfStale(now)

	if decision, vetoed := g.systemPrecheck(intent, now); vetoed {
		return decision, nil
	}
	if decision, vetoed := g.behavioralVeto(state, now); vetoed {
		return decision, nil
	}
	if g.tokensUsed >= g.cfg.MaxTokensPerMinute {
		decision, _ := agentevent.NewSafetyDecision(false, 0, "token budget exceeded", agentevent.VetoTokenBudgetExceeded, now)
		return decision, nil
	}

	remaining := g.cfg.MaxTokensPerMinute - g.tokensUsed
	if remaining < 0 {
		remaining = 0
	}
	decision, _ := agentevent.NewSafetyDecision(true, remaining, "allowed", "", now)
	return decision, nil
}

// systemPrecheck implements spec.md §4.3 step 2: confidence floor, active cooldown, and
// suspended/stopped health all reject before any behavioral check runs.
func (g *Gate) systemPrecheck(intent agentevent.IntentDecision, now int64) (agentevent.SafetyDecision, bool) {
	if intent.Confidence < g.cfg.ConfidenceMinimum {
		decision, _ := agentevent.NewSafetyDecision(false, 0, "confidence below minimum", agentevent.VetoHealthDegraded, now)
		return decision, true
	}
	if g.haveCooldown && now < g.cooldownUntil {
		decision, _ := agentevent.NewSafetyDecision(false, 0, "cooldown active", agentevent.VetoCooldownActive, now)
		return decision, true
	}
	if g.health.Status == agentevent.HealthSuspended || g.health.Status == agentevent.HealthStopped {
		decision, _ := agentevent.NewSafetyDecision(false, 0, "health degraded", agentevent.VetoHealthDegraded, now)
		return decision, true
	}
	return agentevent.SafetyDecision{}, false
}

// behavioralVeto implements spec.md §4.3 step 3: RUNAWAY/LOOPING mode, tempo compression,
// and absolute tool-call frequency.
func (g *Gate) behavioralVeto(state agentevent.ActivityState, now int64) (agentevent.SafetyDecision, bool) {
	if state.Mode == agentevent.ModeRunaway {
		g.startCooldown(now)
		decision, _ := agentevent.NewSafetyDecision(false, 0, "runaway activity detected", agentevent.VetoRunawayDetected, now)
		return decision, true
	}
	if state.Mode == agentevent.ModeLooping {
		g.startCooldown(now)
		decision, _ := agentevent.NewSafetyDecision(false, 0, "repetitive looping detected", agentevent.VetoLoopDetected, now)
		return decision, true
	}
	if tempoCompressed(g.recentIntervals(), g.cfg.TempoCompressionRatio) {
		decision, _ := agentevent.NewSafetyDecision(false, 0, "tempo compression detected", agentevent.VetoRateLimitExceeded, now)
		return decision, true
	}
	if g.toolCalls >= g.cfg.MaxToolCallsPerMinute {
		decision, _ := agentevent.NewSafetyDecision(false, 0, "tool call rate limit exceeded", agentevent.VetoRateLimitExceeded, now)
		return decision, true
	}
	return agentevent.SafetyDecision{}, false
}

func (g *Gate) startCooldown(now int64) {
	g.cooldownUntil = now + g.cfg.CooldownDurationMs
	g.haveCooldown = true
}

func (g *Gate) recentIntervals() []int64 {
	limit := g.cfg.FrequencyWindowSize
	if limit <= 0 || len(g.intervals) <= limit {
		return g.intervals
	}
	return g.intervals[len(g.intervals)-limit:]
}

// tempoCompressed reports whether the mean of the last 3 intervals is less than ratio times
// the mean of the (up to) 3 immediately before that, requiring at least 4 recorded intervals.
func tempoCompressed(intervals []int64, ratio float64) bool {
	if len(intervals) < 4 {
		return false
	}
	recent := intervals[len(intervals)-3:]
	var earlier []int64
	if len(intervals) < 6 {
		earlier = intervals[:len(intervals)-3]
	} else {
		earlier = intervals[len(intervals)-6 : len(intervals)-3]
	}
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

// RecordEvent updates the budget window and frequency intervals for a processed event. The
// pipeline calls this once per event after Evaluate, per spec.md §4.4 step 4.
func (g *Gate) RecordEvent(tokens, toolCalls int) {
	now := g.clock()
	g.resetWindowIfStale(now)
	g.tokensUsed += tokens
	g.toolCalls += toolCalls

	if g.haveLastEventTs {
		g.intervals = append(g.intervals, now-g.lastEventTimestamp)
		if limit := g.cfg.FrequencyWindowSize; limit > 0 && len(g.intervals) > limit {
			g.intervals = g.intervals[len(g.intervals)-limit:]
		}
	}
	g.lastEventTimestamp = now
	g.haveLastEventTs = true
}

// RecordExecutionResult implements spec.md §4.3's health-accounting rules for a completed
// (or skipped) execution: soft anomalies for high latency or PARTIAL status, a hard anomaly
// for an execution that failed to run despite an allowed decision. Per spec.md §9 Open
// Question (2), the pipeline never calls this itself; it is a host integration point fed
// back by whatever system observes real execution outcomes.
func (g *Gate) RecordExecutionResult(result agentevent.ExecutionResult, precedingDecision agentevent.SafetyDecision) {
	switch {
	case result.Executed && result.LatencyMs > 10_000:
		g.RecordAnomaly(g.cfg.SoftAnomalySeverity)
	case result.Executed && result.Status == agentevent.ExecutionPartial:
		g.RecordAnomaly(g.cfg.SoftAnomalySeverity)
	case !result.Executed && precedingDecision.Allowed:
		g.RecordAnomaly(g.cfg.HardAnomalySeverity)
	}
}

// RecordAnomaly reduces the health score by severity, marks the anomaly time, and
// recomputes HealthStatus per spec.md §4.3's cutoffs.
func (g *Gate) RecordAnomaly(severity float64) {
	now := g.clock()
	g.health.Score -= severity
	if g.health.Score < 0 {
		g.health.Score = 0
	}
	g.health.LastAnomaly = &now
	g.health.AnomalyCount++
	g.health.ErrorStreak++
	g.recomputeStatus()
}

func (g *Gate) recomputeStatus() {
	switch {
	case g.health.Score < g.cfg.HardStop:
		g.health.Status = agentevent.HealthStopped
	case g.health.Score < g.cfg.SoftSuspend:
		g.health.Status = agentevent.HealthSuspended
	case g.health.Score < 0.8:
		g.health.Status = agentevent.HealthDegraded
	default:
		g.health.Status = agentevent.HealthHealthy
	}
}

// TickRecovery implements spec.md §4.3's recovery rule: if no anomaly occurred in the last
// 60 seconds, clear the error streak and raise the score toward RecoveryCap. Hosts call
// this periodically (e.g. once per processed event) to let health recover over time.
func (g *Gate) TickRecovery() {
	now := g.clock()
	if g.health.LastAnomaly != nil && now-*g.health.LastAnomaly <= 60_000 {
		return
	}
	if g.health.ErrorStreak != 0 {
		g.health.ErrorStreak = 0
	}
	g.health.Score += g.cfg.RecoveryRate
	if g.health.Score > g.cfg.RecoveryCap {
		g.health.Score = g.cfg.RecoveryCap
	}
	if g.health.Score > 1.0 {
		g.health.Score = 1.0
	}
	g.recomputeStatus()
}

// Reset restores the gate to a fresh, fully healthy state, per Pipeline.reset.
func (g *Gate) Reset() {
	*g = *New(g.cfg, g.clock)
}
