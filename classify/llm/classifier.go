// Package llm provides an optional LLM-backed corroboration collaborator for RUNAWAY and
// LOOPING verdicts, mirroring the multi-provider pattern of goa-ai's features/model/{
// anthropic,bedrock,openai} clients: a narrow SDK-subset interface per provider and a
// simple New constructor taking its arguments directly (no Options struct). A Classifier is never on the Pipeline's decision path — it
// corroborates a verdict already reached by activity.Classifier against recent raw output
// text, for human review, and its result cannot change a SafetyDecision.
package llm

import (
	"context"

	"github.com/tripwire-kernel/kernel/agentevent"
)

// Verdict is the LLM backend's corroboration of a behavioral mode, given recent raw output
// text the core classifier never sees (it only sees opaque OutputHash values).
type Verdict struct {
	// Agrees is true if the backend's own read of the transcript supports the mode the
	// core classifier already assigned.
	Agrees bool
	// Explanation is a short natural-language justification, surfaced to a human
	// reviewer alongside the SafetyDecision it corroborates — never fed back into the
	// pipeline.
	Explanation string
}

// Classifier corroborates a Mode verdict against recent raw output text. Implementations
// call out to an external LLM provider and must not be invoked on the Pipeline's
// synchronous decision path; callers use it out-of-band (e.g. from a telemetry subscriber)
// to annotate an already-made decision.
type Classifier interface {
	Corroborate(ctx context.Context, mode agentevent.Mode, recentOutputs []string) (Verdict, error)
}

const corroborationPrompt = `You are reviewing an autonomous agent's recent raw output for signs of runaway or looping behavior. A separate deterministic system has already classified this window as %s. State whether you agree, and why, in one short sentence.`
