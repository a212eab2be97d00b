// Package fingerprint computes the replay-parity digest described in spec.md §6: an
// incremental SHA-256 hash updated with the JSON-canonical serialization of a tagged record
// for every AgentEvent, IntentDecision, SafetyDecision, and ExecutionResult a Pipeline
// processes. Two runs over the same events, config, and clock must produce equal digests.
package fingerprint

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"

	"github.com/tripwire-kernel/kernel/agentevent"
)

// Digest incrementally folds tagged records into a SHA-256 hash. The zero value is not
// usable; construct with New.
type Digest struct {
	h      hash.Hash
	folded int
}

// New constructs an empty Digest.
func New() *Digest {
	return &Digest{h: sha256.New()}
}

// taggedRecord pairs a fixed type tag with a payload so that folding an AgentEvent can
// never collide with folding a SafetyDecision that happens to serialize to the same bytes.
type taggedRecord struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

func (d *Digest) fold(tag string, payload any) {
	// Field order is fixed (Type then Payload), and payload is always one of the
	// agentevent package's plain data structs, so json.Marshal output is already canonical: Go
	// marshals struct fields in declaration order and there is no map with
	// nondeterministic key order anywhere in the folded types.
	b, err := json.Marshal(taggedRecord{Type: tag, Payload: payload})
	if err != nil {
		// Every folded type is a plain data struct; Marshal cannot fail.
		panic(fmt.Sprintf("fingerprint: marshal %s: %v", tag, err))
	}
	d.h.Write(b)
	d.folded++
}

// FoldEvent folds an AgentEvent into the digest. Called once per processed event.
func (d *Digest) FoldEvent(event agentevent.AgentEvent) { d.fold("event", event) }

// FoldIntent folds an IntentDecision into the digest.
func (d *Digest) FoldIntent(intent agentevent.IntentDecision) { d.fold("intent", intent) }

// FoldDecision folds a SafetyDecision into the digest.
func (d *Digest) FoldDecision(decision agentevent.SafetyDecision) { d.fold("decision", decision) }

// FoldResult folds an ExecutionResult into the digest.
func (d *Digest) FoldResult(result agentevent.ExecutionResult) { d.fold("result", result) }

// Sum returns the current hex-encoded digest without finalizing the underlying hash state,
// so folding may continue after Sum is called (e.g. to inspect an in-progress fingerprint
// mid-run). Before anything has been folded, Sum returns "" rather than the SHA-256-of-empty
// constant, so a freshly constructed or just-Reset Digest is distinguishable from one that
// has folded at least one record.
func (d *Digest) Sum() string {
	if d.folded == 0 {
		return ""
	}
	return fmt.Sprintf("%x", d.h.Sum(nil))
}
