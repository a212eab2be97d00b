// Package validation validates inbound AgentEvent payloads against a JSON Schema before
// they reach the pipeline, adapted from goa-ai's registry.validatePayloadAgainstSchema:
// compile once, validate many. This sits in front of the pipeline (an event source
// collaborator per spec.md §6), not inside it — the pipeline's own constructors already
// enforce the invariants that matter for decision-making (non-negative fields, confidence
// bounds); this package additionally rejects malformed wire payloads before they are even
// decoded into an agentevent.AgentEvent.
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// agentEventSchema is the JSON Schema for the wire representation of agentevent.AgentEvent,
// matching spec.md §3's field set and non-negativity constraints.
const agentEventSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["timestamp", "tokenCount", "toolCalls", "latencyMs", "outputLength"],
	"properties": {
		"timestamp":    { "type": "integer" },
		"tokenCount":   { "type": "integer", "minimum": 0 },
		"toolCalls":    { "type": "integer", "minimum": 0 },
		"latencyMs":    { "type": "integer", "minimum": 0 },
		"outputLength": { "type": "integer", "minimum": 0 },
		"outputHash":   { "type": "string" }
	}
}`

// AgentEventValidator validates decoded JSON payloads against the AgentEvent schema.
type AgentEventValidator struct {
	schema *jsonschema.Schema
}

// NewAgentEventValidator compiles the built-in AgentEvent schema.
func NewAgentEventValidator() (*AgentEventValidator, error) {
	return newValidator([]byte(agentEventSchema))
}

// NewAgentEventValidatorFromSchema compiles a caller-supplied schema, for hosts that extend
// the wire format with additional required fields.
func NewAgentEventValidatorFromSchema(schemaBytes []byte) (*AgentEventValidator, error) {
	return newValidator(schemaBytes)
}

func newValidator(schemaBytes []byte) (*AgentEventValidator, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaBytes, &schemaDoc); err != nil {
		return nil, fmt.Errorf("validation: unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("agent_event.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("validation: add schema resource: %w", err)
	}
	schema, err := c.Compile("agent_event.json")
	if err != nil {
		return nil, fmt.Errorf("validation: compile schema: %w", err)
	}
	return &AgentEventValidator{schema: schema}, nil
}

// Validate checks payload (decoded JSON, i.e. the result of json.Unmarshal into `any`)
// against the schema, returning a descriptive error on the first violation.
func (v *AgentEventValidator) Validate(payload any) error {
	if err := v.schema.Validate(payload); err != nil {
		return fmt.Errorf("validation: agent event: %w", err)
	}
	return nil
}

// ValidateJSON unmarshals raw into `any` and validates it in one step, for callers holding
// undecoded wire bytes.
func (v *AgentEventValidator) ValidateJSON(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("validation: unmarshal payload: %w", err)
	}
	return v.Validate(payload)
}
