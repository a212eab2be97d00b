package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwire-kernel/kernel/validation"
)

func mustValidator(t *testing.T) *validation.AgentEventValidator {
	t.Helper()
	v, err := validation.NewAgentEventValidator()
	require.NoError(t, err)
	return v
}

func TestAgentEventValidator_AcceptsWellFormedPayload(t *testing.T) {
	v := mustValidator(t)
	payload := []byte(`{"timestamp":1000,"tokenCount":100,"toolCalls":1,"latencyMs":50,"outputLength":200,"outputHash":"abc"}`)
	assert.NoError(t, v.ValidateJSON(payload))
}

func TestAgentEventValidator_RejectsMissingRequiredField(t *testing.T) {
	v := mustValidator(t)
	payload := []byte(`{"tokenCount":100,"toolCalls":1,"latencyMs":50,"outputLength":200}`)
	assert.Error(t, v.ValidateJSON(payload))
}

func TestAgentEventValidator_RejectsNegativeTokenCount(t *testing.T) {
	v := mustValidator(t)
	payload := []byte(`{"timestamp":1000,"tokenCount":-1,"toolCalls":1,"latencyMs":50,"outputLength":200}`)
	assert.Error(t, v.ValidateJSON(payload))
}

func TestAgentEventValidator_RejectsMalformedJSON(t *testing.T) {
	v := mustValidator(t)
	assert.Error(t, v.ValidateJSON([]byte(`{not-json`)))
}

func TestAgentEventValidator_OutputHashIsOptional(t *testing.T) {
	v := mustValidator(t)
	payload := []byte(`{"timestamp":1000,"tokenCount":0,"toolCalls":0,"latencyMs":0,"outputLength":0}`)
	assert.NoError(t, v.ValidateJSON(payload))
}

func TestNewAgentEventValidatorFromSchema_CompilesCustomSchema(t *testing.T) {
	schema := []byte(`{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["timestamp", "tokenCount", "toolCalls", "latencyMs", "outputLength", "sessionId"],
		"properties": {
			"timestamp":    { "type": "integer" },
			"tokenCount":   { "type": "integer", "minimum": 0 },
			"toolCalls":    { "type": "integer", "minimum": 0 },
			"latencyMs":    { "type": "integer", "minimum": 0 },
			"outputLength": { "type": "integer", "minimum": 0 },
			"sessionId":    { "type": "string" }
		}
	}`)
	v, err := validation.NewAgentEventValidatorFromSchema(schema)
	require.NoError(t, err)

	assert.Error(t, v.ValidateJSON([]byte(`{"timestamp":1,"tokenCount":1,"toolCalls":1,"latencyMs":1,"outputLength":1}`)))
	assert.NoError(t, v.ValidateJSON([]byte(`{"timestamp":1,"tokenCount":1,"toolCalls":1,"latencyMs":1,"outputLength":1,"sessionId":"s1"}`)))
}

func TestNewAgentEventValidatorFromSchema_RejectsInvalidSchemaJSON(t *testing.T) {
	_, err := validation.NewAgentEventValidatorFromSchema([]byte(`not-json`))
	assert.Error(t, err)
}
