package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"

	"github.com/tripwire-kernel/kernel/agentevent"
)

// ErrRateLimited is returned (wrapped) when Bedrock signals throttling, so callers can
// distinguish a transient corroboration failure from a hard error.
var ErrRateLimited = errors.New("llm: bedrock rate limited")

// runtimeClient mirrors the subset of the AWS Bedrock runtime client this backend needs,
// matching *bedrockruntime.Client so callers can pass the real client or a mock in tests.
type runtimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClassifier corroborates behavioral verdicts via the AWS Bedrock Converse API.
type BedrockClassifier struct {
	runtime runtimeClient
	modelID string
}

// NewBedrockClassifier constructs a Classifier backed by runtime, targeting modelID (a
// Bedrock model identifier, e.g. an Anthropic-on-Bedrock ARN or model ID).
func NewBedrockClassifier(runtime runtimeClient, modelID string) (*BedrockClassifier, error) {
	if runtime == nil {
		return nil, errors.New("llm: bedrock runtime client is required")
	}
	if modelID == "" {
		return nil, errors.New("llm: bedrock model identifier is required")
	}
	return &BedrockClassifier{runtime: runtime, modelID: modelID}, nil
}

// Corroborate implements Classifier.
func (c *BedrockClassifier) Corroborate(ctx context.Context, mode agentevent.Mode, recentOutputs []string) (Verdict, error) {
	prompt := fmt.Sprintf(corroborationPrompt, mode) + "\n\n" + strings.Join(recentOutputs, "\n---\n")
	out, err := c.runtime.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: &c.modelID,
		Messages: []brtypes.Message{
			{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: prompt}},
			},
		},
	})
	if err != nil {
		if isBedrockRateLimited(err) {
			return Verdict{}, fmt.Errorf("%w: %w", ErrRateLimited, err)
		}
		return Verdict{}, fmt.Errorf("llm: bedrock corroborate: %w", err)
	}
	text := extractBedrockText(out)
	return Verdict{Agrees: agreementFromText(text), Explanation: text}, nil
}

// isBedrockRateLimited treats provider throttling error codes as a rate-limited condition,
// mirroring goa-ai's bedrock adapter's isRateLimited check.
func isBedrockRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	return false
}

func extractBedrockText(out *bedrockruntime.ConverseOutput) string {
	msgOutput, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return ""
	}
	var b strings.Builder
	for _, block := range msgOutput.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(textBlock.Value)
		}
	}
	return b.String()
}
