package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/tripwire-kernel/kernel/agentevent"
)

// messagesClient captures the subset of the Anthropic SDK client this backend needs, so
// tests can substitute a fake without a live API key.
type messagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// AnthropicClassifier corroborates behavioral verdicts via the Anthropic Claude Messages
// API.
type AnthropicClassifier struct {
	msg       messagesClient
	model     string
	maxTokens int64
}

// NewAnthropicClassifier constructs a Classifier backed by msg. model is a Claude model
// identifier (e.g. a value from the anthropic-sdk-go Model constants).
func NewAnthropicClassifier(msg messagesClient, model string) (*AnthropicClassifier, error) {
	if msg == nil {
		return nil, errors.New("llm: anthropic client is required")
	}
	if model == "" {
		return nil, errors.New("llm: model identifier is required")
	}
	return &AnthropicClassifier{msg: msg, model: model, maxTokens: 256}, nil
}

// NewAnthropicClassifierFromAPIKey constructs a classifier using the default Anthropic
// HTTP client.
func NewAnthropicClassifierFromAPIKey(apiKey, model string) (*AnthropicClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	client := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicClassifier(&client.Messages, model)
}

// Corroborate implements Classifier.
func (c *AnthropicClassifier) Corroborate(ctx context.Context, mode agentevent.Mode, recentOutputs []string) (Verdict, error) {
	prompt := fmt.Sprintf(corroborationPrompt, mode) + "\n\n" + strings.Join(recentOutputs, "\n---\n")
	resp, err := c.msg.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("llm: anthropic corroborate: %w", err)
	}
	text := extractText(resp)
	return Verdict{Agrees: agreementFromText(text), Explanation: text}, nil
}

func extractText(msg *sdk.Message) string {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return b.String()
}

func agreementFromText(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "agree") && !strings.Contains(lower, "disagree")
}
