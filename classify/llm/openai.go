package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/tripwire-kernel/kernel/agentevent"
)

// chatClient mirrors the subset of the OpenAI SDK client this backend needs.
type chatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// OpenAIClassifier corroborates behavioral verdicts via the OpenAI Chat Completions API.
// It is not grounded in the teacher (which only wires Anthropic and Bedrock model
// providers) but follows the same narrow-interface, provider-per-file shape.
type OpenAIClassifier struct {
	chat  chatClient
	model string
}

// NewOpenAIClassifier constructs a Classifier backed by chat, targeting model (e.g.
// "gpt-4o-mini").
func NewOpenAIClassifier(chat chatClient, model string) (*OpenAIClassifier, error) {
	if chat == nil {
		return nil, errors.New("llm: openai client is required")
	}
	if model == "" {
		return nil, errors.New("llm: openai model identifier is required")
	}
	return &OpenAIClassifier{chat: chat, model: model}, nil
}

// NewOpenAIClassifierFromAPIKey constructs a classifier using the default OpenAI HTTP
// client.
func NewOpenAIClassifierFromAPIKey(apiKey, model string) (*OpenAIClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return NewOpenAIClassifier(&client.Chat.Completions, model)
}

// Corroborate implements Classifier.
func (c *OpenAIClassifier) Corroborate(ctx context.Context, mode agentevent.Mode, recentOutputs []string) (Verdict, error) {
	prompt := fmt.Sprintf(corroborationPrompt, mode) + "\n\n" + strings.Join(recentOutputs, "\n---\n")
	resp, err := c.chat.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("llm: openai corroborate: %w", err)
	}
	text := extractOpenAIText(resp)
	return Verdict{Agrees: agreementFromText(text), Explanation: text}, nil
}

func extractOpenAIText(resp *openai.ChatCompletion) string {
	if len(resp.Choices) == 0 {
		return ""
	}
	return resp.Choices[0].Message.Content
}
