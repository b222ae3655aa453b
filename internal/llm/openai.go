package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI talks to the chat completions API through openai-go.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(model string, opts ...option.RequestOption) *OpenAI {
	// SDK retries off: failed questions fall back, failed reports degrade.
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) Complete(ctx context.Context, messages []Message) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: toOpenAIMessages(messages),
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		pe := &ProviderError{Provider: "openai", Err: fmt.Errorf("chat completion: %w", err)}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.StatusCode
			pe.Message = apiErr.Message
		}
		return "", pe
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: "openai", Message: "no choices in response"}
	}

	content := resp.Choices[0].Message.Content
	if content == "" {
		return "", &ProviderError{Provider: "openai", Message: "empty message content"}
	}

	return content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
