package llm

import (
	"context"
	"errors"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
)

// Compat serves any OpenAI-compatible endpoint (OpenRouter, local gateways)
// through go-openai.
type Compat struct {
	client *goopenai.Client
	model  string
}

type CompatOptions struct {
	APIKey     string
	BaseURL    string
	Model      string
	Referrer   string
	Title      string
	HTTPClient *http.Client
}

type headerTransport struct {
	rt      http.RoundTripper
	headers http.Header
}

func (t headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cl := req.Clone(req.Context())
	for k, vs := range t.headers {
		for _, v := range vs {
			cl.Header.Add(k, v)
		}
	}
	return t.rt.RoundTrip(cl)
}

func NewCompat(opt CompatOptions) *Compat {
	config := goopenai.DefaultConfig(opt.APIKey)
	if opt.BaseURL != "" {
		config.BaseURL = opt.BaseURL
	}

	base := http.DefaultTransport
	httpClient := &http.Client{}
	if opt.HTTPClient != nil {
		cp := *opt.HTTPClient
		httpClient = &cp
		if cp.Transport != nil {
			base = cp.Transport
		}
	}

	if opt.Referrer != "" || opt.Title != "" {
		h := http.Header{}
		if opt.Referrer != "" {
			h.Set("HTTP-Referer", opt.Referrer)
		}
		if opt.Title != "" {
			h.Set("X-Title", opt.Title)
		}
		httpClient.Transport = headerTransport{rt: base, headers: h}
	}
	config.HTTPClient = httpClient

	return &Compat{
		client: goopenai.NewClientWithConfig(config),
		model:  opt.Model,
	}
}

func (c *Compat) Complete(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}

	resp, err := c.client.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		pe := &ProviderError{Provider: "compat", Err: err}
		var apiErr *goopenai.APIError
		if errors.As(err, &apiErr) {
			pe.StatusCode = apiErr.HTTPStatusCode
			pe.Message = apiErr.Message
		}
		return "", pe
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: "compat", Message: "no choices in response"}
	}
	if resp.Choices[0].Message.Content == "" {
		return "", &ProviderError{Provider: "compat", Message: "empty message content"}
	}

	return resp.Choices[0].Message.Content, nil
}
