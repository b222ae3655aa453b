package stt

import (
	"bytes"
	"context"
	"errors"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
)

// Compat targets self-hosted OpenAI-compatible transcription servers
// (faster-whisper, LocalAI, gateways) via go-openai.
type Compat struct {
	client *goopenai.Client
	model  string
}

func NewCompat(apiKey, baseURL, model string, httpClient *http.Client) *Compat {
	config := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if httpClient != nil {
		config.HTTPClient = httpClient
	}
	if model == "" {
		model = goopenai.Whisper1
	}
	return &Compat{
		client: goopenai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *Compat) Transcribe(ctx context.Context, audio Audio, opt Options) (string, error) {
	if len(audio.Data) == 0 {
		return "", &TranscriptionError{Provider: "compat", Message: "no audio provided"}
	}

	resp, err := c.client.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.model,
		FilePath: audio.filename(),
		Reader:   bytes.NewReader(audio.Data),
		Prompt:   opt.Prompt,
		Language: opt.Language,
	})
	if err != nil {
		te := &TranscriptionError{Provider: "compat", Err: err}
		var apiErr *goopenai.APIError
		var reqErr *goopenai.RequestError
		switch {
		case errors.As(err, &apiErr):
			te.StatusCode = apiErr.HTTPStatusCode
			te.Message = apiErr.Message
		case errors.As(err, &reqErr):
			te.StatusCode = reqErr.HTTPStatusCode
		}
		return "", te
	}

	return resp.Text, nil
}
