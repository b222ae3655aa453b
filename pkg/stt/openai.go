package stt

import (
	"bytes"
	"context"
	"errors"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAI uses the hosted audio transcriptions endpoint.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(model string, opts ...option.RequestOption) *OpenAI {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	opts = append([]option.RequestOption{option.WithMaxRetries(0)}, opts...)
	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (o *OpenAI) Transcribe(ctx context.Context, audio Audio, opt Options) (string, error) {
	if len(audio.Data) == 0 {
		return "", &TranscriptionError{Provider: "openai", Message: "no audio provided"}
	}

	params := openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio.Data), audio.filename(), audio.contentType()),
		Model: openai.AudioModel(o.model),
	}
	if opt.Language != "" {
		params.Language = openai.String(opt.Language)
	}
	if opt.Prompt != "" {
		params.Prompt = openai.String(opt.Prompt)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		te := &TranscriptionError{Provider: "openai", Err: err}
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			te.StatusCode = apiErr.StatusCode
			te.Message = strings.TrimSpace(apiErr.Message)
		}
		return "", te
	}

	return resp.Text, nil
}
