package stt

import (
	"context"
	"fmt"
)

// Audio is one finished recording handed to a provider as an opaque blob.
type Audio struct {
	Data        []byte
	Filename    string // e.g. "segment.wav", tells the provider the container
	ContentType string
}

type Options struct {
	Language string // e.g. "en"; empty lets the provider detect
	Prompt   string // domain vocabulary hint
}

type Transcriber interface {
	Transcribe(ctx context.Context, audio Audio, opt Options) (string, error)
}

const genericFailure = "transcription failed"

// TranscriptionError carries what the provider said about a failed call.
type TranscriptionError struct {
	Provider   string
	StatusCode int // 0 when no HTTP response was received
	Message    string
	Err        error
}

func (e *TranscriptionError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = genericFailure
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *TranscriptionError) Unwrap() error { return e.Err }

// UserMessage is the text shown next to a failed segment.
func (e *TranscriptionError) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	return genericFailure
}

func (a Audio) filename() string {
	if a.Filename == "" {
		return "segment.wav"
	}
	return a.Filename
}

func (a Audio) contentType() string {
	if a.ContentType == "" {
		return "audio/wav"
	}
	return a.ContentType
}
