package audio

import (
	"context"
	"errors"
	"time"

	"carescribe/pkg/stt"
)

const DefaultTranscriptionTimeout = 60 * time.Second

// TranscriptionClient turns one segment into text. Every failure comes back
// as *stt.TranscriptionError so the segment can show a message.
type TranscriptionClient struct {
	Transcriber stt.Transcriber
	Language    string
	Vocabulary  string // domain words passed to the provider as a prompt
	Timeout     time.Duration
}

func (c *TranscriptionClient) Transcribe(ctx context.Context, seg Segment) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTranscriptionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text, err := c.Transcriber.Transcribe(ctx, stt.Audio{
		Data:        seg.Audio,
		Filename:    "segment.wav",
		ContentType: "audio/wav",
	}, stt.Options{
		Language: c.Language,
		Prompt:   c.Vocabulary,
	})
	if err != nil {
		var te *stt.TranscriptionError
		if errors.As(err, &te) {
			return "", te
		}
		return "", &stt.TranscriptionError{Provider: "stt", Err: err}
	}

	return text, nil
}
