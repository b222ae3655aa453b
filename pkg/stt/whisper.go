package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"

	"github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"carescribe/pkg/audioconv"
)

type WhisperOptions struct {
	Threads     int  // <=0 => NumCPU()
	BeamSize    int  // 0 = greedy
	SplitOnWord bool // split on word boundaries
	Translate   bool // translate non-EN -> EN
}

// Whisper runs a local whisper.cpp model. Used when audio must not leave
// the device.
type Whisper struct {
	mu    sync.Mutex // a whisper model is not safe for parallel contexts on small hosts
	model whisper.Model
	opt   WhisperOptions
}

func NewWhisper(modelPath string, opt WhisperOptions) (*Whisper, error) {
	if modelPath == "" {
		return nil, errors.New("empty model path")
	}
	m, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	return &Whisper{model: m, opt: opt}, nil
}

func (w *Whisper) Close() error {
	if w.model == nil {
		return nil
	}
	return w.model.Close()
}

func (w *Whisper) Transcribe(ctx context.Context, audio Audio, opt Options) (string, error) {
	pcm, err := audioconv.DecodeToPCM16k(bytes.NewReader(audio.Data), audio.filename(), audioconv.Options{})
	if err != nil {
		return "", &TranscriptionError{Provider: "whisper", Message: "cannot decode audio", Err: err}
	}

	text, err := w.transcribePCM(ctx, pcm, opt)
	if err != nil {
		return "", &TranscriptionError{Provider: "whisper", Err: err}
	}
	return text, nil
}

// pcm16k must be mono @ 16 kHz, float32 in [-1, 1]
func (w *Whisper) transcribePCM(ctx context.Context, pcm16k []float32, opt Options) (string, error) {
	if w.model == nil {
		return "", errors.New("nil model")
	}
	if len(pcm16k) == 0 {
		return "", errors.New("no audio samples provided")
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	wctx, err := w.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("new context: %w", err)
	}

	lang := opt.Language
	if lang == "" {
		lang = "auto"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return "", fmt.Errorf("set language: %w", err)
	}
	wctx.SetTranslate(w.opt.Translate)

	threads := w.opt.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	wctx.SetThreads(uint(threads))

	if w.opt.SplitOnWord {
		wctx.SetSplitOnWord(true)
	}
	if w.opt.BeamSize > 0 {
		wctx.SetBeamSize(w.opt.BeamSize)
	}
	if opt.Prompt != "" {
		wctx.SetInitialPrompt(opt.Prompt)
	}

	if err := wctx.Process(pcm16k, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process: %w", err)
	}

	var parts []string
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}

		s, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("next segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(s.Text))
	}

	return strings.Join(parts, " "), nil
}
