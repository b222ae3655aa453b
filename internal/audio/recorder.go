package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Source hands out microphone streams.
type Source interface {
	Open(ctx context.Context) (Stream, error)
}

// Stream yields mono 16 kHz float frames until closed. Read returns an error
// once the stream is closed or the device is gone.
type Stream interface {
	Read() ([]float32, error)
	Close() error
}

// MicrophoneAccessError means no input stream could be opened: permission
// denied or no device.
type MicrophoneAccessError struct {
	Err error
}

func (e *MicrophoneAccessError) Error() string {
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

const (
	sampleRate = 16000
	frameSize  = 320 // 20ms
)

// Recorder is the portaudio-backed Source.
type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

func (r *Recorder) Open(_ context.Context) (Stream, error) {
	buf := make([]float32, frameSize)

	stream, err := portaudio.OpenDefaultStream(1, 0, sampleRate, len(buf), buf)
	if err != nil {
		return nil, &MicrophoneAccessError{Err: err}
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, &MicrophoneAccessError{Err: err}
	}

	return &paStream{stream: stream, buf: buf}, nil
}

type paStream struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buf    []float32
	closed bool
}

var errStreamClosed = errors.New("stream closed")

func (s *paStream) Read() ([]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errStreamClosed
	}
	if err := s.stream.Read(); err != nil {
		// overflow only means we were late; the frame is still usable
		if !errors.Is(err, portaudio.InputOverflowed) {
			return nil, err
		}
	}

	out := make([]float32, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *paStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if stopErr := s.stream.Stop(); stopErr != nil {
		err = stopErr
	}
	if closeErr := s.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
