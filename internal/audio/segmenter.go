package audio

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"carescribe/pkg/audioconv"
	"carescribe/pkg/stt"
)

const (
	DefaultSilenceThreshold = 5.0
	DefaultSilenceDuration  = 3 * time.Second
)

type Config struct {
	SilenceThreshold float64       // 0-100 level; 0 => DefaultSilenceThreshold
	SilenceDuration  time.Duration // <=0 => DefaultSilenceDuration
	KeepAudio        bool          // keep WAV after a successful transcription
	Clock            Clock
	OnEvent          func(Event)
}

type segmentTranscriber interface {
	Transcribe(ctx context.Context, seg Segment) (string, error)
}

// Segmenter owns one microphone lifecycle at a time and the list of
// segments it produced.
type Segmenter struct {
	source Source
	client segmentTranscriber
	clock  Clock
	cfg    Config

	mu       sync.Mutex
	state    State
	opening  bool
	closed   bool
	stream   Stream
	buf      []float32
	level    float64
	silence  SilenceDetector
	segments []*Segment
}

func NewSegmenter(source Source, client *TranscriptionClient, cfg Config) *Segmenter {
	if cfg.SilenceThreshold <= 0 {
		cfg.SilenceThreshold = DefaultSilenceThreshold
	}
	if cfg.SilenceDuration <= 0 {
		cfg.SilenceDuration = DefaultSilenceDuration
	}
	clock := cfg.Clock
	if clock == nil {
		clock = realClock{}
	}

	return &Segmenter{
		source: source,
		client: client,
		clock:  clock,
		cfg:    cfg,
		state:  StateIdle,
		silence: SilenceDetector{
			Threshold: cfg.SilenceThreshold,
			Duration:  cfg.SilenceDuration,
		},
	}
}

func (s *Segmenter) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Level is the latest 0-100 input level, for meters.
func (s *Segmenter) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Segmenter) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.opening || s.state != StateIdle {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("start recording while %s: %w", cur, ErrInvalidState)
	}
	s.opening = true
	s.mu.Unlock()

	stream, err := s.source.Open(ctx)

	s.mu.Lock()
	s.opening = false
	if err != nil {
		s.mu.Unlock()
		var mae *MicrophoneAccessError
		if !errors.As(err, &mae) {
			err = &MicrophoneAccessError{Err: err}
		}
		log.Error("Failed to open microphone", "err", err)
		return err
	}
	if s.closed {
		s.mu.Unlock()
		_ = stream.Close()
		return fmt.Errorf("start recording after close: %w", ErrInvalidState)
	}
	s.stream = stream
	s.buf = nil
	s.silence.Reset()
	s.state = StateListening
	s.mu.Unlock()

	go s.capture(stream)

	s.emit(Event{Kind: EventStateChanged, State: StateListening})
	return nil
}

func (s *Segmenter) Pause() error {
	return s.transition(StateListening, StatePaused)
}

// Resume keeps appending to the segment that was paused.
func (s *Segmenter) Resume() error {
	return s.transition(StatePaused, StateListening)
}

func (s *Segmenter) transition(from, to State) error {
	s.mu.Lock()
	if s.state != from {
		cur := s.state
		s.mu.Unlock()
		return fmt.Errorf("%s -> %s while %s: %w", from, to, cur, ErrInvalidState)
	}
	s.state = to
	s.silence.Reset()
	s.mu.Unlock()

	s.emit(Event{Kind: EventStateChanged, State: to})
	return nil
}

// StopAndSaveSegment ends the current recording, stores it as a pending
// segment and transcribes it. It returns once transcription finished,
// whatever its outcome.
func (s *Segmenter) StopAndSaveSegment(ctx context.Context) (Segment, error) {
	s.mu.Lock()
	if s.state != StateListening && s.state != StatePaused {
		cur := s.state
		s.mu.Unlock()
		return Segment{}, fmt.Errorf("stop while %s: %w", cur, ErrInvalidState)
	}
	stream := s.stream
	pcm := s.buf
	s.stream = nil
	s.buf = nil
	s.level = 0
	if len(pcm) == 0 {
		s.state = StateIdle
	} else {
		s.state = StateProcessing
	}
	state := s.state
	s.mu.Unlock()

	if stream != nil {
		if err := stream.Close(); err != nil {
			log.Warn("Failed to close microphone stream", "err", err)
		}
	}
	s.emit(Event{Kind: EventStateChanged, State: state})

	if len(pcm) == 0 {
		return Segment{}, ErrNoAudio
	}

	return s.saveAndTranscribe(ctx, pcm)
}

// ImportFile turns a pre-recorded wav/mp3/ogg file into a segment.
func (s *Segmenter) ImportFile(ctx context.Context, path string) (Segment, error) {
	s.mu.Lock()
	if s.closed || s.opening || s.state != StateIdle {
		cur := s.state
		s.mu.Unlock()
		return Segment{}, fmt.Errorf("import while %s: %w", cur, ErrInvalidState)
	}
	s.state = StateProcessing
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, State: StateProcessing})

	pcm, err := audioconv.ConvertFileToPCM16k(ctx, path, audioconv.Options{})
	if err != nil {
		s.setState(StateIdle)
		return Segment{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if len(pcm) == 0 {
		s.setState(StateIdle)
		return Segment{}, ErrNoAudio
	}

	return s.saveAndTranscribe(ctx, pcm)
}

func (s *Segmenter) saveAndTranscribe(ctx context.Context, pcm []float32) (Segment, error) {
	defer s.setState(StateIdle)

	blob, err := audioconv.EncodeWAV(pcm)
	if err != nil {
		return Segment{}, fmt.Errorf("encode segment: %w", err)
	}

	seg := &Segment{
		ID:                 uuid.NewString(),
		Audio:              blob,
		DurationSeconds:    audioconv.Duration(len(pcm)),
		TranscriptionState: TranscriptionPending,
		CreatedAt:          s.clock.Now(),
	}

	s.mu.Lock()
	s.segments = append(s.segments, seg)
	snapshot := *seg
	s.mu.Unlock()

	log.Info("Segment saved", "segment", seg.ID, "seconds", seg.DurationSeconds)
	s.emit(Event{Kind: EventSegmentSaved, Segment: snapshot})

	if err := s.transcribe(ctx, seg.ID); err != nil {
		return Segment{}, err
	}

	out, ok := s.Segment(seg.ID)
	if !ok {
		// deleted while transcribing
		return snapshot, nil
	}
	return out, nil
}

// RetryTranscription re-runs a failed segment on its original audio.
func (s *Segmenter) RetryTranscription(ctx context.Context, id string) (Segment, error) {
	s.mu.Lock()
	seg := s.find(id)
	if seg == nil {
		s.mu.Unlock()
		return Segment{}, ErrSegmentNotFound
	}
	if seg.TranscriptionState != TranscriptionFailed {
		st := seg.TranscriptionState
		s.mu.Unlock()
		return Segment{}, fmt.Errorf("retry %s segment: %w", st, ErrInvalidState)
	}
	seg.TranscriptionState = TranscriptionPending
	s.mu.Unlock()

	if err := s.transcribe(ctx, id); err != nil {
		return Segment{}, err
	}
	out, ok := s.Segment(id)
	if !ok {
		return Segment{}, ErrSegmentNotFound
	}
	return out, nil
}

func (s *Segmenter) transcribe(ctx context.Context, id string) error {
	s.mu.Lock()
	seg := s.find(id)
	if seg == nil {
		s.mu.Unlock()
		return ErrSegmentNotFound
	}
	if seg.TranscriptionState != TranscriptionPending {
		s.mu.Unlock()
		return fmt.Errorf("transcribe %s segment: %w", seg.TranscriptionState, ErrInvalidState)
	}
	seg.TranscriptionState = TranscriptionInProgress
	seg.Attempts++
	snapshot := *seg
	s.mu.Unlock()

	s.emit(Event{Kind: EventSegmentUpdated, Segment: snapshot})

	text, err := s.client.Transcribe(ctx, snapshot)

	s.mu.Lock()
	seg = s.find(id)
	if seg == nil {
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		seg.TranscriptionState = TranscriptionFailed
		seg.Error = failureMessage(err)
	} else {
		seg.TranscriptionState = TranscriptionSucceeded
		seg.TranscriptionText = text
		seg.Error = ""
		if !s.cfg.KeepAudio {
			seg.Audio = nil
		}
	}
	snapshot = *seg
	s.mu.Unlock()

	if err != nil {
		log.Warn("Transcription failed", "segment", id, "attempt", snapshot.Attempts, "err", err)
	} else {
		log.Info("Transcribed", "segment", id, "chars", len(text))
	}
	s.emit(Event{Kind: EventSegmentUpdated, Segment: snapshot, Err: err})
	return nil
}

func (s *Segmenter) DeleteSegment(id string) {
	s.mu.Lock()
	var removed *Segment
	for i, seg := range s.segments {
		if seg.ID == id {
			removed = seg
			s.segments = append(s.segments[:i], s.segments[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	if removed != nil {
		s.emit(Event{Kind: EventSegmentDeleted, Segment: *removed})
	}
}

func (s *Segmenter) Segment(id string) (Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg := s.find(id)
	if seg == nil {
		return Segment{}, false
	}
	return *seg, true
}

// Segments returns snapshots in creation order.
func (s *Segmenter) Segments() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, 0, len(s.segments))
	for _, seg := range s.segments {
		out = append(out, *seg)
	}
	return out
}

// Close releases the microphone and drops any unsaved audio.
func (s *Segmenter) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	stream := s.stream
	s.stream = nil
	s.buf = nil
	s.level = 0
	if s.state != StateProcessing {
		s.state = StateIdle
	}
	s.mu.Unlock()

	if stream != nil {
		return stream.Close()
	}
	return nil
}

func (s *Segmenter) capture(stream Stream) {
	for {
		frame, err := stream.Read()
		if err != nil {
			s.streamFailed(stream, err)
			return
		}
		if !s.handleFrame(stream, frame) {
			return
		}
	}
}

func (s *Segmenter) handleFrame(stream Stream, frame []float32) bool {
	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		return false
	}

	s.level = Level(frame)
	autoPaused := false
	if s.state == StateListening {
		s.buf = append(s.buf, frame...)
		if s.silence.Observe(s.level, s.clock.Now()) {
			s.state = StatePaused
			s.silence.Reset()
			autoPaused = true
		}
	}
	s.mu.Unlock()

	if autoPaused {
		log.Info("Auto-paused on silence", "after", s.cfg.SilenceDuration)
		s.emit(Event{Kind: EventAutoPaused, State: StatePaused})
	}
	return true
}

// streamFailed handles device loss. A stream we closed ourselves is no
// longer current and is ignored.
func (s *Segmenter) streamFailed(stream Stream, err error) {
	s.mu.Lock()
	if s.stream != stream {
		s.mu.Unlock()
		return
	}
	s.stream = nil
	s.buf = nil
	s.level = 0
	s.state = StateIdle
	s.silence.Reset()
	s.mu.Unlock()

	_ = stream.Close()
	log.Error("Microphone lost, unsaved audio discarded", "err", err)
	s.emit(Event{Kind: EventDeviceLost, State: StateIdle, Err: err})
}

func (s *Segmenter) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Kind: EventStateChanged, State: st})
}

func (s *Segmenter) find(id string) *Segment {
	for _, seg := range s.segments {
		if seg.ID == id {
			return seg
		}
	}
	return nil
}

func (s *Segmenter) emit(ev Event) {
	if s.cfg.OnEvent != nil {
		s.cfg.OnEvent(ev)
	}
}

func failureMessage(err error) string {
	var te *stt.TranscriptionError
	if errors.As(err, &te) {
		return te.UserMessage()
	}
	return "transcription failed"
}
