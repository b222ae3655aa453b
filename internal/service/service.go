// Package service is the boundary the host application talks to: a session
// handle ties one interview to one voice segmenter.
package service

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"strings"
	"sync"

	"carescribe/internal/audio"
	"carescribe/internal/domain"
	"carescribe/internal/interview"
)

var (
	ErrUnknownSession = errors.New("unknown session")
	ErrNotTerminated  = errors.New("interview not terminated")
	ErrNoTranscript   = errors.New("no transcribed segments to submit")
)

type Config struct {
	Manager       *interview.Manager
	Source        audio.Source
	Transcription *audio.TranscriptionClient
	Segmenter     audio.Config

	// OnSegmentEvent receives every segmenter event tagged with its session.
	OnSegmentEvent func(session string, ev audio.Event)
}

type Service struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	interview *interview.Session
	voice     *audio.Segmenter
}

func New(cfg Config) *Service {
	return &Service{
		cfg:      cfg,
		sessions: make(map[string]*entry),
	}
}

// Open creates a session that waits for its first description, typed or
// spoken.
func (s *Service) Open() string {
	sess := s.cfg.Manager.NewSession()
	id := sess.ID()

	segCfg := s.cfg.Segmenter
	if s.cfg.OnSegmentEvent != nil {
		hook := s.cfg.OnSegmentEvent
		inner := segCfg.OnEvent
		segCfg.OnEvent = func(ev audio.Event) {
			if inner != nil {
				inner(ev)
			}
			hook(id, ev)
		}
	}

	e := &entry{
		interview: sess,
		voice:     audio.NewSegmenter(s.cfg.Source, s.cfg.Transcription, segCfg),
	}

	s.mu.Lock()
	s.sessions[id] = e
	s.mu.Unlock()

	log.Info("Session opened", "session", id)
	return id
}

func (s *Service) BeginInterview(ctx context.Context, initialText string) (string, interview.Outcome, error) {
	if strings.TrimSpace(initialText) == "" {
		return "", interview.Outcome{}, interview.ErrEmptyInput
	}

	id := s.Open()
	out, err := s.SubmitTurn(ctx, id, initialText)
	if err != nil {
		_ = s.Close(id)
		return "", interview.Outcome{}, err
	}
	return id, out, nil
}

func (s *Service) SubmitTurn(ctx context.Context, handle, text string) (interview.Outcome, error) {
	e, err := s.get(handle)
	if err != nil {
		return interview.Outcome{}, err
	}
	return s.cfg.Manager.Submit(ctx, e.interview, text)
}

// SubmitVoice sends the text of all transcribed segments, in recording
// order, as the next user turn. Consumed segments are removed; failed and
// pending ones stay for retry.
func (s *Service) SubmitVoice(ctx context.Context, handle string) (interview.Outcome, error) {
	e, err := s.get(handle)
	if err != nil {
		return interview.Outcome{}, err
	}

	var (
		parts []string
		used  []string
	)
	for _, seg := range e.voice.Segments() {
		if seg.TranscriptionState != audio.TranscriptionSucceeded {
			continue
		}
		if t := strings.TrimSpace(seg.TranscriptionText); t != "" {
			parts = append(parts, t)
		}
		used = append(used, seg.ID)
	}
	if len(parts) == 0 {
		return interview.Outcome{}, ErrNoTranscript
	}

	out, err := s.cfg.Manager.Submit(ctx, e.interview, strings.Join(parts, " "))
	if err != nil {
		return interview.Outcome{}, err
	}
	for _, id := range used {
		e.voice.DeleteSegment(id)
	}
	return out, nil
}

func (s *Service) StartRecording(ctx context.Context, handle string) error {
	e, err := s.get(handle)
	if err != nil {
		return err
	}
	return e.voice.StartRecording(ctx)
}

func (s *Service) PauseRecording(handle string) error {
	e, err := s.get(handle)
	if err != nil {
		return err
	}
	return e.voice.Pause()
}

func (s *Service) ResumeRecording(handle string) error {
	e, err := s.get(handle)
	if err != nil {
		return err
	}
	return e.voice.Resume()
}

// RecordVoiceSegment stops the current recording and returns the
// transcribed (or failed) segment.
func (s *Service) RecordVoiceSegment(ctx context.Context, handle string) (audio.Segment, error) {
	e, err := s.get(handle)
	if err != nil {
		return audio.Segment{}, err
	}
	return e.voice.StopAndSaveSegment(ctx)
}

func (s *Service) RetrySegment(ctx context.Context, handle, segmentID string) (audio.Segment, error) {
	e, err := s.get(handle)
	if err != nil {
		return audio.Segment{}, err
	}
	return e.voice.RetryTranscription(ctx, segmentID)
}

func (s *Service) DeleteSegment(handle, segmentID string) error {
	e, err := s.get(handle)
	if err != nil {
		return err
	}
	e.voice.DeleteSegment(segmentID)
	return nil
}

func (s *Service) ImportAudio(ctx context.Context, handle, path string) (audio.Segment, error) {
	e, err := s.get(handle)
	if err != nil {
		return audio.Segment{}, err
	}
	return e.voice.ImportFile(ctx, path)
}

func (s *Service) GetSegments(handle string) ([]audio.Segment, error) {
	e, err := s.get(handle)
	if err != nil {
		return nil, err
	}
	return e.voice.Segments(), nil
}

// Interview exposes the session for read-only queries (state, progress,
// turns).
func (s *Service) Interview(handle string) (*interview.Session, error) {
	e, err := s.get(handle)
	if err != nil {
		return nil, err
	}
	return e.interview, nil
}

func (s *Service) RecorderState(handle string) (audio.State, error) {
	e, err := s.get(handle)
	if err != nil {
		return "", err
	}
	return e.voice.State(), nil
}

func (s *Service) GetFinalReport(handle string) (domain.Report, error) {
	e, err := s.get(handle)
	if err != nil {
		return domain.Report{}, err
	}
	rep, ok := e.interview.Report()
	if !ok {
		return domain.Report{}, fmt.Errorf("session %s is %s: %w", handle, e.interview.State(), ErrNotTerminated)
	}
	return rep, nil
}

// Close releases the session's microphone and forgets it.
func (s *Service) Close(handle string) error {
	s.mu.Lock()
	e, ok := s.sessions[handle]
	delete(s.sessions, handle)
	s.mu.Unlock()

	if !ok {
		return ErrUnknownSession
	}
	log.Info("Session closed", "session", handle, "state", e.interview.State())
	return e.voice.Close()
}

// Shutdown closes every session.
func (s *Service) Shutdown() {
	s.mu.Lock()
	all := s.sessions
	s.sessions = make(map[string]*entry)
	s.mu.Unlock()

	for id, e := range all {
		if err := e.voice.Close(); err != nil {
			log.Warn("Failed to close recorder", "session", id, "err", err)
		}
	}
}

func (s *Service) get(handle string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.sessions[handle]
	if !ok {
		return nil, fmt.Errorf("session %q: %w", handle, ErrUnknownSession)
	}
	return e, nil
}
