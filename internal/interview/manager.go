package interview

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"

	"carescribe/internal/domain"
	"carescribe/internal/extract"
	"carescribe/internal/llm"
)

const (
	DefaultMaxTurns         = 10
	DefaultFinalizeDelay    = 1500 * time.Millisecond
	DefaultQuestionTimeout  = 60 * time.Second
	DefaultSynthesisTimeout = 3 * time.Minute
)

var (
	ErrInterviewClosed = errors.New("interview is closed")
	ErrEmptyInput      = errors.New("empty input")
)

// Synthesizer turns a finished interview into a report. It never fails: a
// provider error yields a degraded report.
type Synthesizer interface {
	Synthesize(ctx context.Context, turns []domain.Turn, prior domain.Understanding) domain.Report
}

type Config struct {
	MaxTurns       int           // 0 => DefaultMaxTurns
	FinalizeDelay  time.Duration // 0 => DefaultFinalizeDelay, <0 => none
	ClosingPhrases []string      // nil => DefaultClosingPhrases
	Now            func() time.Time

	// Per call bounds on the chat provider. 0 => the defaults.
	QuestionTimeout  time.Duration
	SynthesisTimeout time.Duration

	OnTurn  func(session string, turn domain.Turn)
	OnState func(session string, state State)
}

// Outcome is the result of one submitted user turn: the next question while
// interviewing, the report once terminated.
type Outcome struct {
	State    State          `json:"state"`
	Question string         `json:"question,omitempty"`
	Report   *domain.Report `json:"report,omitempty"`
	Progress float64        `json:"progress"`
}

type Manager struct {
	provider llm.Provider
	synth    Synthesizer
	cfg      Config
	closing  []string
}

func NewManager(provider llm.Provider, synth Synthesizer, cfg Config) *Manager {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = DefaultMaxTurns
	}
	if cfg.FinalizeDelay == 0 {
		cfg.FinalizeDelay = DefaultFinalizeDelay
	}
	if cfg.ClosingPhrases == nil {
		cfg.ClosingPhrases = DefaultClosingPhrases
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.QuestionTimeout <= 0 {
		cfg.QuestionTimeout = DefaultQuestionTimeout
	}
	if cfg.SynthesisTimeout <= 0 {
		cfg.SynthesisTimeout = DefaultSynthesisTimeout
	}

	closing := make([]string, 0, len(cfg.ClosingPhrases))
	for _, p := range cfg.ClosingPhrases {
		closing = append(closing, normalize(p))
	}

	return &Manager{
		provider: provider,
		synth:    synth,
		cfg:      cfg,
		closing:  closing,
	}
}

func (m *Manager) NewSession() *Session {
	return newSession(m.cfg.MaxTurns)
}

// Submit processes one user turn. Turns of the same session are handled one
// at a time; a concurrent call waits for the previous one, provider call
// included. Provider failures never surface here.
func (m *Manager) Submit(ctx context.Context, s *Session, text string) (Outcome, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Outcome{}, ErrEmptyInput
	}

	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	s.mu.Lock()
	prev := s.state
	if prev == StateFinalizing || prev == StateTerminated {
		s.mu.Unlock()
		return Outcome{}, ErrInterviewClosed
	}
	opening := prev == StateAwaitingInitialInput

	lastAssistant := s.lastText(domain.SpeakerAssistant)
	turn := s.appendLocked(domain.SpeakerUser, text, m.cfg.Now())
	s.turnCount++
	if opening {
		s.understanding = extract.Update(s.understanding, text)
		s.state = StateInterviewing
	} else {
		s.understanding = extract.Update(s.understanding, joinNonEmpty(text, lastAssistant))
	}
	count := s.turnCount
	s.mu.Unlock()

	m.turnAdded(s, turn)
	if opening {
		m.stateChanged(s, StateInterviewing)
	}

	if count >= m.cfg.MaxTurns || (!opening && m.isClosing(text)) {
		log.Info("Interview finalizing", "session", s.id, "turns", count)
		return m.finalize(ctx, s), nil
	}

	question := m.ask(ctx, s, opening)
	s.mu.Lock()
	turn = s.appendLocked(domain.SpeakerAssistant, question, m.cfg.Now())
	s.mu.Unlock()
	m.turnAdded(s, turn)

	return Outcome{
		State:    StateInterviewing,
		Question: question,
		Progress: s.Progress(),
	}, nil
}

// ask requests the next question, falling back to a fixed one on any
// provider failure or empty reply.
func (m *Manager) ask(ctx context.Context, s *Session, opening bool) string {
	fallback := FallbackQuestion
	if opening {
		fallback = FallbackOpener
	}

	s.mu.RLock()
	remaining := m.cfg.MaxTurns - s.turnCount
	var msgs []llm.Message
	for _, c := range systemMessages(s.understanding, opening, remaining) {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: c})
	}
	for _, t := range s.turns {
		role := llm.RoleUser
		if t.Speaker == domain.SpeakerAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	s.mu.RUnlock()

	if m.provider == nil {
		return fallback
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.QuestionTimeout)
	defer cancel()

	reply, err := m.provider.Complete(ctx, msgs)
	if err != nil {
		log.Warn("Question request failed, using fallback", "session", s.id, "opening", opening, "err", err)
		return fallback
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		log.Warn("Empty question from provider, using fallback", "session", s.id, "opening", opening)
		return fallback
	}
	return reply
}

func (m *Manager) finalize(ctx context.Context, s *Session) Outcome {
	s.mu.Lock()
	turn := s.appendLocked(domain.SpeakerAssistant, ClosingMessage, m.cfg.Now())
	s.state = StateFinalizing
	s.mu.Unlock()

	m.turnAdded(s, turn)
	m.stateChanged(s, StateFinalizing)

	if d := m.cfg.FinalizeDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}
	// a caller that gave up during the delay still gets its report written
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	synthCtx, cancel := context.WithTimeout(ctx, m.cfg.SynthesisTimeout)
	defer cancel()

	report := m.synth.Synthesize(synthCtx, s.Turns(), s.Understanding())
	if report.Degraded {
		log.Warn("Report degraded to raw transcript", "session", s.id)
	} else {
		log.Info("Report ready", "session", s.id, "chars", len(report.NarrativeText))
	}

	s.mu.Lock()
	s.report = &report
	s.state = StateTerminated
	s.mu.Unlock()
	m.stateChanged(s, StateTerminated)

	out := report
	return Outcome{State: StateTerminated, Report: &out, Progress: 1}
}

func (m *Manager) isClosing(text string) bool {
	t := normalize(text)
	for _, p := range m.closing {
		if p != "" && strings.Contains(t, p) {
			return true
		}
	}
	return false
}

func (m *Manager) turnAdded(s *Session, t domain.Turn) {
	if m.cfg.OnTurn != nil {
		m.cfg.OnTurn(s.id, t)
	}
}

func (m *Manager) stateChanged(s *Session, st State) {
	if m.cfg.OnState != nil {
		m.cfg.OnState(s.id, st)
	}
}

func normalize(s string) string {
	s = strings.NewReplacer("’", "'", "‘", "'").Replace(s)
	return strings.ToLower(s)
}

func joinNonEmpty(a, b string) string {
	if b == "" {
		return a
	}
	return a + "\n" + b
}
