package interview

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"carescribe/internal/domain"
)

type State string

const (
	StateAwaitingInitialInput State = "awaiting_initial_input"
	StateInterviewing         State = "interviewing"
	StateFinalizing           State = "finalizing"
	StateTerminated           State = "terminated"
)

// maxProgress keeps the meter below 100% until the report exists.
const maxProgress = 0.95

// Session is one interview. turnMu serialises submissions; mu guards the
// fields and is never held across a provider call.
type Session struct {
	id       string
	maxTurns int

	turnMu sync.Mutex

	mu            sync.RWMutex
	state         State
	turns         []domain.Turn
	turnCount     int
	understanding domain.Understanding
	report        *domain.Report
}

func newSession(maxTurns int) *Session {
	return &Session{
		id:       uuid.NewString(),
		maxTurns: maxTurns,
		state:    StateAwaitingInitialInput,
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Turns returns a copy of the history in order.
func (s *Session) Turns() []domain.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Turn(nil), s.turns...)
}

// TurnCount counts user turns, the initial description included.
func (s *Session) TurnCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turnCount
}

func (s *Session) Understanding() domain.Understanding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.understanding.Clone()
}

func (s *Session) Progress() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == StateTerminated {
		return 1
	}
	return math.Min(float64(s.turnCount)/float64(s.maxTurns), maxProgress)
}

// Report is set once the session is terminated.
func (s *Session) Report() (domain.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.report == nil {
		return domain.Report{}, false
	}
	return *s.report, true
}

func (s *Session) appendLocked(speaker domain.Speaker, text string, at time.Time) domain.Turn {
	t := domain.Turn{Speaker: speaker, Text: text, CreatedAt: at}
	s.turns = append(s.turns, t)
	return t
}

func (s *Session) lastText(speaker domain.Speaker) string {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Speaker == speaker {
			return s.turns[i].Text
		}
	}
	return ""
}
