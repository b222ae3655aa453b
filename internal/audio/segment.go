package audio

import (
	"errors"
	"time"
)

type State string

const (
	StateIdle       State = "idle"
	StateListening  State = "listening"
	StatePaused     State = "paused"
	StateProcessing State = "processing"
)

type TranscriptionState string

const (
	TranscriptionPending    TranscriptionState = "pending"
	TranscriptionInProgress TranscriptionState = "in_progress"
	TranscriptionSucceeded  TranscriptionState = "succeeded"
	TranscriptionFailed     TranscriptionState = "failed"
)

// Segment is one bounded recording. Audio is a WAV blob and is dropped after
// a successful transcription unless the segmenter keeps audio.
type Segment struct {
	ID                 string             `json:"id"`
	Audio              []byte             `json:"-"`
	DurationSeconds    float64            `json:"durationSeconds"`
	TranscriptionText  string             `json:"transcriptionText,omitempty"`
	TranscriptionState TranscriptionState `json:"transcriptionState"`
	Error              string             `json:"error,omitempty"`
	Attempts           int                `json:"attempts"`
	CreatedAt          time.Time          `json:"createdAt"`
}

var (
	ErrInvalidState    = errors.New("invalid recorder state")
	ErrNoAudio         = errors.New("no audio recorded")
	ErrSegmentNotFound = errors.New("segment not found")
)

type EventKind string

const (
	EventStateChanged   EventKind = "state_changed"
	EventAutoPaused     EventKind = "auto_paused"
	EventSegmentSaved   EventKind = "segment_saved"
	EventSegmentUpdated EventKind = "segment_updated"
	EventSegmentDeleted EventKind = "segment_deleted"
	EventDeviceLost     EventKind = "device_lost"
)

type Event struct {
	Kind    EventKind
	State   State
	Segment Segment
	Err     error
}

type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }
