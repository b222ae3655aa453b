package domain

import (
	"strings"
	"time"
)

// Speaker tags who produced a turn.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one speaker-attributed message of an interview.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
}

// Understanding is the partial structured view of an incident.
// Every field is optional; booleans are nil until something was said about them.
type Understanding struct {
	ParticipantName      string   `json:"participantName,omitempty"`
	TriggerDescription   string   `json:"triggerDescription,omitempty"`
	BehaviorDescription  string   `json:"behaviorDescription,omitempty"`
	TimeOfDay            string   `json:"timeOfDay,omitempty"`
	LocationHint         string   `json:"locationHint,omitempty"`
	InjuriesPresent      *bool    `json:"injuriesPresent,omitempty"`
	PropertyDamage       *bool    `json:"propertyDamage,omitempty"`
	InterventionsApplied []string `json:"interventionsApplied,omitempty"`
}

// Merge overlays next onto u. Populated fields of next win, absent ones leave
// u untouched, interventions accumulate without duplicates.
func (u Understanding) Merge(next Understanding) Understanding {
	out := u
	if next.ParticipantName != "" {
		out.ParticipantName = next.ParticipantName
	}
	if next.TriggerDescription != "" {
		out.TriggerDescription = next.TriggerDescription
	}
	if next.BehaviorDescription != "" {
		out.BehaviorDescription = next.BehaviorDescription
	}
	if next.TimeOfDay != "" {
		out.TimeOfDay = next.TimeOfDay
	}
	if next.LocationHint != "" {
		out.LocationHint = next.LocationHint
	}
	if next.InjuriesPresent != nil {
		out.InjuriesPresent = Bool(*next.InjuriesPresent)
	}
	if next.PropertyDamage != nil {
		out.PropertyDamage = Bool(*next.PropertyDamage)
	}

	if len(next.InterventionsApplied) > 0 {
		merged := append([]string(nil), u.InterventionsApplied...)
		for _, in := range next.InterventionsApplied {
			if !contains(merged, in) {
				merged = append(merged, in)
			}
		}
		out.InterventionsApplied = merged
	}

	return out
}

// IsZero reports whether nothing has been extracted yet.
func (u Understanding) IsZero() bool {
	return u.ParticipantName == "" &&
		u.TriggerDescription == "" &&
		u.BehaviorDescription == "" &&
		u.TimeOfDay == "" &&
		u.LocationHint == "" &&
		u.InjuriesPresent == nil &&
		u.PropertyDamage == nil &&
		len(u.InterventionsApplied) == 0
}

// Clone returns a deep copy so callers cannot alias session state.
func (u Understanding) Clone() Understanding {
	out := u
	if u.InjuriesPresent != nil {
		out.InjuriesPresent = Bool(*u.InjuriesPresent)
	}
	if u.PropertyDamage != nil {
		out.PropertyDamage = Bool(*u.PropertyDamage)
	}
	out.InterventionsApplied = append([]string(nil), u.InterventionsApplied...)
	return out
}

// Report is the final output of an interview.
type Report struct {
	NarrativeText    string        `json:"narrativeText"`
	Understanding    Understanding `json:"understanding"`
	SourceTranscript string        `json:"sourceTranscript"`
	Degraded         bool          `json:"degraded,omitempty"`
	GeneratedAt      time.Time     `json:"generatedAt"`
}

// Transcript renders turns as speaker-labelled lines.
func Transcript(turns []Turn) string {
	var b strings.Builder
	for i, t := range turns {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(speakerLabel(t.Speaker))
		b.WriteString(": ")
		b.WriteString(t.Text)
	}
	return b.String()
}

// JoinText concatenates the text of all turns, one per line.
func JoinText(turns []Turn) string {
	parts := make([]string, 0, len(turns))
	for _, t := range turns {
		parts = append(parts, t.Text)
	}
	return strings.Join(parts, "\n")
}

func Bool(v bool) *bool { return &v }

func speakerLabel(s Speaker) string {
	switch s {
	case SpeakerAssistant:
		return "Assistant"
	default:
		return "User"
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
