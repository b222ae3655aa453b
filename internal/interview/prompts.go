package interview

import (
	"fmt"
	"strings"

	"carescribe/internal/domain"
)

const (
	FallbackQuestion = "Can you provide more details about what happened?"
	FallbackOpener   = "I understand there was an incident. Can you tell me if everyone is safe?"
	ClosingMessage   = "Thank you, that's everything I need. I'm now preparing the incident report."
)

// DefaultClosingPhrases end the interview when found in a user turn.
var DefaultClosingPhrases = []string{
	"that's all",
	"that is all",
	"nothing else",
	"nothing more",
	"that's everything",
	"that's it",
}

const interviewerPrompt = `
You are CareScribe, a calm assistant that interviews disability support workers
right after an incident so that an NDIS-compliant incident report can be written.

RULES:
1. Ask exactly ONE short follow-up question per reply.
2. Never answer for the worker and never write the report yourself.
3. Do not repeat a question that was already answered.
4. Prefer what is still unknown: who was involved, what happened just before
   (antecedent), the behaviour itself, time and place, injuries, property damage,
   interventions used (de-escalation, redirection, PRN medication, first aid),
   who was notified and the participant's current state.
5. If the worker sounds distressed, acknowledge it briefly before the question.
6. Use plain, respectful language. No lists, no markdown.

Output ONLY the question.
`

const openingPrompt = `
This is the first reply of the interview. Start with a short safety check
(is everyone safe, is anyone injured) tied to what was described.
`

// systemMessages returns the interviewer instructions plus a summary of what
// is already known, so the next question targets the gaps.
func systemMessages(u domain.Understanding, opening bool, remaining int) []string {
	msgs := []string{strings.TrimSpace(interviewerPrompt)}
	if opening {
		msgs = append(msgs, strings.TrimSpace(openingPrompt))
	}

	missing := missingFields(u)
	if len(missing) > 0 {
		msgs = append(msgs, "Still unknown: "+strings.Join(missing, ", ")+".")
	}
	if remaining > 0 {
		msgs = append(msgs, fmt.Sprintf("At most %d more questions can be asked.", remaining))
	}
	return msgs
}

func missingFields(u domain.Understanding) []string {
	var out []string
	if u.ParticipantName == "" {
		out = append(out, "participant name")
	}
	if u.TriggerDescription == "" {
		out = append(out, "trigger")
	}
	if u.BehaviorDescription == "" {
		out = append(out, "behaviour")
	}
	if u.TimeOfDay == "" {
		out = append(out, "time")
	}
	if u.LocationHint == "" {
		out = append(out, "location")
	}
	if u.InjuriesPresent == nil {
		out = append(out, "injuries")
	}
	if u.PropertyDamage == nil {
		out = append(out, "property damage")
	}
	if len(u.InterventionsApplied) == 0 {
		out = append(out, "interventions")
	}
	return out
}
