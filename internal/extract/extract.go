// Package extract pulls structured incident fields out of free text with
// cheap lexical patterns. It is best effort: a miss leaves a field absent.
package extract

import (
	"regexp"
	"strings"

	"carescribe/internal/domain"
)

var (
	// Turns are joined with newlines, so name and time patterns never span one.
	participantRe = regexp.MustCompile(`\b(?:[Pp]articipant|[Cc]lient|[Rr]esident|[Pp]erson)[ \t]+(?:named[ \t]+)?([A-Z][a-z]+(?:[ \t]+[A-Z][a-z]+)?)`)

	clockRe  = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}(?:[ \t]*(?:[ap]\.m\.|[ap]m\b))?)`)
	oclockRe = regexp.MustCompile(`(?i)\b((?:\d{1,2}|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve)[ \t]+o'clock)`)

	injuryNegationRe = regexp.MustCompile(`(?i)\b(?:no\s+injur|no\s+one\s+(?:was\s+|got\s+)?(?:hurt|injured|harmed)|nobody\s+(?:was\s+|got\s+)?(?:hurt|injured|harmed)|not\s+(?:injured|hurt|harmed)|(?:wasn't|was\s+not|weren't|were\s+not)\s+(?:injured|hurt|harmed)|without\s+injur)`)
	damageNegationRe = regexp.MustCompile(`(?i)\bno\s+(?:property\s+)?damage\b`)

	behaviorRe = regexp.MustCompile(`(?i)\b(?:meltdown|aggressi\w*|hit|hitting|kicked|kicking|punched|punching|bit|biting|threw|throwing|screamed|screaming|yelled|yelling|shouted|shouting|self-harm\w*|absconded|ran\s+away|refused|refusing)\b`)
	sentenceRe = regexp.MustCompile(`[^.!?\n]+`)

	locationRe = regexp.MustCompile(`(?i)\b(?:in|at)\s+the\s+(kitchen|lounge(?:\s+room)?|living\s+room|bedroom|bathroom|dining\s+room|garden|backyard|hallway|office|car|van|bus|park|shop|day\s+program|community\s+cent(?:re|er)|school)\b`)
)

// Connectives are tried in order; the first one present wins.
var triggerConnectives = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\btriggered\s+by\s+([^.!?\n]+)`),
	regexp.MustCompile(`(?i)\bcaused\s+by\s+([^.!?\n]+)`),
	regexp.MustCompile(`(?i)\bstarted\s+when\s+([^.!?\n]+)`),
	regexp.MustCompile(`(?i)\bbegan\s+when\s+([^.!?\n]+)`),
	regexp.MustCompile(`(?i)\bbecause\s+([^.!?\n]+)`),
}

var (
	injuryKeywords = []string{"injur", "hurt", "harm", "wound"}
	damageKeywords = []string{"property damage", "broke", "damaged", "destroyed"}
)

type intervention struct {
	label string
	re    *regexp.Regexp
}

var interventions = []intervention{
	{"verbal de-escalation", regexp.MustCompile(`(?i)de-?escalat|spoke\s+calmly|talked\s+calmly|reassur`)},
	{"redirection", regexp.MustCompile(`(?i)\bredirect`)},
	{"PRN medication", regexp.MustCompile(`(?i)\bprn\b`)},
	{"first aid", regexp.MustCompile(`(?i)\bfirst\s+aid\b`)},
	{"removed others from the area", regexp.MustCompile(`(?i)\b(?:moved|removed|cleared)\s+(?:the\s+)?(?:other|others|residents|participants)\b`)},
	{"emergency services called", regexp.MustCompile(`(?i)\b(?:called|rang|phoned)\s+(?:000|911|triple\s+zero|an?\s+ambulance|the\s+police|emergency)`)},
	{"supervisor notified", regexp.MustCompile(`(?i)\b(?:called|rang|phoned|notified|contacted|informed)\s+(?:my\s+|the\s+|our\s+)?(?:supervisor|manager|team\s+leader|on-call)`)},
	{"physical restraint", regexp.MustCompile(`(?i)\brestrain`)},
}

// Extract returns the fields found in text. Fields without a match stay absent.
func Extract(text string) domain.Understanding {
	text = normalize(text)
	lower := strings.ToLower(text)

	var u domain.Understanding

	if m := participantRe.FindStringSubmatch(text); m != nil {
		u.ParticipantName = m[1]
	}

	u.TimeOfDay = timeOfDay(text)
	u.TriggerDescription = trigger(text)
	u.BehaviorDescription = behavior(text)

	if m := locationRe.FindStringSubmatch(text); m != nil {
		u.LocationHint = strings.ToLower(strings.Join(strings.Fields(m[1]), " "))
	}

	switch {
	case damageNegationRe.MatchString(text):
		u.PropertyDamage = domain.Bool(false)
	case containsAny(lower, damageKeywords):
		u.PropertyDamage = domain.Bool(true)
	}

	switch {
	case injuryNegationRe.MatchString(text):
		u.InjuriesPresent = domain.Bool(false)
	case containsAny(lower, injuryKeywords):
		u.InjuriesPresent = domain.Bool(true)
	}

	for _, in := range interventions {
		if in.re.MatchString(text) {
			u.InterventionsApplied = append(u.InterventionsApplied, in.label)
		}
	}

	return u
}

// Update merges the fields found in text into prev.
func Update(prev domain.Understanding, text string) domain.Understanding {
	return prev.Merge(Extract(text))
}

func timeOfDay(text string) string {
	if m := clockRe.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	if m := oclockRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func trigger(text string) string {
	for _, re := range triggerConnectives {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		clause := strings.TrimRight(strings.TrimSpace(m[1]), ",;:")
		if clause != "" {
			return clause
		}
	}
	return ""
}

func behavior(text string) string {
	for _, s := range sentenceRe.FindAllString(text, -1) {
		if behaviorRe.MatchString(s) {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func normalize(text string) string {
	return strings.NewReplacer("’", "'", "‘", "'").Replace(text)
}

func containsAny(s string, keys []string) bool {
	for _, k := range keys {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
