package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnderstandingMergeOverwritesAndKeeps(t *testing.T) {
	base := Understanding{
		ParticipantName: "James",
		TimeOfDay:       "3:15 pm",
		InjuriesPresent: Bool(true),
	}

	next := Understanding{
		ParticipantName: "Sarah",
		InjuriesPresent: Bool(false),
		LocationHint:    "kitchen",
	}

	got := base.Merge(next)

	assert.Equal(t, "Sarah", got.ParticipantName)
	assert.Equal(t, "3:15 pm", got.TimeOfDay, "absent field must not be cleared")
	assert.Equal(t, "kitchen", got.LocationHint)
	require.NotNil(t, got.InjuriesPresent)
	assert.False(t, *got.InjuriesPresent)

	require.NotNil(t, base.InjuriesPresent)
	assert.True(t, *base.InjuriesPresent, "merge must not mutate the receiver")
}

func TestUnderstandingMergeUnionsInterventions(t *testing.T) {
	base := Understanding{InterventionsApplied: []string{"verbal de-escalation"}}
	got := base.Merge(Understanding{InterventionsApplied: []string{"PRN medication", "verbal de-escalation"}})

	assert.Equal(t, []string{"verbal de-escalation", "PRN medication"}, got.InterventionsApplied)
	assert.Equal(t, []string{"verbal de-escalation"}, base.InterventionsApplied)
}

func TestUnderstandingIsZero(t *testing.T) {
	assert.True(t, Understanding{}.IsZero())
	assert.False(t, Understanding{PropertyDamage: Bool(false)}.IsZero())
}

func TestTranscriptAndJoinText(t *testing.T) {
	now := time.Now()
	turns := []Turn{
		{Speaker: SpeakerUser, Text: "He threw a chair", CreatedAt: now},
		{Speaker: SpeakerAssistant, Text: "Was anyone hurt?", CreatedAt: now},
		{Speaker: SpeakerUser, Text: "No injuries", CreatedAt: now},
	}

	assert.Equal(t, "User: He threw a chair\nAssistant: Was anyone hurt?\nUser: No injuries", Transcript(turns))
	assert.Equal(t, "He threw a chair\nWas anyone hurt?\nNo injuries", JoinText(turns))
	assert.Equal(t, "", Transcript(nil))
}
