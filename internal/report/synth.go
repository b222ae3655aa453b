// Package report writes the final incident narrative for a finished interview.
package report

import (
	"context"
	"fmt"
	log "log/slog"
	"strings"
	"time"

	"carescribe/internal/domain"
	"carescribe/internal/extract"
	"carescribe/internal/llm"
)

type Synthesizer struct {
	provider llm.Provider
	now      func() time.Time
}

func New(provider llm.Provider) *Synthesizer {
	return &Synthesizer{provider: provider, now: time.Now}
}

// Synthesize makes one completion request over the labelled transcript. On
// any provider failure it returns the degraded report: turn texts joined by
// newlines and an empty understanding.
func (s *Synthesizer) Synthesize(ctx context.Context, turns []domain.Turn, prior domain.Understanding) domain.Report {
	transcript := domain.Transcript(turns)

	narrative, err := s.narrative(ctx, transcript)
	if err != nil {
		log.Warn("Report synthesis failed, returning transcript", "turns", len(turns), "err", err)
		return domain.Report{
			NarrativeText:    domain.JoinText(turns),
			SourceTranscript: transcript,
			Degraded:         true,
			GeneratedAt:      s.now(),
		}
	}

	return domain.Report{
		NarrativeText:    narrative,
		Understanding:    extract.Update(prior, transcript+"\n"+narrative),
		SourceTranscript: transcript,
		GeneratedAt:      s.now(),
	}
}

func (s *Synthesizer) narrative(ctx context.Context, transcript string) (string, error) {
	if s.provider == nil {
		return "", fmt.Errorf("no report provider configured")
	}

	out, err := s.provider.Complete(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: instruction()},
		{Role: llm.RoleUser, Content: "Interview transcript:\n\n" + transcript},
	})
	if err != nil {
		return "", err
	}

	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty report from provider")
	}
	return out, nil
}

func instruction() string {
	var b strings.Builder
	for i, sec := range Sections {
		fmt.Fprintf(&b, "%d. %s\n", i+1, sec)
	}
	return strings.TrimSpace(fmt.Sprintf(expansionPrompt, strings.TrimRight(b.String(), "\n"), InferredLabel))
}
