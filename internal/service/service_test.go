package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carescribe/internal/audio"
	"carescribe/internal/interview"
	"carescribe/internal/llm"
	"carescribe/internal/report"
	"carescribe/pkg/audioconv"
	"carescribe/pkg/stt"
)

type chatFunc func(ctx context.Context, messages []llm.Message) (string, error)

func (f chatFunc) Complete(ctx context.Context, messages []llm.Message) (string, error) {
	return f(ctx, messages)
}

type scriptedSTT struct {
	mu      sync.Mutex
	replies []sttReply
}

type sttReply struct {
	text string
	err  error
}

func (s *scriptedSTT) Transcribe(context.Context, stt.Audio, stt.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r.text, r.err
}

type deniedSource struct{}

func (deniedSource) Open(context.Context) (audio.Stream, error) {
	return nil, errors.New("permission denied")
}

func writeClip(t *testing.T) string {
	t.Helper()
	pcm := make([]float32, 1600)
	for i := range pcm {
		pcm[i] = 0.3
	}
	blob, err := audioconv.EncodeWAV(pcm)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, blob, 0o600))
	return path
}

func newService(t *testing.T, tr stt.Transcriber, reportErr error) *Service {
	t.Helper()
	questions := chatFunc(func(context.Context, []llm.Message) (string, error) {
		return "What happened next?", nil
	})
	writer := chatFunc(func(context.Context, []llm.Message) (string, error) {
		if reportErr != nil {
			return "", reportErr
		}
		return "Incident Overview\nA chair was thrown.", nil
	})

	svc := New(Config{
		Manager: interview.NewManager(questions, report.New(writer), interview.Config{
			MaxTurns:      3,
			FinalizeDelay: -1,
		}),
		Source:        deniedSource{},
		Transcription: &audio.TranscriptionClient{Transcriber: tr},
	})
	t.Cleanup(svc.Shutdown)
	return svc
}

func TestTypedInterview(t *testing.T) {
	svc := newService(t, &scriptedSTT{}, nil)
	ctx := context.Background()

	h, out, err := svc.BeginInterview(ctx, "Client Sam Lee threw a chair in the kitchen")
	require.NoError(t, err)
	assert.Equal(t, interview.StateInterviewing, out.State)
	assert.Equal(t, "What happened next?", out.Question)

	_, err = svc.GetFinalReport(h)
	assert.ErrorIs(t, err, ErrNotTerminated)

	out, err = svc.SubmitTurn(ctx, h, "No injuries, nothing else")
	require.NoError(t, err)
	assert.Equal(t, interview.StateTerminated, out.State)

	rep, err := svc.GetFinalReport(h)
	require.NoError(t, err)
	assert.False(t, rep.Degraded)
	assert.Equal(t, "Incident Overview\nA chair was thrown.", rep.NarrativeText)
	assert.Equal(t, "Sam Lee", rep.Understanding.ParticipantName)
	require.NotNil(t, rep.Understanding.InjuriesPresent)
	assert.False(t, *rep.Understanding.InjuriesPresent)

	_, err = svc.SubmitTurn(ctx, h, "wait")
	assert.ErrorIs(t, err, interview.ErrInterviewClosed)
}

func TestDegradedReport(t *testing.T) {
	svc := newService(t, &scriptedSTT{}, &llm.ProviderError{Provider: "openai", StatusCode: 503})
	ctx := context.Background()

	h, _, err := svc.BeginInterview(ctx, "Resident Ava screamed")
	require.NoError(t, err)
	_, err = svc.SubmitTurn(ctx, h, "that's all")
	require.NoError(t, err)

	rep, err := svc.GetFinalReport(h)
	require.NoError(t, err)
	assert.True(t, rep.Degraded)
	assert.Equal(t, "Resident Ava screamed\nWhat happened next?\nthat's all\n"+interview.ClosingMessage, rep.NarrativeText)
	assert.True(t, rep.Understanding.IsZero())
}

func TestBeginInterviewRejectsEmpty(t *testing.T) {
	svc := newService(t, &scriptedSTT{}, nil)

	h, _, err := svc.BeginInterview(context.Background(), "   ")
	assert.ErrorIs(t, err, interview.ErrEmptyInput)
	assert.Empty(t, h)
}

func TestUnknownSession(t *testing.T) {
	svc := newService(t, &scriptedSTT{}, nil)
	ctx := context.Background()

	_, err := svc.SubmitTurn(ctx, "nope", "hello")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = svc.GetSegments("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	_, err = svc.GetFinalReport("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.ErrorIs(t, svc.StartRecording(ctx, "nope"), ErrUnknownSession)
	assert.ErrorIs(t, svc.Close("nope"), ErrUnknownSession)
}

func TestVoiceInterview(t *testing.T) {
	tr := &scriptedSTT{replies: []sttReply{
		{text: "Client Mia kicked the door"},
		{err: &stt.TranscriptionError{Provider: "openai", StatusCode: 500, Message: "server error"}},
		{text: "at 7:30 am in the hallway"},
	}}
	svc := newService(t, tr, nil)

	var mu sync.Mutex
	tagged := map[string]int{}
	svc.cfg.OnSegmentEvent = func(session string, ev audio.Event) {
		mu.Lock()
		tagged[session]++
		mu.Unlock()
	}

	ctx := context.Background()
	h := svc.Open()
	clip := writeClip(t)

	_, err := svc.SubmitVoice(ctx, h)
	assert.ErrorIs(t, err, ErrNoTranscript)

	first, err := svc.ImportAudio(ctx, h, clip)
	require.NoError(t, err)
	failed, err := svc.ImportAudio(ctx, h, clip)
	require.NoError(t, err)
	require.Equal(t, audio.TranscriptionFailed, failed.TranscriptionState)
	assert.Equal(t, "server error", failed.Error)
	third, err := svc.ImportAudio(ctx, h, clip)
	require.NoError(t, err)

	out, err := svc.SubmitVoice(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, interview.StateInterviewing, out.State)

	sess, err := svc.Interview(h)
	require.NoError(t, err)
	turns := sess.Turns()
	require.NotEmpty(t, turns)
	assert.Equal(t, "Client Mia kicked the door at 7:30 am in the hallway", turns[0].Text)
	assert.Equal(t, "7:30 am", sess.Understanding().TimeOfDay)

	segs, err := svc.GetSegments(h)
	require.NoError(t, err)
	require.Len(t, segs, 1, "only the failed segment is left")
	assert.Equal(t, failed.ID, segs[0].ID)
	assert.NotEqual(t, first.ID, third.ID)

	require.NoError(t, svc.DeleteSegment(h, failed.ID))
	segs, err = svc.GetSegments(h)
	require.NoError(t, err)
	assert.Empty(t, segs)

	mu.Lock()
	assert.Positive(t, tagged[h])
	mu.Unlock()
}

func TestStartRecordingDenied(t *testing.T) {
	svc := newService(t, &scriptedSTT{}, nil)
	h := svc.Open()

	err := svc.StartRecording(context.Background(), h)
	var mae *audio.MicrophoneAccessError
	assert.True(t, errors.As(err, &mae))

	st, err := svc.RecorderState(h)
	require.NoError(t, err)
	assert.Equal(t, audio.StateIdle, st)

	assert.ErrorIs(t, svc.PauseRecording(h), audio.ErrInvalidState)
	_, err = svc.RecordVoiceSegment(context.Background(), h)
	assert.ErrorIs(t, err, audio.ErrInvalidState)
}

func TestClose(t *testing.T) {
	svc := newService(t, &scriptedSTT{}, nil)
	h := svc.Open()

	require.NoError(t, svc.Close(h))
	_, err := svc.GetSegments(h)
	assert.ErrorIs(t, err, ErrUnknownSession)
}
