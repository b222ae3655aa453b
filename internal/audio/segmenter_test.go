package audio

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carescribe/pkg/audioconv"
	"carescribe/pkg/stt"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeStream hands out frames sent on its channel. Each Read advances the
// clock by step, so a frame sequence doubles as a timeline.
type fakeStream struct {
	frames chan []float32
	fail   chan error
	closed chan struct{}
	once   sync.Once
	clock  *fakeClock
	step   time.Duration
	reads  atomic.Int64
	sent   int64 // frames fed by the test
}

func newFakeStream(clock *fakeClock, step time.Duration) *fakeStream {
	return &fakeStream{
		frames: make(chan []float32),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
		clock:  clock,
		step:   step,
	}
}

func (s *fakeStream) Read() ([]float32, error) {
	s.reads.Add(1)
	select {
	case f := <-s.frames:
		s.clock.Advance(s.step)
		return f, nil
	case err := <-s.fail:
		return nil, err
	case <-s.closed:
		return nil, errStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// feed sends frames and waits until the capture loop entered the next Read,
// which means the last frame has been handled.
func (s *fakeStream) feed(t *testing.T, frames ...[]float32) {
	t.Helper()
	for _, f := range frames {
		s.frames <- f
		s.sent++
		want := s.sent + 1
		require.Eventually(t, func() bool { return s.reads.Load() >= want }, time.Second, time.Millisecond)
	}
}

type fakeSource struct {
	mu      sync.Mutex
	streams []*fakeStream
	err     error
	opened  int
}

func (f *fakeSource) Open(context.Context) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := f.streams[f.opened]
	f.opened++
	return s, nil
}

type call struct {
	audio stt.Audio
	opt   stt.Options
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []call
	fn    func(n int, audio stt.Audio) (string, error)
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio stt.Audio, opt stt.Options) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, call{audio: audio, opt: opt})
	n := len(f.calls)
	f.mu.Unlock()
	return f.fn(n, audio)
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) record(ev Event) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func (l *eventLog) kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Kind)
	}
	return out
}

func loud() []float32 {
	f := make([]float32, frameSize)
	for i := range f {
		if i%2 == 0 {
			f[i] = 0.5
		} else {
			f[i] = -0.5
		}
	}
	return f
}

func quiet() []float32 { return make([]float32, frameSize) }

func repeat(frame func() []float32, n int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		out[i] = frame()
	}
	return out
}

// deterministic text derived from the audio bytes
func echoText(audio stt.Audio) string {
	return "bytes:" + string(rune('a'+len(audio.Data)%26))
}

type harness struct {
	seg     *Segmenter
	clock   *fakeClock
	source  *fakeSource
	tr      *fakeTranscriber
	events  *eventLog
	streams []*fakeStream
}

func newHarness(t *testing.T, fn func(n int, audio stt.Audio) (string, error)) *harness {
	t.Helper()
	clock := newFakeClock()
	h := &harness{
		clock:  clock,
		tr:     &fakeTranscriber{fn: fn},
		events: &eventLog{},
	}
	for i := 0; i < 3; i++ {
		h.streams = append(h.streams, newFakeStream(clock, 500*time.Millisecond))
	}
	h.source = &fakeSource{streams: h.streams}
	h.seg = NewSegmenter(h.source, &TranscriptionClient{
		Transcriber: h.tr,
		Language:    "en",
		Vocabulary:  "NDIS, PRN, de-escalation",
	}, Config{
		Clock:   clock,
		OnEvent: h.events.record,
	})
	t.Cleanup(func() { _ = h.seg.Close() })
	return h
}

func succeed(_ int, audio stt.Audio) (string, error) { return echoText(audio), nil }

func TestStartRecordingMicrophoneDenied(t *testing.T) {
	h := newHarness(t, succeed)
	h.source.err = errors.New("permission denied")

	err := h.seg.StartRecording(context.Background())

	var mae *MicrophoneAccessError
	require.True(t, errors.As(err, &mae))
	assert.Equal(t, StateIdle, h.seg.State())
}

func TestRecordStopTranscribe(t *testing.T) {
	h := newHarness(t, succeed)
	ctx := context.Background()

	require.NoError(t, h.seg.StartRecording(ctx))
	assert.Equal(t, StateListening, h.seg.State())

	h.streams[0].feed(t, repeat(loud, 5)...)
	assert.Equal(t, 100.0, h.seg.Level())

	seg, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateIdle, h.seg.State())
	assert.True(t, h.streams[0].isClosed())
	assert.Equal(t, TranscriptionSucceeded, seg.TranscriptionState)
	assert.NotEmpty(t, seg.TranscriptionText)
	assert.Nil(t, seg.Audio, "audio is released after success")
	assert.InDelta(t, 5*frameSize/float64(sampleRate), seg.DurationSeconds, 1e-9)
	assert.Equal(t, 1, seg.Attempts)

	require.Len(t, h.tr.calls, 1)
	assert.Equal(t, "segment.wav", h.tr.calls[0].audio.Filename)
	assert.Equal(t, "NDIS, PRN, de-escalation", h.tr.calls[0].opt.Prompt)
	assert.Equal(t, "en", h.tr.calls[0].opt.Language)

	assert.Equal(t, []EventKind{
		EventStateChanged,   // listening
		EventStateChanged,   // processing
		EventSegmentSaved,   // pending
		EventSegmentUpdated, // in_progress
		EventSegmentUpdated, // succeeded
		EventStateChanged,   // idle
	}, h.events.kinds())
}

func TestSilenceAutoPausesAndKeepsBuffer(t *testing.T) {
	h := newHarness(t, succeed)
	ctx := context.Background()
	stream := h.streams[0]

	require.NoError(t, h.seg.StartRecording(ctx))
	stream.feed(t, repeat(loud, 3)...)

	// 500ms per frame: the 8th quiet frame is 3.5s after the first one
	stream.feed(t, repeat(quiet, 7)...)
	assert.Equal(t, StateListening, h.seg.State())

	stream.feed(t, quiet())
	assert.Equal(t, StatePaused, h.seg.State())
	assert.Contains(t, h.events.kinds(), EventAutoPaused)

	// dropped while paused
	stream.feed(t, repeat(loud, 4)...)

	require.NoError(t, h.seg.Resume())
	stream.feed(t, repeat(loud, 2)...)

	seg, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 13*frameSize/float64(sampleRate), seg.DurationSeconds, 1e-9)
}

func TestSilenceTimerResetsOnSpeech(t *testing.T) {
	h := newHarness(t, succeed)
	stream := h.streams[0]

	require.NoError(t, h.seg.StartRecording(context.Background()))
	stream.feed(t, repeat(quiet, 6)...)
	stream.feed(t, loud())
	stream.feed(t, repeat(quiet, 6)...)

	assert.Equal(t, StateListening, h.seg.State())
}

func TestPauseResumeStateChecks(t *testing.T) {
	h := newHarness(t, succeed)

	assert.ErrorIs(t, h.seg.Pause(), ErrInvalidState)
	assert.ErrorIs(t, h.seg.Resume(), ErrInvalidState)

	require.NoError(t, h.seg.StartRecording(context.Background()))
	assert.ErrorIs(t, h.seg.StartRecording(context.Background()), ErrInvalidState, "one lifecycle at a time")
	assert.ErrorIs(t, h.seg.Resume(), ErrInvalidState)
	require.NoError(t, h.seg.Pause())
	assert.ErrorIs(t, h.seg.Pause(), ErrInvalidState)
	require.NoError(t, h.seg.Resume())
}

func TestStopWithoutAudio(t *testing.T) {
	h := newHarness(t, succeed)

	_, err := h.seg.StopAndSaveSegment(context.Background())
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, h.seg.StartRecording(context.Background()))
	_, err = h.seg.StopAndSaveSegment(context.Background())
	assert.ErrorIs(t, err, ErrNoAudio)
	assert.Equal(t, StateIdle, h.seg.State())
	assert.Empty(t, h.seg.Segments())
}

func TestTranscriptionFailureIsScopedToSegment(t *testing.T) {
	h := newHarness(t, func(n int, audio stt.Audio) (string, error) {
		if n == 1 {
			return "", &stt.TranscriptionError{Provider: "openai", StatusCode: 500, Message: "upstream exploded"}
		}
		return echoText(audio), nil
	})
	ctx := context.Background()

	require.NoError(t, h.seg.StartRecording(ctx))
	h.streams[0].feed(t, repeat(loud, 3)...)
	failed, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err, "a provider failure is not a session failure")

	assert.Equal(t, TranscriptionFailed, failed.TranscriptionState)
	assert.Equal(t, "upstream exploded", failed.Error)
	assert.NotEmpty(t, failed.Audio, "failed segments keep audio for retry")
	assert.Equal(t, StateIdle, h.seg.State())

	require.NoError(t, h.seg.StartRecording(ctx))
	h.streams[1].feed(t, repeat(loud, 4)...)
	ok, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err)
	assert.Equal(t, TranscriptionSucceeded, ok.TranscriptionState)

	segs := h.seg.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, TranscriptionFailed, segs[0].TranscriptionState)
	assert.Equal(t, TranscriptionSucceeded, segs[1].TranscriptionState)
}

func TestRetryTranscriptionIsIdempotent(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	h := newHarness(t, func(_ int, audio stt.Audio) (string, error) {
		if fail.Load() {
			return "", errors.New("connection reset")
		}
		return echoText(audio), nil
	})
	ctx := context.Background()

	require.NoError(t, h.seg.StartRecording(ctx))
	h.streams[0].feed(t, repeat(loud, 3)...)
	seg, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err)
	require.Equal(t, TranscriptionFailed, seg.TranscriptionState)
	assert.Equal(t, "transcription failed", seg.Error, "unknown errors get the generic message")

	fail.Store(false)
	retried, err := h.seg.RetryTranscription(ctx, seg.ID)
	require.NoError(t, err)
	assert.Equal(t, TranscriptionSucceeded, retried.TranscriptionState)
	assert.Equal(t, 2, retried.Attempts)
	assert.Empty(t, retried.Error)

	require.Len(t, h.tr.calls, 2)
	assert.True(t, bytes.Equal(h.tr.calls[0].audio.Data, h.tr.calls[1].audio.Data), "retry reuses the original audio")
	assert.Equal(t, echoText(h.tr.calls[0].audio), retried.TranscriptionText)

	_, err = h.seg.RetryTranscription(ctx, seg.ID)
	assert.ErrorIs(t, err, ErrInvalidState, "only failed segments can be retried")

	_, err = h.seg.RetryTranscription(ctx, "missing")
	assert.ErrorIs(t, err, ErrSegmentNotFound)
}

func TestDeviceLossDiscardsBuffer(t *testing.T) {
	h := newHarness(t, succeed)
	ctx := context.Background()

	require.NoError(t, h.seg.StartRecording(ctx))
	h.streams[0].feed(t, repeat(loud, 3)...)
	h.streams[0].fail <- errors.New("device unplugged")

	require.Eventually(t, func() bool { return h.seg.State() == StateIdle }, time.Second, time.Millisecond)
	assert.Contains(t, h.events.kinds(), EventDeviceLost)
	assert.Empty(t, h.seg.Segments())

	_, err := h.seg.StopAndSaveSegment(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, h.seg.StartRecording(ctx), "a new segment can start after device loss")
	h.streams[1].feed(t, loud())
	seg, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err)
	assert.InDelta(t, frameSize/float64(sampleRate), seg.DurationSeconds, 1e-9)
}

func TestDeleteSegment(t *testing.T) {
	h := newHarness(t, succeed)
	ctx := context.Background()

	require.NoError(t, h.seg.StartRecording(ctx))
	h.streams[0].feed(t, loud())
	seg, err := h.seg.StopAndSaveSegment(ctx)
	require.NoError(t, err)

	h.seg.DeleteSegment("missing")
	assert.Len(t, h.seg.Segments(), 1)

	h.seg.DeleteSegment(seg.ID)
	assert.Empty(t, h.seg.Segments())
	assert.Contains(t, h.events.kinds(), EventSegmentDeleted)
}

func TestImportFile(t *testing.T) {
	h := newHarness(t, succeed)

	blob, err := audioconv.EncodeWAV(loud())
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "note.wav")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	seg, err := h.seg.ImportFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, TranscriptionSucceeded, seg.TranscriptionState)
	assert.Equal(t, StateIdle, h.seg.State())

	_, err = h.seg.ImportFile(context.Background(), filepath.Join(t.TempDir(), "absent.wav"))
	assert.Error(t, err)
	assert.Equal(t, StateIdle, h.seg.State())
}

func TestCloseReleasesStream(t *testing.T) {
	h := newHarness(t, succeed)

	require.NoError(t, h.seg.StartRecording(context.Background()))
	h.streams[0].feed(t, loud())
	require.NoError(t, h.seg.Close())

	assert.True(t, h.streams[0].isClosed())
	assert.Equal(t, StateIdle, h.seg.State())
	assert.ErrorIs(t, h.seg.StartRecording(context.Background()), ErrInvalidState)
	assert.NoError(t, h.seg.Close())
}

func TestKeepAudio(t *testing.T) {
	clock := newFakeClock()
	stream := newFakeStream(clock, 20*time.Millisecond)
	seg := NewSegmenter(&fakeSource{streams: []*fakeStream{stream}}, &TranscriptionClient{
		Transcriber: &fakeTranscriber{fn: succeed},
	}, Config{Clock: clock, KeepAudio: true})
	t.Cleanup(func() { _ = seg.Close() })

	require.NoError(t, seg.StartRecording(context.Background()))
	stream.feed(t, loud(), loud())
	out, err := seg.StopAndSaveSegment(context.Background())
	require.NoError(t, err)

	assert.Equal(t, TranscriptionSucceeded, out.TranscriptionState)
	assert.NotEmpty(t, out.Audio)
	assert.Equal(t, clock.Now(), out.CreatedAt)
}
