// Package notify plays a short audible cue when the recorder needs the
// worker's attention.
package notify

import (
	"fmt"
	log "log/slog"
	"os"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"

	"carescribe/internal/audio"
)

var (
	speakerOnce sync.Once
	speakerErr  error
	speakerRate beep.SampleRate
)

// Cue is a decoded mp3 kept in memory so it can be replayed.
type Cue struct {
	buf *beep.Buffer
}

func LoadCue(path string) (*Cue, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cue: %w", err)
	}

	streamer, format, err := mp3.Decode(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cue %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	return &Cue{buf: buf}, nil
}

// Play starts the cue and returns without waiting for it to finish.
func (c *Cue) Play() error {
	format := c.buf.Format()
	speakerOnce.Do(func() {
		speakerRate = format.SampleRate
		speakerErr = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if speakerErr != nil {
		return fmt.Errorf("init speaker: %w", speakerErr)
	}

	var s beep.Streamer = c.buf.Streamer(0, c.buf.Len())
	if format.SampleRate != speakerRate {
		s = beep.Resample(4, format.SampleRate, speakerRate, s)
	}
	speaker.Play(s)
	return nil
}

// Wants reports whether a recorder event deserves a cue.
func Wants(ev audio.Event) bool {
	return ev.Kind == audio.EventAutoPaused || ev.Kind == audio.EventDeviceLost
}

// OnEvent plays the cue for events that need attention.
func (c *Cue) OnEvent(ev audio.Event) {
	if !Wants(ev) {
		return
	}
	if err := c.Play(); err != nil {
		log.Warn("Failed to play cue", "event", ev.Kind, "err", err)
	}
}
