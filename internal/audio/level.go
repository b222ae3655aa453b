package audio

import (
	"math"
	"time"
)

// levelScale maps frame RMS onto the 0-100 meter; speech near the mic sits
// around 0.05-0.2 RMS.
const levelScale = 400

// Level is the normalised energy of one frame.
func Level(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	return math.Min(100, frameRMS(frame)*levelScale)
}

func frameRMS(f []float32) float64 {
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}

// SilenceDetector reports when the level stayed under Threshold for longer
// than Duration. Time comes from the caller, so late or dropped frames only
// delay the decision.
type SilenceDetector struct {
	Threshold float64
	Duration  time.Duration

	quietSince time.Time
}

// Observe feeds one level sample taken at now and reports whether the
// silence window has elapsed.
func (d *SilenceDetector) Observe(level float64, now time.Time) bool {
	if level >= d.Threshold {
		d.quietSince = time.Time{}
		return false
	}
	if d.quietSince.IsZero() {
		d.quietSince = now
		return false
	}
	return now.Sub(d.quietSince) > d.Duration
}

func (d *SilenceDetector) Reset() {
	d.quietSince = time.Time{}
}
