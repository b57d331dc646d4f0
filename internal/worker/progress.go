package worker

import (
	"math"
	"strconv"
	"strings"
)

const (
	// microsecondsPerSecond converts ffmpeg's out_time_us/out_time_ms
	// values (both microseconds, despite the _ms name) to seconds.
	microsecondsPerSecond = 1_000_000

	// maxRunningProgress is the ceiling while the process is alive; 100 is
	// reserved for a zero exit so clients never see 100% while the
	// container is still being finalized.
	maxRunningProgress = 99
)

// progressTracker turns ffmpeg -progress key=value lines into a
// monotonically non-decreasing percentage.
type progressTracker struct {
	duration float64 // seconds; <= 0 means unknown
	last     int
	ended    bool
}

func newProgressTracker(durationSeconds float64) *progressTracker {
	return &progressTracker{duration: durationSeconds}
}

// Observe consumes one line and returns the new percentage when it moved
// forward. Lines it does not understand are ignored.
func (t *progressTracker) Observe(line string) (int, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return 0, false
	}

	switch key {
	case "out_time_us", "out_time_ms":
		micros, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
		if err != nil {
			return 0, false
		}
		pct, ok := percentFromMicros(micros, t.duration)
		if !ok || pct <= t.last {
			return 0, false
		}
		t.last = pct
		return pct, true
	case "progress":
		if strings.TrimSpace(value) == "end" {
			t.ended = true
		}
	}
	return 0, false
}

// percentFromMicros returns round(elapsed/duration*100) clamped to [0, 99].
// It reports false when the duration is unknown.
func percentFromMicros(micros int64, durationSeconds float64) (int, bool) {
	if durationSeconds <= 0 || math.IsNaN(durationSeconds) || math.IsInf(durationSeconds, 0) {
		return 0, false
	}
	seconds := float64(micros) / microsecondsPerSecond
	pct := int(math.Round(seconds / durationSeconds * 100))
	if pct < 0 {
		pct = 0
	}
	if pct > maxRunningProgress {
		pct = maxRunningProgress
	}
	return pct, true
}

// prefixBuffer keeps the first limit bytes written and silently discards
// the rest, so a chatty process cannot grow memory without bound.
type prefixBuffer struct {
	limit int
	buf   []byte
}

func newPrefixBuffer(limit int) *prefixBuffer {
	return &prefixBuffer{limit: limit}
}

func (b *prefixBuffer) Write(p []byte) (int, error) {
	if room := b.limit - len(b.buf); room > 0 {
		if len(p) < room {
			room = len(p)
		}
		b.buf = append(b.buf, p[:room]...)
	}
	return len(p), nil
}

func (b *prefixBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
