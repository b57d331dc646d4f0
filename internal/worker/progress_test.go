package worker

import (
	"strings"
	"testing"
)

func TestPercentFromMicros(t *testing.T) {
	tests := []struct {
		name     string
		micros   int64
		duration float64
		want     int
		ok       bool
	}{
		{"quarter", 2_500_000, 10, 25, true},
		{"rounds half up", 1_005_000, 20, 5, true},
		{"clamped below completion", 10_000_000, 10, 99, true},
		{"overshoot clamped", 50_000_000, 10, 99, true},
		{"negative clamped", -1_000_000, 10, 0, true},
		{"unknown duration", 5_000_000, 0, 0, false},
		{"negative duration", 5_000_000, -3, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := percentFromMicros(tt.micros, tt.duration)
			if got != tt.want || ok != tt.ok {
				t.Errorf("percentFromMicros(%d, %v) = (%d, %v), want (%d, %v)", tt.micros, tt.duration, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestProgressTrackerIsMonotonic(t *testing.T) {
	tracker := newProgressTracker(100)

	lines := []string{
		"frame=10",
		"out_time_us=10000000",
		"progress=continue",
		"out_time_us=5000000", // goes backwards, ignored
		"out_time_ms=30000000",
		"out_time=00:00:30.000000",
		"out_time_us=N/A",
		"out_time_us=30000000", // no change
		"out_time_us=99900000",
		"progress=end",
	}

	var got []int
	for _, line := range lines {
		if pct, ok := tracker.Observe(line); ok {
			got = append(got, pct)
		}
	}

	want := []int{10, 30, 99}
	if len(got) != len(want) {
		t.Fatalf("expected updates %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected updates %v, got %v", want, got)
		}
	}
	if !tracker.ended {
		t.Error("expected progress=end to be recorded")
	}
}

func TestProgressTrackerUnknownDuration(t *testing.T) {
	tracker := newProgressTracker(0)
	if _, ok := tracker.Observe("out_time_us=5000000"); ok {
		t.Error("expected no percentage without a duration")
	}
}

func TestPrefixBufferBoundsMemory(t *testing.T) {
	b := newPrefixBuffer(8)

	n, err := b.Write([]byte("0123"))
	if err != nil || n != 4 {
		t.Fatalf("unexpected write result %d, %v", n, err)
	}
	n, _ = b.Write([]byte(strings.Repeat("x", 1000)))
	if n != 1000 {
		t.Errorf("expected full write to be acknowledged, got %d", n)
	}
	_, _ = b.Write([]byte("tail"))

	if got := b.String(); got != "0123xxxx" {
		t.Errorf("expected prefix %q, got %q", "0123xxxx", got)
	}
}
