// Package probe asks ffprobe for a media file's duration. The duration only
// drives percentage progress, so every failure collapses to 0 ("unknown").
package probe

import (
	"context"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// DefaultBinary is resolved from PATH when no explicit path is configured.
const DefaultBinary = "ffprobe"

// Prober runs a one-shot, read-only ffprobe per call.
type Prober struct {
	binary string
	logger *zap.Logger
}

// New returns a Prober using binary, or ffprobe from PATH when empty.
func New(binary string, logger *zap.Logger) *Prober {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	return &Prober{binary: binary, logger: logger}
}

// Duration returns the container duration of path in seconds, or 0 when the
// probe cannot be spawned, exits non-zero, or prints something unparsable.
func (p *Prober) Duration(ctx context.Context, path string) float64 {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"--", path,
	)
	output, err := cmd.Output()
	if err != nil {
		p.logger.Warn("duration probe failed; progress will be indeterminate",
			zap.String("path", path),
			zap.Error(err),
		)
		return 0
	}

	seconds := parseDuration(string(output))
	if seconds == 0 {
		p.logger.Warn("duration probe returned no usable duration",
			zap.String("path", path),
			zap.String("output", strings.TrimSpace(string(output))),
		)
	}
	return seconds
}

// parseDuration reads the first whitespace-separated token as seconds.
func parseDuration(output string) float64 {
	fields := strings.Fields(output)
	if len(fields) == 0 {
		return 0
	}
	seconds, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		return 0
	}
	return seconds
}
