package runner

import (
	"strconv"
	"strings"
	"time"

	"transcode-engine/internal/progress"
)

// applyTelemetryLine folds one engine progress line into the sample.
// Returns true when the line terminates a progress block and the sample
// should be published. Malformed or unknown lines are ignored; telemetry
// format drifts between engine versions and parsing must never be fatal.
func applyTelemetryLine(line string, s *progress.Sample, total time.Duration) bool {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok {
		return false
	}
	value = strings.TrimSpace(value)

	switch key {
	case "out_time_us", "out_time_ms":
		// out_time_ms is microseconds as well, an old engine quirk.
		if us, err := strconv.ParseInt(value, 10, 64); err == nil && us >= 0 {
			s.OutTime = time.Duration(us) * time.Microsecond
			s.Percent = percentOf(s.OutTime, total)
		}
	case "out_time":
		if d, ok := parseClock(value); ok {
			s.OutTime = d
			s.Percent = percentOf(d, total)
		}
	case "fps":
		if f, err := strconv.ParseFloat(value, 64); err == nil && f >= 0 {
			s.FPS = f
		}
	case "speed":
		if f, err := strconv.ParseFloat(strings.TrimSuffix(value, "x"), 64); err == nil && f >= 0 {
			s.Speed = f
		}
	case "total_size":
		if n, err := strconv.ParseInt(value, 10, 64); err == nil && n >= 0 {
			s.OutputBytes = n
		}
	case "progress":
		// Block terminator: "continue" mid-run, "end" on the last block.
		if value == "end" && total > 0 {
			s.Percent = 100
		}
		return true
	}
	return false
}

func percentOf(cur, total time.Duration) float64 {
	if total <= 0 {
		return 0
	}
	pct := float64(cur) / float64(total) * 100
	if pct > 100 {
		return 100
	}
	return pct
}

// parseClock parses HH:MM:SS.ffffff timestamps.
func parseClock(v string) (time.Duration, bool) {
	parts := strings.Split(v, ":")
	if len(parts) != 3 {
		return 0, false
	}
	h, err1 := strconv.Atoi(parts[0])
	m, err2 := strconv.Atoi(parts[1])
	sec, err3 := strconv.ParseFloat(parts[2], 64)
	if err1 != nil || err2 != nil || err3 != nil || h < 0 || m < 0 || sec < 0 {
		return 0, false
	}
	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second)), true
}
