package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"transcode-engine/internal/progress"
)

func TestApplyTelemetryBlock(t *testing.T) {
	total := 100 * time.Second
	var s progress.Sample

	lines := []string{
		"frame=250",
		"fps=62.5",
		"out_time_us=25000000",
		"speed=2.5x",
		"total_size=1048576",
		"progress=continue",
	}
	published := false
	for _, line := range lines {
		if applyTelemetryLine(line, &s, total) {
			published = true
		}
	}

	assert.True(t, published)
	assert.Equal(t, 25*time.Second, s.OutTime)
	assert.Equal(t, 25.0, s.Percent)
	assert.Equal(t, 62.5, s.FPS)
	assert.Equal(t, 2.5, s.Speed)
	assert.Equal(t, int64(1048576), s.OutputBytes)
}

func TestApplyTelemetryOutTimeVariants(t *testing.T) {
	total := 200 * time.Second

	var s progress.Sample
	applyTelemetryLine("out_time_ms=50000000", &s, total)
	// out_time_ms carries microseconds despite the name.
	assert.Equal(t, 50*time.Second, s.OutTime)
	assert.Equal(t, 25.0, s.Percent)

	s = progress.Sample{}
	applyTelemetryLine("out_time=00:01:40.000000", &s, total)
	assert.Equal(t, 100*time.Second, s.OutTime)
	assert.Equal(t, 50.0, s.Percent)
}

func TestApplyTelemetryEnd(t *testing.T) {
	var s progress.Sample
	done := applyTelemetryLine("progress=end", &s, 100*time.Second)
	assert.True(t, done)
	assert.Equal(t, 100.0, s.Percent)

	// Without a known duration, end does not force 100.
	s = progress.Sample{}
	applyTelemetryLine("progress=end", &s, 0)
	assert.Zero(t, s.Percent)
}

func TestApplyTelemetryIgnoresGarbage(t *testing.T) {
	var s progress.Sample
	for _, line := range []string{
		"",
		"not a key value line",
		"out_time_us=banana",
		"out_time=12:34",
		"fps=-5",
		"speed=??x",
		"total_size=-1",
		"unknown_key=42",
	} {
		done := applyTelemetryLine(line, &s, 100*time.Second)
		assert.False(t, done, "line %q must not terminate a block", line)
	}
	assert.Equal(t, progress.Sample{}, s)
}

func TestPercentClamped(t *testing.T) {
	assert.Equal(t, 100.0, percentOf(150*time.Second, 100*time.Second))
	assert.Zero(t, percentOf(10*time.Second, 0))
}

func TestParseClock(t *testing.T) {
	d, ok := parseClock("01:02:03.500000")
	assert.True(t, ok)
	assert.Equal(t, time.Hour+2*time.Minute+3500*time.Millisecond, d)

	_, ok = parseClock("99 seconds")
	assert.False(t, ok)
}
