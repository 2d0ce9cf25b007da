// Package progress provides the shared per-job progress cell: one writer
// (the job runner driving the transcode), any number of readers, no locks
// on either path.
package progress

import (
	"sync/atomic"
	"time"
)

// Sample is one telemetry update from the running transcode.
type Sample struct {
	// Percent is the completion fraction, 0-100.
	Percent float64
	// OutTime is how much of the media timeline has been encoded.
	OutTime time.Duration
	// FPS is the instantaneous encode frame rate.
	FPS float64
	// Speed is the encode rate relative to realtime, e.g. 1.5.
	Speed float64
	// OutputBytes is the current size of the output file.
	OutputBytes int64
}

// View is a read-side snapshot with derived fields.
type View struct {
	Sample
	// Elapsed is wall time since the run started.
	Elapsed time.Duration
	// ETA is the linear extrapolation of remaining time. Zero while
	// Percent is zero (undefined) and once the run finishes.
	ETA time.Duration
	// EstimatedTotalBytes extrapolates the final output size from the
	// bytes written so far. Zero until the run is at least 5% complete.
	EstimatedTotalBytes int64
}

// Cell holds the latest sample behind a single atomic pointer, so readers
// never observe a torn update and writers never block on readers. Percent
// is monotonically non-decreasing within a run; Reset starts a new run.
type Cell struct {
	current atomic.Pointer[Sample]
	// startNanos is the run start in unix nanoseconds; zero means the run
	// has not started.
	startNanos atomic.Int64
}

// NewCell returns a cell at zero progress with no run in flight.
func NewCell() *Cell {
	c := &Cell{}
	c.current.Store(&Sample{})
	return c
}

// Start marks the beginning of a run, zeroing the sample.
func (c *Cell) Start(now time.Time) {
	c.current.Store(&Sample{})
	c.startNanos.Store(now.UnixNano())
}

// Reset returns the cell to its pre-run state, for job retry.
func (c *Cell) Reset() {
	c.current.Store(&Sample{})
	c.startNanos.Store(0)
}

// Write publishes a new sample. At most one goroutine may call Write per
// run. A sample whose Percent is lower than the current one keeps the
// higher value so readers always observe non-decreasing progress.
func (c *Cell) Write(s Sample) {
	if prev := c.current.Load(); prev != nil && s.Percent < prev.Percent {
		s.Percent = prev.Percent
	}
	if s.Percent > 100 {
		s.Percent = 100
	}
	copied := s
	c.current.Store(&copied)
}

// Read returns the latest sample. Safe for any number of concurrent callers.
func (c *Cell) Read() Sample {
	return *c.current.Load()
}

// Snapshot derives a view with ETA and size estimation at the given time.
func (c *Cell) Snapshot(now time.Time) View {
	s := c.Read()
	v := View{Sample: s}

	start := c.startNanos.Load()
	if start == 0 {
		return v
	}
	v.Elapsed = now.Sub(time.Unix(0, start))

	if s.Percent > 0 && s.Percent < 100 && v.Elapsed > 0 {
		totalEstimate := time.Duration(float64(v.Elapsed) * 100 / s.Percent)
		v.ETA = totalEstimate - v.Elapsed
		if v.ETA < 0 {
			v.ETA = 0
		}
	}
	if s.Percent >= 5 && s.OutputBytes > 0 {
		v.EstimatedTotalBytes = int64(float64(s.OutputBytes) * 100 / s.Percent)
	}
	return v
}
