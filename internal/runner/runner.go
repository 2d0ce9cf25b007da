// Package runner executes one transcode job by driving the external media
// engine as a subprocess, streaming its telemetry into the job's progress
// cell and classifying failures. The subprocess is reaped on every exit
// path; partial output never survives a failed or cancelled run.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"transcode-engine/internal/progress"
)

// Spec is everything the runner needs to execute one job.
type Spec struct {
	JobID      string
	InputPath  string
	OutputPath string
	// Args is the complete engine argument list produced by resolution.
	Args []string
}

// Result reports a successful run.
type Result struct {
	OutputPath string
	// Wall is the wall-clock duration of the transcode.
	Wall time.Duration
	// OutputBytes is the final output file size.
	OutputBytes int64
}

// Runner drives the engine binary. One Runner serves many jobs; each Run
// call is independent.
type Runner struct {
	FFmpegPath  string
	FFprobePath string

	// Grace is how long a cancelled subprocess gets to exit after the
	// interrupt signal before it is killed.
	Grace time.Duration

	Log zerolog.Logger
}

const defaultGrace = 5 * time.Second

// Run executes the job to completion, cancellation, or failure. The cell is
// the only state shared with observers; the runner never touches queue-level
// job state. The returned error, when non-nil, is always a *Error.
func (r *Runner) Run(ctx context.Context, spec Spec, cell *progress.Cell) (Result, error) {
	log := r.Log.With().Str("job", spec.JobID).Logger()

	if _, err := os.Stat(spec.InputPath); err != nil {
		return Result{}, &Error{Kind: KindInputUnreadable, Message: fmt.Sprintf("cannot access input: %v", err)}
	}
	if err := os.MkdirAll(filepath.Dir(spec.OutputPath), 0o755); err != nil {
		return Result{}, &Error{Kind: KindEngineCrashed, Message: fmt.Sprintf("cannot create output directory: %v", err)}
	}

	// Total duration feeds percent calculation. A probe failure is not
	// fatal; progress just stays at zero and the exit code decides.
	total, err := r.probeDuration(ctx, spec.InputPath)
	if err != nil {
		log.Warn().Err(err).Msg("duration probe failed, progress will be indeterminate")
		total = 0
	}

	grace := r.Grace
	if grace <= 0 {
		grace = defaultGrace
	}

	cmd := exec.CommandContext(ctx, r.FFmpegPath, spec.Args...)
	// On cancellation, interrupt first so the engine can flush and exit;
	// WaitDelay bounds the grace period before a hard kill. Wait always
	// reaps the process.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = grace

	stderrTail := newTailWriter(8 << 10)
	cmd.Stderr = stderrTail

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, &Error{Kind: KindEngineCrashed, Message: fmt.Sprintf("stdout pipe: %v", err)}
	}

	started := time.Now()
	cell.Start(started)

	if err := cmd.Start(); err != nil {
		return Result{}, &Error{Kind: KindEngineCrashed, Message: fmt.Sprintf("engine failed to start: %v", err)}
	}
	log.Debug().Int("pid", cmd.Process.Pid).Msg("engine started")

	// Telemetry is consumed until the engine closes stdout. Unparseable
	// lines are ignored; the exit code and output check decide failure.
	telemetryDone := make(chan struct{})
	go func() {
		defer close(telemetryDone)
		r.consumeTelemetry(stdout, cell, total)
	}()

	<-telemetryDone
	waitErr := cmd.Wait()
	wall := time.Since(started)

	if ctx.Err() != nil {
		removePartial(spec.OutputPath, log)
		log.Info().Dur("wall", wall).Msg("job cancelled, engine terminated")
		return Result{}, &Error{Kind: KindCancelled, Message: "cancelled by request"}
	}

	if waitErr != nil {
		removePartial(spec.OutputPath, log)
		runErr := classify(stderrTail.String(), waitErr)
		log.Error().Str("kind", string(runErr.Kind)).Msg(runErr.Message)
		return Result{}, runErr
	}

	// Exit 0 is not success by itself: the engine must have produced a
	// non-empty file.
	info, statErr := os.Stat(spec.OutputPath)
	if statErr != nil || info.Size() == 0 {
		removePartial(spec.OutputPath, log)
		return Result{}, &Error{Kind: KindNoOutput, Message: "engine exited cleanly but produced no output"}
	}

	cell.Write(progress.Sample{Percent: 100, OutputBytes: info.Size()})
	log.Info().Dur("wall", wall).Int64("bytes", info.Size()).Msg("transcode complete")
	return Result{OutputPath: spec.OutputPath, Wall: wall, OutputBytes: info.Size()}, nil
}

// consumeTelemetry reads -progress key=value blocks from the engine's
// stdout and publishes a sample at each block boundary.
func (r *Runner) consumeTelemetry(stdout io.Reader, cell *progress.Cell, total time.Duration) {
	scanner := bufio.NewScanner(stdout)
	var sample progress.Sample
	for scanner.Scan() {
		if applyTelemetryLine(scanner.Text(), &sample, total) {
			cell.Write(sample)
		}
	}
}

func removePartial(path string, log zerolog.Logger) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("could not remove partial output")
	}
}
