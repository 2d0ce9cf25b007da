// Package queue owns job bookkeeping and scheduling: FIFO dispatch into a
// bounded set of concurrently running jobs, with all state transitions
// applied under a single critical section. Job runners never touch queue
// state directly; they report outcomes and the queue transitions.
package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"transcode-engine/internal/params"
	"transcode-engine/internal/progress"
	"transcode-engine/internal/runner"
	"transcode-engine/pkg/models"
)

var (
	// ErrNotFound is returned for an unknown job id.
	ErrNotFound = errors.New("job not found")
	// ErrTerminal is returned when cancelling an already-finished job.
	ErrTerminal = errors.New("job already finished")
	// ErrInvalidRequest flags malformed submissions rejected synchronously.
	ErrInvalidRequest = errors.New("invalid request")
)

// supportedInputExts are the source container extensions accepted at submit.
var supportedInputExts = map[string]bool{
	".mp4": true, ".mkv": true, ".avi": true, ".mov": true, ".webm": true,
	".flv": true, ".wmv": true, ".m4v": true, ".ts": true,
}

// Runner executes one job. Satisfied by *runner.Runner; tests substitute
// their own.
type Runner interface {
	Run(ctx context.Context, spec runner.Spec, cell *progress.Cell) (runner.Result, error)
}

// Resolver turns a request into concrete engine parameters. Satisfied by a
// closure over params.Resolve and the current capability snapshot.
type Resolver func(req models.TranscodeRequest) (*params.Resolved, error)

// Notifier delivers terminal job summaries to a callback URL.
type Notifier interface {
	NotifyTerminal(url string, summary models.JobSummary)
}

// job is the queue's private bookkeeping for one submission. All fields
// except cell are guarded by the queue mutex; cell is the only state shared
// with the runner.
type job struct {
	id       string
	request  models.TranscodeRequest
	resolved *params.Resolved
	state    models.JobState
	cell     *progress.Cell
	cancel   context.CancelFunc

	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time

	errKind    string
	errMessage string
}

// Options configures a queue.
type Options struct {
	// Concurrency is the maximum number of simultaneously running jobs.
	Concurrency int
	Runner      Runner
	Resolver    Resolver
	// Notifier may be nil when no callbacks are wanted.
	Notifier Notifier
	// DefaultOutputDir fills requests that omit output_dir. Empty means
	// the field is required on every submission.
	DefaultOutputDir string
	Log              zerolog.Logger
}

// Queue holds pending, running, and finished jobs and drives dispatch.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*job
	order   []*job // submission order, all states
	pending []*job // FIFO dispatch order, Queued only
	running int

	limit      int
	runner     Runner
	resolver   Resolver
	notifier   Notifier
	defaultOut string
	log        zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wake   chan struct{}
	wg     sync.WaitGroup
}

// New builds a queue. Call Start to begin dispatching.
func New(opts Options) *Queue {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		jobs:     make(map[string]*job),
		limit:    opts.Concurrency,
		runner:     opts.Runner,
		resolver:   opts.Resolver,
		notifier:   opts.Notifier,
		defaultOut: opts.DefaultOutputDir,
		log:        opts.Log,
		ctx:      ctx,
		cancel:   cancel,
		wake:     make(chan struct{}, 1),
	}
}

// Start launches the dispatch loop.
func (q *Queue) Start() {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
				q.dispatch()
			}
		}
	}()
}

// Shutdown cancels all running jobs and stops dispatching. Blocks until
// workers have reaped their subprocesses or ctx expires.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.cancel()
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit validates the request, resolves parameters against the current
// capability snapshot, and enqueues a job. It fails synchronously only on
// malformed requests or resolution errors, so bad requests never occupy a
// concurrency slot.
func (q *Queue) Submit(req models.TranscodeRequest) (string, error) {
	if strings.TrimSpace(req.SourcePath) == "" {
		return "", fmt.Errorf("%w: source path is required", ErrInvalidRequest)
	}
	if _, err := os.Stat(req.SourcePath); err != nil {
		return "", fmt.Errorf("%w: source %s is not accessible", ErrInvalidRequest, req.SourcePath)
	}
	if ext := strings.ToLower(filepath.Ext(req.SourcePath)); !supportedInputExts[ext] {
		return "", fmt.Errorf("%w: unsupported input format %q", ErrInvalidRequest, ext)
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		req.OutputDir = q.defaultOut
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return "", fmt.Errorf("%w: output directory is required", ErrInvalidRequest)
	}

	resolved, err := q.resolver(req)
	if err != nil {
		return "", err
	}

	j := &job{
		id:         uuid.NewString(),
		request:    req,
		resolved:   resolved,
		state:      models.StateQueued,
		cell:       progress.NewCell(),
		enqueuedAt: time.Now(),
	}

	q.mu.Lock()
	q.jobs[j.id] = j
	q.order = append(q.order, j)
	q.pending = append(q.pending, j)
	q.mu.Unlock()

	q.log.Info().
		Str("job", j.id).
		Str("source", req.SourcePath).
		Str("encoder", resolved.Encoder).
		Bool("fallback", resolved.Fallback).
		Msg("job queued")

	q.signal()
	return j.id, nil
}

// Cancel requests cancellation. A Queued job is finalized immediately and
// never spawns a subprocess; a Running job has its context cancelled and
// the runner finalizes it. Terminal jobs are left alone.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	j, ok := q.jobs[id]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}

	switch j.state {
	case models.StateQueued:
		q.transitionLocked(j, models.StateCancelled)
		j.errKind = string(runner.KindCancelled)
		j.errMessage = "cancelled before start"
		summary := q.summaryLocked(j)
		q.mu.Unlock()
		q.notifyTerminal(j.request.CallbackURL, summary)
		return nil
	case models.StateRunning:
		cancel := j.cancel
		q.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		q.mu.Unlock()
		return ErrTerminal
	}
}

// Query returns a snapshot of one job.
func (q *Queue) Query(id string) (models.JobSummary, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return models.JobSummary{}, ErrNotFound
	}
	return q.summaryLocked(j), nil
}

// List returns all jobs in submission order.
func (q *Queue) List() []models.JobSummary {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]models.JobSummary, 0, len(q.order))
	for _, j := range q.order {
		out = append(out, q.summaryLocked(j))
	}
	return out
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// dispatch hands Queued jobs to workers in FIFO order while slots are free.
func (q *Queue) dispatch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.running < q.limit && len(q.pending) > 0 {
		j := q.pending[0]
		q.pending = q.pending[1:]

		// Cancelled while queued; already finalized.
		if j.state != models.StateQueued {
			continue
		}

		jobCtx, cancel := context.WithCancel(q.ctx)
		j.cancel = cancel
		q.transitionLocked(j, models.StateRunning)
		q.running++

		q.wg.Add(1)
		go q.execute(jobCtx, j)
	}
}

// execute runs one job on a worker goroutine and applies the terminal
// transition when the runner reports back.
func (q *Queue) execute(ctx context.Context, j *job) {
	defer q.wg.Done()

	spec := runner.Spec{
		JobID:      j.id,
		InputPath:  j.request.SourcePath,
		OutputPath: j.resolved.OutputPath,
		Args:       j.resolved.Args,
	}
	_, err := q.runner.Run(ctx, spec, j.cell)

	q.mu.Lock()
	switch {
	case err == nil:
		q.transitionLocked(j, models.StateCompleted)
	default:
		var runErr *runner.Error
		if errors.As(err, &runErr) && runErr.Kind == runner.KindCancelled {
			q.transitionLocked(j, models.StateCancelled)
			j.errKind = string(runErr.Kind)
			j.errMessage = runErr.Message
		} else {
			q.transitionLocked(j, models.StateFailed)
			if runErr != nil {
				j.errKind = string(runErr.Kind)
				j.errMessage = runErr.Message
			} else {
				j.errKind = string(runner.KindEngineCrashed)
				j.errMessage = err.Error()
			}
		}
	}
	j.cancel = nil
	q.running--
	summary := q.summaryLocked(j)
	q.mu.Unlock()

	q.notifyTerminal(j.request.CallbackURL, summary)
	q.signal()
}

func (q *Queue) notifyTerminal(url string, summary models.JobSummary) {
	if q.notifier == nil || url == "" {
		return
	}
	q.notifier.NotifyTerminal(url, summary)
}

// summaryLocked builds the observer view. Caller holds q.mu.
func (q *Queue) summaryLocked(j *job) models.JobSummary {
	view := j.cell.Snapshot(time.Now())
	s := models.JobSummary{
		ID:           j.id,
		SourcePath:   j.request.SourcePath,
		OutputPath:   j.resolved.OutputPath,
		State:        j.state,
		Encoder:      j.resolved.Encoder,
		Fallback:     j.resolved.Fallback,
		Progress:     view.Percent,
		FPS:          view.FPS,
		Speed:        view.Speed,
		ETASeconds:   int(view.ETA.Seconds()),
		ErrorKind:    j.errKind,
		ErrorMessage: j.errMessage,
		EnqueuedAt:   j.enqueuedAt,
	}
	if !j.startedAt.IsZero() {
		t := j.startedAt
		s.StartedAt = &t
	}
	if !j.finishedAt.IsZero() {
		t := j.finishedAt
		s.FinishedAt = &t
	}
	return s
}
