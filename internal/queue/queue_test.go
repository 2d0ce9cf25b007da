package queue

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"transcode-engine/internal/params"
	"transcode-engine/internal/progress"
	"transcode-engine/internal/runner"
	"transcode-engine/pkg/models"
)

// fakeRunner records start order and blocks each job until released. Jobs
// whose input path appears in errs fail with that error.
type fakeRunner struct {
	mu      sync.Mutex
	started []string
	release chan struct{}
	errs    map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{release: make(chan struct{}), errs: map[string]error{}}
}

func (f *fakeRunner) Run(ctx context.Context, spec runner.Spec, cell *progress.Cell) (runner.Result, error) {
	f.mu.Lock()
	f.started = append(f.started, spec.InputPath)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return runner.Result{}, &runner.Error{Kind: runner.KindCancelled, Message: "cancelled by request"}
	case <-f.release:
	}
	if err := f.errs[spec.InputPath]; err != nil {
		return runner.Result{}, err
	}
	return runner.Result{OutputPath: spec.OutputPath}, nil
}

func (f *fakeRunner) startedOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

func stubResolver(req models.TranscodeRequest) (*params.Resolved, error) {
	return &params.Resolved{
		Encoder:    "libx264",
		OutputPath: filepath.Join(req.OutputDir, "out.mp4"),
		Args:       []string{"-i", req.SourcePath},
	}, nil
}

func newTestQueue(t *testing.T, concurrency int, fr *fakeRunner) *Queue {
	t.Helper()
	q := New(Options{
		Concurrency: concurrency,
		Runner:      fr,
		Resolver:    stubResolver,
		Log:         zerolog.Nop(),
	})
	q.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	})
	return q
}

func sourceFile(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("media"), 0o644))
	return path
}

func request(t *testing.T, name string) models.TranscodeRequest {
	return models.TranscodeRequest{
		SourcePath: sourceFile(t, name),
		OutputDir:  t.TempDir(),
	}
}

func waitForState(t *testing.T, q *Queue, id string, want models.JobState) {
	t.Helper()
	require.Eventually(t, func() bool {
		s, err := q.Query(id)
		return err == nil && s.State == want
	}, 5*time.Second, 5*time.Millisecond, "job %s never reached %s", id, want)
}

func TestSubmitValidation(t *testing.T) {
	q := newTestQueue(t, 1, newFakeRunner())

	_, err := q.Submit(models.TranscodeRequest{OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = q.Submit(models.TranscodeRequest{
		SourcePath: filepath.Join(t.TempDir(), "missing.mkv"),
		OutputDir:  t.TempDir(),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	textFile := sourceFile(t, "notes.txt")
	_, err = q.Submit(models.TranscodeRequest{SourcePath: textFile, OutputDir: t.TempDir()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = q.Submit(models.TranscodeRequest{SourcePath: sourceFile(t, "a.mkv")})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestSubmitDefaultOutputDir(t *testing.T) {
	fr := newFakeRunner()
	close(fr.release)
	q := New(Options{
		Concurrency:      1,
		Runner:           fr,
		Resolver:         stubResolver,
		DefaultOutputDir: t.TempDir(),
		Log:              zerolog.Nop(),
	})
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	}()

	id, err := q.Submit(models.TranscodeRequest{SourcePath: sourceFile(t, "a.mkv")})
	require.NoError(t, err)
	waitForState(t, q, id, models.StateCompleted)
}

func TestResolutionFailureNeverQueues(t *testing.T) {
	fr := newFakeRunner()
	q := New(Options{
		Concurrency: 1,
		Runner:      fr,
		Resolver: func(models.TranscodeRequest) (*params.Resolved, error) {
			return nil, &params.Error{Kind: params.KindUnsupportedHardware, Message: "no hw"}
		},
		Log: zerolog.Nop(),
	})
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		q.Shutdown(ctx)
	}()

	_, err := q.Submit(request(t, "a.mkv"))
	var resolveErr *params.Error
	require.ErrorAs(t, err, &resolveErr)
	assert.Empty(t, q.List())
	assert.Empty(t, fr.startedOrder())
}

func TestFIFOOrderSingleSlot(t *testing.T) {
	fr := newFakeRunner()
	q := newTestQueue(t, 1, fr)

	reqs := []models.TranscodeRequest{request(t, "a.mkv"), request(t, "b.mkv"), request(t, "c.mkv")}
	var ids []string
	for _, r := range reqs {
		id, err := q.Submit(r)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	waitForState(t, q, ids[0], models.StateRunning)
	// Only one slot: the others must still be queued.
	s, _ := q.Query(ids[1])
	assert.Equal(t, models.StateQueued, s.State)

	close(fr.release)
	for _, id := range ids {
		waitForState(t, q, id, models.StateCompleted)
	}

	want := []string{reqs[0].SourcePath, reqs[1].SourcePath, reqs[2].SourcePath}
	assert.Equal(t, want, fr.startedOrder())
}

func TestCancelQueuedNeverRuns(t *testing.T) {
	fr := newFakeRunner()
	q := newTestQueue(t, 1, fr)

	first, err := q.Submit(request(t, "a.mkv"))
	require.NoError(t, err)
	second, err := q.Submit(request(t, "b.mkv"))
	require.NoError(t, err)

	waitForState(t, q, first, models.StateRunning)
	require.NoError(t, q.Cancel(second))

	s, err := q.Query(second)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, s.State)
	assert.Equal(t, string(runner.KindCancelled), s.ErrorKind)
	require.NotNil(t, s.FinishedAt)

	close(fr.release)
	waitForState(t, q, first, models.StateCompleted)
	assert.Len(t, fr.startedOrder(), 1)
}

func TestCancelRunning(t *testing.T) {
	fr := newFakeRunner()
	q := newTestQueue(t, 1, fr)

	id, err := q.Submit(request(t, "a.mkv"))
	require.NoError(t, err)
	waitForState(t, q, id, models.StateRunning)

	require.NoError(t, q.Cancel(id))
	waitForState(t, q, id, models.StateCancelled)

	// A second cancel of a finished job is rejected.
	assert.ErrorIs(t, q.Cancel(id), ErrTerminal)
}

func TestCancelUnknown(t *testing.T) {
	q := newTestQueue(t, 1, newFakeRunner())
	assert.ErrorIs(t, q.Cancel("nope"), ErrNotFound)
}

func TestFailureDoesNotBlockQueue(t *testing.T) {
	fr := newFakeRunner()
	bad := request(t, "bad.mkv")
	good := request(t, "good.mkv")
	fr.errs[bad.SourcePath] = &runner.Error{Kind: runner.KindDiskFull, Message: "no space left on the output device"}
	close(fr.release)

	q := newTestQueue(t, 1, fr)

	badID, err := q.Submit(bad)
	require.NoError(t, err)
	goodID, err := q.Submit(good)
	require.NoError(t, err)

	waitForState(t, q, badID, models.StateFailed)
	waitForState(t, q, goodID, models.StateCompleted)

	s, _ := q.Query(badID)
	assert.Equal(t, string(runner.KindDiskFull), s.ErrorKind)
	assert.NotEmpty(t, s.ErrorMessage)
}

func TestListSubmissionOrder(t *testing.T) {
	fr := newFakeRunner()
	close(fr.release)
	q := newTestQueue(t, 2, fr)

	a, _ := q.Submit(request(t, "a.mkv"))
	b, _ := q.Submit(request(t, "b.mkv"))
	waitForState(t, q, a, models.StateCompleted)
	waitForState(t, q, b, models.StateCompleted)

	list := q.List()
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].ID)
	assert.Equal(t, b, list[1].ID)
}

// terminalRecorder captures callback deliveries.
type terminalRecorder struct {
	mu        sync.Mutex
	summaries []models.JobSummary
}

func (r *terminalRecorder) NotifyTerminal(url string, s models.JobSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, s)
}

func TestTerminalNotification(t *testing.T) {
	fr := newFakeRunner()
	close(fr.release)
	rec := &terminalRecorder{}

	q := New(Options{
		Concurrency: 1,
		Runner:      fr,
		Resolver:    stubResolver,
		Notifier:    rec,
		Log:         zerolog.Nop(),
	})
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	}()

	req := request(t, "a.mkv")
	req.CallbackURL = "http://example.invalid/hook"
	id, err := q.Submit(req)
	require.NoError(t, err)
	waitForState(t, q, id, models.StateCompleted)

	require.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.summaries) == 1
	}, time.Second, 5*time.Millisecond)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, id, rec.summaries[0].ID)
	assert.Equal(t, models.StateCompleted, rec.summaries[0].State)
}

func TestNoCallbackNoNotification(t *testing.T) {
	fr := newFakeRunner()
	close(fr.release)
	rec := &terminalRecorder{}

	q := New(Options{
		Concurrency: 1,
		Runner:      fr,
		Resolver:    stubResolver,
		Notifier:    rec,
		Log:         zerolog.Nop(),
	})
	q.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Shutdown(ctx)
	}()

	id, err := q.Submit(request(t, "a.mkv"))
	require.NoError(t, err)
	waitForState(t, q, id, models.StateCompleted)

	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Empty(t, rec.summaries)
}

func TestValidTransitions(t *testing.T) {
	tests := []struct {
		from, to models.JobState
		ok       bool
	}{
		{models.StateQueued, models.StateRunning, true},
		{models.StateQueued, models.StateCancelled, true},
		{models.StateQueued, models.StateCompleted, false},
		{models.StateRunning, models.StateCompleted, true},
		{models.StateRunning, models.StateFailed, true},
		{models.StateRunning, models.StateCancelled, true},
		{models.StateRunning, models.StateQueued, false},
		{models.StateCompleted, models.StateRunning, false},
		{models.StateFailed, models.StateQueued, false},
		{models.StateCancelled, models.StateCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.ok, validTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestShutdownCancelsRunning(t *testing.T) {
	fr := newFakeRunner()
	q := New(Options{
		Concurrency: 1,
		Runner:      fr,
		Resolver:    stubResolver,
		Log:         zerolog.Nop(),
	})
	q.Start()

	id, err := q.Submit(request(t, "a.mkv"))
	require.NoError(t, err)
	waitForState(t, q, id, models.StateRunning)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Shutdown(ctx))

	s, err := q.Query(id)
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, s.State)
}

func TestTimestamps(t *testing.T) {
	fr := newFakeRunner()
	close(fr.release)
	q := newTestQueue(t, 1, fr)

	id, err := q.Submit(request(t, "a.mkv"))
	require.NoError(t, err)
	waitForState(t, q, id, models.StateCompleted)

	s, _ := q.Query(id)
	require.NotNil(t, s.StartedAt)
	require.NotNil(t, s.FinishedAt)
	assert.False(t, s.EnqueuedAt.IsZero())
	assert.False(t, s.StartedAt.After(*s.FinishedAt))
}
