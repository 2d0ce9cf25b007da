package runner

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind is a stable machine-readable runtime failure tag.
type Kind string

const (
	KindInputUnreadable Kind = "INPUT_UNREADABLE"
	KindEngineCrashed   Kind = "ENGINE_CRASHED"
	KindDiskFull        Kind = "DISK_FULL"
	KindNoOutput        Kind = "ENGINE_PRODUCED_NO_OUTPUT"
	KindCancelled       Kind = "CANCELLED"
)

// Error is a runtime failure attached to the job's terminal state. It never
// propagates as a process-level fault.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("run(%s): %s", e.Kind, e.Message) }

// Pre-compiled stderr patterns, checked in order. Input problems are
// matched before output problems: an unreadable source frequently cascades
// into write errors later in the same log.
var (
	reInputIssue = regexp.MustCompile(
		`(?i)No such file or directory|` +
			`Invalid data found when processing input|` +
			`moov atom not found|` +
			`Permission denied.*(input|open)|` +
			`could not find codec parameters`)

	reDiskFull = regexp.MustCompile(
		`(?i)No space left on device|disk full|not enough space`)
)

// classify maps the stderr tail and exit error to a run error. Anything
// unrecognized is an engine crash; the last meaningful stderr line is kept
// for display.
func classify(stderrTail string, waitErr error) *Error {
	if reInputIssue.MatchString(stderrTail) {
		return &Error{Kind: KindInputUnreadable, Message: lastMeaningfulLine(stderrTail, "input file is unreadable or corrupt")}
	}
	if reDiskFull.MatchString(stderrTail) {
		return &Error{Kind: KindDiskFull, Message: "no space left on the output device"}
	}
	return &Error{
		Kind:    KindEngineCrashed,
		Message: fmt.Sprintf("engine failed (%v): %s", waitErr, lastMeaningfulLine(stderrTail, "no diagnostic output")),
	}
}

// lastMeaningfulLine picks the final stderr line that looks like an error,
// falling back to the provided default.
func lastMeaningfulLine(stderr, fallback string) string {
	lines := strings.Split(stderr, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		lower := strings.ToLower(line)
		if strings.Contains(lower, "error") ||
			strings.Contains(lower, "failed") ||
			strings.Contains(lower, "invalid") ||
			strings.Contains(lower, "cannot") ||
			strings.Contains(lower, "no such") ||
			strings.Contains(lower, "not found") {
			return line
		}
	}
	return fallback
}

// tailWriter keeps the last n bytes written to it. The engine's stderr can
// be large; only the tail matters for classification.
type tailWriter struct {
	limit int
	buf   []byte
}

func newTailWriter(limit int) *tailWriter {
	return &tailWriter{limit: limit}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if len(w.buf) > w.limit {
		w.buf = w.buf[len(w.buf)-w.limit:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string { return string(w.buf) }
