package queue

import (
	"time"

	"transcode-engine/pkg/models"
)

// validTransition enforces the job state machine:
//
//	Queued  → Running | Cancelled
//	Running → Completed | Failed | Cancelled
//
// There is no Running → Queued edge (no pausing) and terminal states admit
// nothing.
func validTransition(from, to models.JobState) bool {
	switch from {
	case models.StateQueued:
		return to == models.StateRunning || to == models.StateCancelled
	case models.StateRunning:
		return to == models.StateCompleted || to == models.StateFailed || to == models.StateCancelled
	default:
		return false
	}
}

// transitionLocked applies a state change and its timestamps. It is the only
// place job state is written; caller holds q.mu. An invalid transition is a
// programming error and is logged, not applied.
func (q *Queue) transitionLocked(j *job, to models.JobState) {
	if !validTransition(j.state, to) {
		q.log.Error().
			Str("job", j.id).
			Str("from", string(j.state)).
			Str("to", string(to)).
			Msg("invalid state transition dropped")
		return
	}

	from := j.state
	now := time.Now()
	switch to {
	case models.StateRunning:
		j.startedAt = now
	case models.StateCompleted, models.StateFailed, models.StateCancelled:
		j.finishedAt = now
	}
	j.state = to

	q.log.Debug().
		Str("job", j.id).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("job transition")
}

// DefaultConcurrency derives the scheduler's slot count from detected
// capabilities: hardware encoders have dedicated encode sessions, so a
// couple of jobs can run side by side; software encoding saturates cores
// quickly and gets a small fixed default.
func DefaultConcurrency(hasHardware bool, cores int) int {
	if hasHardware {
		return 2
	}
	n := cores / 4
	if n < 1 {
		n = 1
	}
	if n > 2 {
		n = 2
	}
	return n
}
