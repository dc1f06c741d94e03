package dispatch

import (
	"errors"
	"fmt"

	"github.com/ceci-ai/botchain/pkg/stages"
)

// ErrorKind classifies a failed stage call per the orchestrator taxonomy.
// All errors inside a stage call are converted to one of these before the
// planner proceeds.
type ErrorKind string

const (
	// KindTransientUpstream covers network errors, timeouts, 429 and 5xx,
	// retried a bounded number of times, then surfaced as degraded.
	KindTransientUpstream ErrorKind = "transient_upstream"

	// KindStageMalformed covers 2xx responses whose body is unparsable or
	// contract-violating. Not retried.
	KindStageMalformed ErrorKind = "stage_malformed"

	// KindStageRefused covers 4xx (excluding 429). Fails the turn.
	KindStageRefused ErrorKind = "stage_refused"

	// KindDeadlineExceeded means the request's total budget was consumed
	// while this stage was in flight.
	KindDeadlineExceeded ErrorKind = "deadline_exceeded"
)

// StageError is the classified failure of one stage invocation.
type StageError struct {
	Stage  stages.Name
	Kind   ErrorKind
	Status int // HTTP status when relevant, else 0
	Err    error
}

// Error implements error.
func (e *StageError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("stage %s: %s (status %d): %v", e.Stage, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// KindOf extracts the error kind from err, or "" when err is not a
// StageError.
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
