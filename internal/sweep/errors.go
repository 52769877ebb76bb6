package sweep

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownTrial is returned for trial IDs the controller never issued.
	ErrUnknownTrial = errors.New("unknown trial")
	// ErrTrialClosed is returned when reporting against a finished, failed or
	// pruned trial.
	ErrTrialClosed = errors.New("trial is closed")
	// ErrSweepComplete is returned by Suggest once the trial budget is spent
	// or the search space is exhausted.
	ErrSweepComplete = errors.New("sweep complete")
)

// TrialExecutionError records why a trial could not produce a result. The
// sweep continues past it.
type TrialExecutionError struct {
	TrialID string
	Err     error
}

func (e *TrialExecutionError) Error() string {
	return fmt.Sprintf("trial %s: %v", e.TrialID, e.Err)
}

func (e *TrialExecutionError) Unwrap() error {
	return e.Err
}
