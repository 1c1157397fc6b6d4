package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned synchronously by Submit.
	ErrInvalidConfig = errors.New("invalid submission config")

	// ErrNotFound is returned by progress lookups for unknown IDs.
	ErrNotFound = errors.New("submission not found")

	// ErrStaleOnRestart marks records abandoned by a prior process run.
	ErrStaleOnRestart = errors.New("submission stale after restart")
)

// StageError records which pipeline stage a submission failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) *StageError {
	return &StageError{Stage: stage, Err: err}
}
