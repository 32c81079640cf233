package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the pipeline failure taxonomy. Item-level errors are
// recovered inside the fetcher; stage-level errors trigger the fallback
// path; job errors are terminal for their source and surfaced to the caller.
var (
	ErrDiscovery       = errors.New("discovery failed")
	ErrClassification  = errors.New("classification failed")
	ErrExtractionItem  = errors.New("item extraction failed")
	ErrExtractionStage = errors.New("extraction stage failed")
	ErrJobSubmit       = errors.New("job submit failed")
	ErrJobPoll         = errors.New("job poll failed")
	ErrJobActive       = errors.New("job already active for creator and source")
)

// StepError wraps a sentinel with the source and stage it occurred in.
type StepError struct {
	Source  SourceType
	Stage   string
	Wrapped error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s/%s: %s", e.Source, e.Stage, e.Wrapped)
}

func (e *StepError) Unwrap() error { return e.Wrapped }

// NewStepError creates a StepError.
func NewStepError(source SourceType, stage string, wrapped error) *StepError {
	return &StepError{Source: source, Stage: stage, Wrapped: wrapped}
}
