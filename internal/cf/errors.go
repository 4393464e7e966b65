package cf

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingColumn is returned when a configured column is not in the table.
	ErrMissingColumn = errors.New("missing column")
	// ErrNoContext is returned when no classifier column defines the context.
	ErrNoContext = errors.New("no context columns")
	// ErrAmbiguousKey is returned when a classifier value would make two
	// different value tuples share a context key.
	ErrAmbiguousKey = errors.New("ambiguous context key")
)

// Stage names a step of the counterfactual computation.
type Stage string

const (
	StageCollapse  Stage = "collapse"
	StageContext   Stage = "context"
	StageReference Stage = "reference"
	StageScore     Stage = "score"
	StageAggregate Stage = "aggregate"
)

// StageError is a fatal configuration error tied to the stage and field
// that triggered it.
type StageError struct {
	Stage Stage
	Field string
	Err   error
}

func (e *StageError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s: %q: %v", e.Stage, e.Field, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage Stage, field string, err error) error {
	return &StageError{Stage: stage, Field: field, Err: err}
}
