package models

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownModel means configuration names a model kind nobody registered.
	ErrUnknownModel = errors.New("unknown model")
	// ErrArtifactNotFound is the normal state of a pair before its first retrain.
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrCorruptArtifact means an artifact exists but cannot be decoded or verified.
	ErrCorruptArtifact = errors.New("corrupt artifact")
	// ErrInsufficientData means the window required for an action has gaps.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrUnknownSeries means a query names a series that is not configured.
	ErrUnknownSeries = errors.New("unknown series")
)

// FitError wraps a failure raised by a model algorithm.
type FitError struct {
	Series SeriesID
	Model  string
	Err    error
}

func (e *FitError) Error() string {
	return fmt.Sprintf("fit %s__%s: %v", e.Series, e.Model, e.Err)
}

func (e *FitError) Unwrap() error { return e.Err }

// AcquisitionError wraps an upstream price fetch failure for one series.
type AcquisitionError struct {
	Series SeriesID
	Source string
	Err    error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s from %s: %v", e.Series, e.Source, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ErrorKind classifies err for reports and metric labels.
func ErrorKind(err error) string {
	var fitErr *FitError
	var acqErr *AcquisitionError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownModel):
		return "unknown_model"
	case errors.Is(err, ErrArtifactNotFound):
		return "artifact_not_found"
	case errors.Is(err, ErrCorruptArtifact):
		return "corrupt_artifact"
	case errors.Is(err, ErrInsufficientData):
		return "insufficient_data"
	case errors.As(err, &fitErr):
		return "fit"
	case errors.As(err, &acqErr):
		return "acquisition"
	default:
		return "internal"
	}
}
