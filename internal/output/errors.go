package output

import (
	"context"
	"errors"

	"github.com/banshee-data/alphascan/internal/security"
)

// ErrorClass groups output errors by how callers should react to them.
type ErrorClass int

const (
	// ClassInvalid errors are caused by bad arguments and are never retried.
	ClassInvalid ErrorClass = iota
	// ClassCancelled errors mean a stop signal was observed.
	ClassCancelled
	// ClassTransient errors are I/O failures that outlasted their retry budget.
	ClassTransient
	// ClassFatal errors mean the writer barrier is broken; abort loudly.
	ClassFatal
	// ClassUnknown covers anything else.
	ClassUnknown
)

func (c ErrorClass) String() string {
	switch c {
	case ClassInvalid:
		return "invalid"
	case ClassCancelled:
		return "cancelled"
	case ClassTransient:
		return "transient"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// ErrInvalidFileName is returned for empty or unusable dataset names.
	ErrInvalidFileName = security.ErrInvalidName
	// ErrInvalidPath is returned for unusable output directories.
	ErrInvalidPath = errors.New("invalid output path")
	// ErrSavingStopped is returned while a run rotation or directory change
	// has told writers to stop.
	ErrSavingStopped = errors.New("saving stopped")
	// ErrRunsDisabled is returned by run operations invalidated by an output
	// directory change.
	ErrRunsDisabled = errors.New("runs disabled for this output directory")
	// ErrNoRun is returned when saving before NextRun has created a run.
	ErrNoRun = errors.New("no run directory")
	// ErrWriteTimeout is returned when a write kept failing until the retry
	// budget ran out.
	ErrWriteTimeout = errors.New("write retry timeout")
	// ErrWriterDrainTimeout is returned when in-flight writers did not finish
	// before the drain timeout. It indicates a stuck writer or a broken counter.
	ErrWriterDrainTimeout = errors.New("active writers failed to drain")
)

// Classify returns the class of an error produced by this package.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrInvalidFileName), errors.Is(err, ErrInvalidPath):
		return ClassInvalid
	case errors.Is(err, ErrSavingStopped), errors.Is(err, ErrRunsDisabled), errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, ErrWriteTimeout):
		return ClassTransient
	case errors.Is(err, ErrWriterDrainTimeout):
		return ClassFatal
	default:
		return ClassUnknown
	}
}

// IsFatal reports whether err must abort the caller.
func IsFatal(err error) bool { return Classify(err) == ClassFatal }

// IsCancelled reports whether err came from a stop signal.
func IsCancelled(err error) bool { return Classify(err) == ClassCancelled }

// IsTransient reports whether err is an I/O failure that outlasted its retries.
func IsTransient(err error) bool { return Classify(err) == ClassTransient }
