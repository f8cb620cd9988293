package capture

import (
	"errors"
	"fmt"
)

// ErrorClass represents whether a loop error ends the process or is retried.
type ErrorClass int

const (
	// ClassRetryable errors are logged and retried on the next iteration.
	ClassRetryable ErrorClass = iota
	// ClassFatal errors stop the loop; the process exits with status 1.
	ClassFatal
)

func (ec ErrorClass) String() string {
	switch ec {
	case ClassFatal:
		return "fatal"
	default:
		return "retryable"
	}
}

// ErrFatal marks configuration and precondition failures.
var ErrFatal = errors.New("fatal")

var (
	ErrUnknownSource  = fmt.Errorf("%w: unknown stream source", ErrFatal)
	ErrUnknownBackend = fmt.Errorf("%w: unknown upload service", ErrFatal)
	ErrMissingFiles   = fmt.Errorf("%w: required files are missing", ErrFatal)
)

// Classify reports whether err must stop the loop.
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrFatal) {
		return ClassFatal
	}
	return ClassRetryable
}

// IsFatal is shorthand for Classify(err) == ClassFatal.
func IsFatal(err error) bool { return err != nil && Classify(err) == ClassFatal }
