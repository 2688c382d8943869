package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"path/filepath"
	"runtime"
)

// New creates a new error with file and line number information.
func New(format string, a ...interface{}) error {
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s", file, line, fmt.Sprintf(format, a...))
}

// Wrapf adds context (including file and line number) to an existing error.
// If the provided error is nil, Wrapf returns nil.
func Wrapf(err error, format string, a ...interface{}) error {
	if err == nil {
		return nil
	}
	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "???"
		line = 0
	} else {
		file = filepath.Base(file)
	}
	return fmt.Errorf("[%s:%d] %s: %w", file, line, fmt.Sprintf(format, a...), err)
}

// Kind tells callers how a failure should be handled.
type Kind int

const (
	// Fatal failures are not worth retrying.
	Fatal Kind = iota
	// Transient failures may succeed if repeated (5xx, timeouts).
	Transient
	// RateLimited failures mean the upstream quota is exhausted for now.
	RateLimited
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	default:
		return "fatal"
	}
}

type kindError struct {
	kind Kind
	err  error
}

func (e *kindError) Error() string { return e.err.Error() }
func (e *kindError) Unwrap() error { return e.err }

// WithKind attaches a Kind to err. The kind survives further wrapping with Wrapf.
func WithKind(err error, kind Kind) error {
	if err == nil {
		return nil
	}
	return &kindError{kind: kind, err: err}
}

// KindOf reports the outermost Kind attached to err. Errors without a kind are
// Fatal, except deadline expiry which is Transient.
func KindOf(err error) Kind {
	if err == nil {
		return Fatal
	}
	var ke *kindError
	if stderrors.As(err, &ke) {
		return ke.kind
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return Transient
	}
	return Fatal
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

func Join(errs ...error) error { return stderrors.Join(errs...) }
