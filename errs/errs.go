// Package errs defines the error taxonomy shared by every
// stage of the training pipeline.
//
// Packages add context to low-level errors with
// essentials.AddCtx and then tag the result with a Kind
// and a Stage, so callers can tell what failed and where
// without parsing messages.
package errs

import (
	"errors"
	"fmt"
)

// A Kind classifies a pipeline failure.
type Kind int

const (
	// Unknown is the Kind of errors not produced by this
	// package.
	Unknown Kind = iota

	// Parse indicates a malformed input document.
	Parse

	// Validation indicates an empty corpus, an empty
	// vocabulary, or inconsistent shapes.
	Validation

	// IO indicates a file that could not be read or
	// written.
	IO

	// Resource indicates that training would exhaust memory
	// or compute.
	Resource
)

// String returns the taxonomy name of the kind.
func (k Kind) String() string {
	switch k {
	case Parse:
		return "ParseError"
	case Validation:
		return "ValidationError"
	case IO:
		return "IOError"
	case Resource:
		return "ResourceError"
	default:
		return "Error"
	}
}

// A Stage names the part of the pipeline that failed.
type Stage string

// These are the stages of the pipeline, in order.
const (
	Loading    Stage = "loading"
	Vocabulary Stage = "vocabulary"
	Encoding   Stage = "encoding"
	Training   Stage = "training"
)

// Error is a pipeline error tagged with a Kind and a
// Stage.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

// New tags err with a kind and stage.
// It returns nil if err is nil.
func New(k Kind, s Stage, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: k, Stage: s, Err: err}
}

// Newf creates a tagged error from a format string.
func Newf(k Kind, s Stage, format string, args ...interface{}) error {
	return &Error{Kind: k, Stage: s, Err: fmt.Errorf(format, args...)}
}

// Error returns a message naming the stage and kind.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the outermost *Error in the
// chain, or Unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// StageOf returns the Stage of the outermost *Error in the
// chain, or an empty Stage.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Is reports whether err carries the given Kind.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
