package engine

import (
	"errors"
	"fmt"
)

// Kind classifies an engine failure.
type Kind string

const (
	// KindInput is a request that can never succeed as sent.
	KindInput Kind = "INVALID_INPUT"
	// KindUpstream is a failed model call.
	KindUpstream Kind = "UPSTREAM_FAILED"
	// KindParse is a model reply that could not be decoded.
	KindParse Kind = "PARSE_FAILED"
)

// CodeSimulationFailed is the client-facing code of every non-input failure.
const CodeSimulationFailed = "SIMULATION_FAILED"

// Error is the single typed failure returned by the engine.
type Error struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Kind == KindInput && e.Field != "":
		return fmt.Sprintf("%s is required: %v", e.Field, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code is the error code reported to clients.
func (e *Error) Code() string {
	if e.Kind == KindInput {
		return string(KindInput)
	}
	return CodeSimulationFailed
}

func inputError(field, msg string) *Error {
	return &Error{Kind: KindInput, Field: field, Err: errors.New(msg)}
}

// IsInput reports whether err is a caller mistake rather than an upstream
// failure.
func IsInput(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindInput
}
