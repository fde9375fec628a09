// Package status defines the result vocabulary shared by the graph runtime,
// the accelerator wrapper and the inference backends.
//
// Every fallible operation returns an error. CodeOf maps any error (including
// nil) back onto a Code so callers that need the coarse category can switch on
// it, while errors.Is/As keep working on the wrapped cause.
package status

import (
	"errors"
	"fmt"
)

// Code is the coarse result category of an operation.
type Code int

const (
	OK Code = iota
	Failed
	NotSupported
	InvalidArgument
	FileNotFound
	OutOfMemory
	InternalFailed
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case Failed:
		return "FAILED"
	case NotSupported:
		return "NOT_SUPPORTED"
	case InvalidArgument:
		return "INVALID_ARGUMENT"
	case FileNotFound:
		return "FILE_NOT_FOUND"
	case OutOfMemory:
		return "OUT_OF_MEMORY"
	case InternalFailed:
		return "INTERNAL_FAILED"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Sentinels usable with errors.Is. Any *Error with the same Code matches.
var (
	ErrFailed          = codeError(Failed)
	ErrNotSupported    = codeError(NotSupported)
	ErrInvalidArgument = codeError(InvalidArgument)
	ErrFileNotFound    = codeError(FileNotFound)
	ErrOutOfMemory     = codeError(OutOfMemory)
	ErrInternalFailed  = codeError(InternalFailed)
)

type codeError Code

func (e codeError) Error() string { return Code(e).String() }

// Error is a status-carrying error.
type Error struct {
	Code Code
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Code, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports a match against the code sentinels so that
// errors.Is(err, status.ErrNotSupported) works without unwrapping by hand.
func (e *Error) Is(target error) bool {
	c, ok := target.(codeError)
	return ok && Code(c) == e.Code
}

// New returns an error with the given code.
func New(code Code, op, format string, args ...any) error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to err. A nil err yields nil.
func Wrap(err error, code Code, op, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Annotate adds context to err while keeping its code.
func Annotate(err error, op, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &Error{Code: CodeOf(err), Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf returns the code carried by err. Errors that carry no code are Failed.
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	var ce codeError
	if errors.As(err, &ce) {
		return Code(ce)
	}
	return Failed
}

// Is reports whether err carries code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}
