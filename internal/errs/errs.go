// Package errs carries the failure kinds runner-sync maps onto process exit codes.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Each kind owns one process exit code.
type Kind int

const (
	Unclassified Kind = iota
	Validation
	Network
	Process
)

const (
	ExitSuccess    = 0
	ExitUnknown    = 1
	ExitValidation = 2
	ExitNetwork    = 10
	ExitProcess    = 20
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Network:
		return "network"
	case Process:
		return "process"
	default:
		return "unclassified"
	}
}

// ExitCode returns the process exit code bound to the kind.
func (k Kind) ExitCode() int {
	switch k {
	case Validation:
		return ExitValidation
	case Network:
		return ExitNetwork
	case Process:
		return ExitProcess
	default:
		return ExitUnknown
	}
}

// Error is a classified failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op == "" && e.Err == nil:
		return e.Kind.String() + " error"
	case e.Op == "":
		return e.Err.Error()
	case e.Err == nil:
		return e.Op
	default:
		return e.Op + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. A nil err stays nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: Validation, Err: fmt.Errorf(format, args...)}
}

func Networkf(format string, args ...any) error {
	return &Error{Kind: Network, Err: fmt.Errorf(format, args...)}
}

func Processf(format string, args ...any) error {
	return &Error{Kind: Process, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the outermost classified kind in err's chain.
func KindOf(err error) Kind {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}
	return Unclassified
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// ExitCode maps err onto a process exit code. nil maps to ExitSuccess.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	return KindOf(err).ExitCode()
}
