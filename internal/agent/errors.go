package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies failures surfaced by the orchestration core.
type ErrorKind string

const (
	// KindValidation indicates malformed input such as an unknown tool or
	// arguments that do not match the tool schema.
	KindValidation ErrorKind = "validation"

	// KindDenied indicates a request blocked by policy.
	KindDenied ErrorKind = "denied"

	// KindTimeout indicates an operation exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindProviderUnavailable indicates every provider in the chain failed or
	// was cooling down.
	KindProviderUnavailable ErrorKind = "provider_unavailable"

	// KindConfiguration indicates invalid static configuration.
	KindConfiguration ErrorKind = "configuration"

	// KindExecution indicates a tool handler failed while running.
	KindExecution ErrorKind = "execution"
)

// Common sentinel errors for agent operations
var (
	// ErrToolNotFound indicates a requested tool doesn't exist
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolPanic indicates a tool panicked during execution
	ErrToolPanic = errors.New("tool panicked")

	// ErrRegistrySealed indicates a registration after Seal.
	ErrRegistrySealed = errors.New("tool registry is sealed")

	// ErrTurnCancelled indicates the in-flight turn was cancelled.
	ErrTurnCancelled = errors.New("turn cancelled")
)

// Error is the structured error type returned by the orchestration core.
type Error struct {
	// Kind categorizes the failure.
	Kind ErrorKind

	// Op names the operation that failed (for example "tool.invoke").
	Op string

	// Message is the human-readable error message.
	Message string

	// Cause is the underlying error.
	Cause error

	// Attempts is set on provider-unavailable errors.
	Attempts []Attempt
}

// Error implements the error interface.
func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))
	if e.Op != "" {
		parts = append(parts, e.Op+":")
	}
	switch {
	case e.Message != "" && e.Cause != nil:
		parts = append(parts, e.Message+": "+e.Cause.Error())
	case e.Message != "":
		parts = append(parts, e.Message)
	case e.Cause != nil:
		parts = append(parts, e.Cause.Error())
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(kind ErrorKind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Message: msg, Cause: cause}
}

// NewValidationError reports malformed input.
func NewValidationError(op, msg string, cause error) *Error {
	return newError(KindValidation, op, msg, cause)
}

// NewDeniedError reports a request blocked by policy.
func NewDeniedError(op, msg string) *Error {
	return newError(KindDenied, op, msg, nil)
}

// NewTimeoutError reports an exceeded deadline.
func NewTimeoutError(op, msg string, cause error) *Error {
	return newError(KindTimeout, op, msg, cause)
}

// NewProviderUnavailableError reports chain exhaustion along with the
// per-provider attempts that led to it.
func NewProviderUnavailableError(attempts []Attempt, last error) *Error {
	e := newError(KindProviderUnavailable, "provider.complete", "all providers unavailable", last)
	e.Attempts = attempts
	return e
}

// NewConfigurationError reports invalid static configuration.
func NewConfigurationError(op, msg string, cause error) *Error {
	return newError(KindConfiguration, op, msg, cause)
}

// NewExecutionError reports a tool handler failure.
func NewExecutionError(op, msg string, cause error) *Error {
	return newError(KindExecution, op, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain contains an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
