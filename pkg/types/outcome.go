package types

import "fmt"

// Status tags the variant held by an Outcome.
type Status int

const (
	// StatusSuccess means the operation completed and Value is set.
	StatusSuccess Status = iota
	// StatusFailed means the operation failed; Reason holds the diagnostic.
	StatusFailed
	// StatusLoginExpired means the remote side rejected the session's credentials.
	StatusLoginExpired
	// StatusInterrupted means the browser was closed by an actor outside the process.
	StatusInterrupted
)

// String returns the lower-case name of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailed:
		return "failed"
	case StatusLoginExpired:
		return "login_expired"
	case StatusInterrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the result shape of every public operation.
type Outcome[T any] struct {
	// Value is only meaningful when Status is StatusSuccess.
	Value T

	// Err is the underlying error for non-success outcomes, if any.
	Err error

	// Reason is a human-readable explanation for non-success outcomes.
	Reason string

	Status Status
}

// Succeeded wraps a successful value.
func Succeeded[T any](value T) Outcome[T] {
	return Outcome[T]{Status: StatusSuccess, Value: value}
}

// Failed builds a failed outcome preserving the error message.
func Failed[T any](err error) Outcome[T] {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}
	return Outcome[T]{Status: StatusFailed, Err: err, Reason: reason}
}

// LoginExpired builds a login-expired outcome.
func LoginExpired[T any](reason string) Outcome[T] {
	return Outcome[T]{Status: StatusLoginExpired, Reason: reason}
}

// Interrupted builds an interrupted outcome.
func Interrupted[T any](reason string) Outcome[T] {
	return Outcome[T]{Status: StatusInterrupted, Reason: reason}
}

// OK reports whether the outcome is a success.
func (o Outcome[T]) OK() bool {
	return o.Status == StatusSuccess
}

// String renders the outcome for logs.
func (o Outcome[T]) String() string {
	if o.Status == StatusSuccess || o.Reason == "" {
		return o.Status.String()
	}
	return fmt.Sprintf("%s: %s", o.Status, o.Reason)
}
