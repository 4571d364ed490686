// Package errors provides the error taxonomy shared by the welcome packages.
package errors

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnexpected represents any failure outside the known taxonomy.
	CodeUnexpected Code = "UNEXPECTED"

	// CodeNotFound marks a reference to an action id or private state key that does not exist.
	CodeNotFound Code = "NOT_FOUND"

	// CodeTransientStore marks a private state read that kept failing after retries.
	CodeTransientStore Code = "TRANSIENT_STORE"

	// CodeTransactionFailure marks a transaction that was built or sent and then failed.
	CodeTransactionFailure Code = "TRANSACTION_FAILURE"

	// CodeInvalidArgument marks malformed caller input.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
)

// Error is the domain error type.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code && (t.Message == "" || t.Message == e.Message)
	}
	return false
}

// New creates a domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// CodeOf returns the code of the first domain error in the chain, or CodeUnexpected.
func CodeOf(err error) Code {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return CodeUnexpected
		}
		err = u.Unwrap()
	}
	return CodeUnexpected
}

// Kind returns a matcher for errors.Is that accepts any domain error with the given code.
func Kind(code Code) error {
	return &Error{Code: code}
}
