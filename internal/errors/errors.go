package errors

import (
	stderrors "errors"
	"fmt"
)

// Code classifies a failure by how it is reported to the user
type Code string

const (
	// CodeSetup means the session could not start; input stays disabled.
	CodeSetup Code = "SETUP_FAILURE"
	// CodeStream means the assistant stream failed mid-turn.
	CodeStream Code = "STREAM_FAILURE"
	// CodeAction means a user-requested action (commit, test, lint, undo) failed.
	CodeAction Code = "ACTION_FAILURE"
	// CodeRejected means an exclusive task was refused because another holds the slot.
	CodeRejected Code = "REJECTED"

	CodeConfigInvalid Code = "CONFIG_INVALID"
	CodeInternal      Code = "INTERNAL"
)

// Error is a structured error carrying a Code
type Error struct {
	Code        Code
	Message     string
	Underlying  error
	UserMessage string
}

// New creates a new structured error
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a new structured error with a formatted message
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps err with a code and message. Wrap(nil, ...) returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithUserMessage sets the text shown to the user instead of Error().
func (e *Error) WithUserMessage(message string) *Error {
	e.UserMessage = message
	return e
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Underlying)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error by code when its message is empty, so
// sentinel values like ErrBusy can be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Message == "" || t.Message == e.Message)
}

// CodeOf returns the code of the outermost structured error in err's
// chain, or CodeInternal when there is none.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// UserText returns the message to show the user for err
func UserText(err error) string {
	var e *Error
	if stderrors.As(err, &e) && e.UserMessage != "" {
		return e.UserMessage
	}
	return err.Error()
}
