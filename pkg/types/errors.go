package types

import (
	"errors"
	"fmt"
)

// Validation sentinels
var (
	ErrInvalidUserID      = errors.New("user ID must be 1-64 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidCallStatus  = errors.New("invalid call status")
	ErrInvalidCallType    = errors.New("call type must be 'audio' or 'video'")
	ErrInvalidRoom        = errors.New("room must be a valid user or group identifier")
	ErrEmptyContent       = errors.New("message content cannot be empty")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
	ErrAmbiguousRecipient = errors.New("exactly one of receiver or groupId is required")
)

// ErrorCode is the machine-readable category carried on error events and REST responses.
type ErrorCode string

const (
	CodeValidation  ErrorCode = "VALIDATION_ERROR"
	CodeNotFound    ErrorCode = "NOT_FOUND"
	CodeForbidden   ErrorCode = "FORBIDDEN"
	CodeConflict    ErrorCode = "CONFLICT"
	CodeRateLimited ErrorCode = "RATE_LIMITED"
	CodeInternal    ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error surfaced to clients.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a coded error with a formatted message.
func NewError(code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and client-facing message to err.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ValidationError wraps err as a validation failure using err's text as the message.
func ValidationError(err error) *Error {
	return &Error{Code: CodeValidation, Message: err.Error(), Err: err}
}

func NotFound(format string, args ...interface{}) *Error {
	return NewError(CodeNotFound, format, args...)
}

func Forbidden(format string, args ...interface{}) *Error {
	return NewError(CodeForbidden, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return NewError(CodeConflict, format, args...)
}

// CodeOf returns the code of the first coded error in err's chain, or CodeInternal.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// MessageOf returns the client-facing message for err. Uncoded errors keep their text,
// matching the store-failure policy of reporting the raw message to the emitter.
func MessageOf(err error) string {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Message
	}
	return err.Error()
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}
