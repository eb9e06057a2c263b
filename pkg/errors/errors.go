// Package errors defines the coded errors shared by the renderer, the
// scaler, the processor and the HTTP server.
//
// Every failure carries a Code. The processor uses it to decide whether a
// task is worth retrying (see IsClientError) and the server uses it to pick
// a status code and a message that is safe to return to callers:
//
//	INVALID_*      bad caller input, 400, never retried
//	*_NOT_FOUND    unknown quote or task, 404
//	*_FAILED       pipeline stage failure, 500, retried
//	TIMEOUT        deadline exceeded, 504
//
// Callers match on codes rather than on message text:
//
//	if errors.Is(err, errors.ErrCodeQuoteNotFound) {
//		...
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	ErrCodeInvalidInput  Code = "INVALID_INPUT"
	ErrCodeInvalidFormat Code = "INVALID_FORMAT"
	ErrCodeInvalidURL    Code = "INVALID_URL"

	ErrCodeNotFound      Code = "NOT_FOUND"
	ErrCodeQuoteNotFound Code = "QUOTE_NOT_FOUND"
	ErrCodeTaskNotFound  Code = "TASK_NOT_FOUND"

	ErrCodeBackgroundLoad   Code = "BACKGROUND_LOAD_FAILED"
	ErrCodeRenderFailed     Code = "RENDER_FAILED"
	ErrCodeScaleFailed      Code = "SCALE_FAILED"
	ErrCodeProcessingFailed Code = "PROCESSING_FAILED"

	ErrCodeTimeout     Code = "TIMEOUT"
	ErrCodeUnsupported Code = "UNSUPPORTED"
	ErrCodeInternal    Code = "INTERNAL_ERROR"
)

// GenericFailureMessage is shown to end users for any failure that is not
// caused by their own input.
const GenericFailureMessage = "image generation failed, please retry"

// Error pairs a Code with a message and an optional cause. Message is the
// part shown to callers for client errors, so it should not include the
// cause's text.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := string(e.Code) + ": " + e.Message
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

// New returns an Error with a formatted message and no cause.
func New(code Code, format string, args ...any) *Error {
	return Wrap(code, nil, format, args...)
}

// Wrap returns an Error with a formatted message around cause.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether the first *Error in err's chain has the given code.
func Is(err error, code Code) bool {
	return GetCode(err) == code && code != ""
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := asError(err); ok {
		return e.Code
	}
	return ""
}

func asError(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}

// IsClientError reports whether err was caused by caller input and should
// not be retried.
func IsClientError(err error) bool {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidFormat, ErrCodeInvalidURL,
		ErrCodeNotFound, ErrCodeQuoteNotFound:
		return true
	}
	return false
}

// HTTPStatus maps an error to the status code an HTTP handler should return.
// Anything that is not a client error is reported as 500.
func HTTPStatus(err error) int {
	switch GetCode(err) {
	case ErrCodeInvalidInput, ErrCodeInvalidFormat, ErrCodeInvalidURL:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeQuoteNotFound:
		return http.StatusNotFound
	case ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a message that is safe to show to an end user.
// Client errors keep their message; every other failure collapses to
// GenericFailureMessage so causes and stack detail never leak.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := asError(err); ok && IsClientError(err) {
		return e.Message
	}
	return GenericFailureMessage
}
