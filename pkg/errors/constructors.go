package errors

import (
	"errors"
	"fmt"
)

// New returns an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf returns an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under code. It returns nil when err is nil.
//
//	claims, err := provider.Lookup(ctx, sub, token)
//	if err != nil {
//	    return errors.Wrap(err, errors.CodeUpstreamLookup, "extra claims lookup failed")
//	}
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// MissingToken reports an absent or malformed bearer header.
func MissingToken() *Error {
	return New(CodeMissingToken, "No access token was supplied in the bearer header")
}

// InvalidToken reports a token that failed verification. The message is
// the same for every reason so that callers cannot probe the validator.
func InvalidToken(cause error) *Error {
	return &Error{
		Code:    CodeInvalidToken,
		Message: "Missing, invalid or expired access token",
		Cause:   cause,
	}
}

// InsufficientScope reports a token lacking the named scope.
func InsufficientScope(scope string) *Error {
	return New(CodeInsufficientScope, "Access to this API endpoint is forbidden").
		WithDetail("required_scope", scope)
}

// NotFound reports a missing business resource.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// MethodNotAllowed reports a request method the path does not accept.
func MethodNotAllowed(method string) *Error {
	return Newf(CodeMethodNotAllowed, "The %s method is not supported for this resource", method)
}

// Validation reports invalid input.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf reports invalid input with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// Unhandled wraps an error that has no specific kind.
func Unhandled(err error) *Error {
	return Wrap(err, CodeUnhandled, "an unexpected error occurred")
}

// FromError returns err as an *Error, classifying untyped errors as
// unhandled. It returns nil for a nil error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unhandled(err)
}
