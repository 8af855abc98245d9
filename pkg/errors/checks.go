package errors

import (
	"errors"
)

// AsError finds the first *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the first *Error in err's chain, or "".
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// IsAuthentication reports a missing or invalid token (401).
func IsAuthentication(err error) bool {
	return category(err) == "AUTH"
}

// IsAuthorization reports an insufficient scope (403).
func IsAuthorization(err error) bool {
	return category(err) == "AUTHZ"
}

// IsNotFound reports a not found error.
func IsNotFound(err error) bool {
	return category(err) == "NF"
}

// IsValidation reports a validation error.
func IsValidation(err error) bool {
	return category(err) == "VAL"
}

// IsClientError reports whether err maps to a 4xx status. Untyped errors
// are server errors.
func IsClientError(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	s := e.HTTPStatus()
	return s >= 400 && s < 500
}

// IsServerError reports whether err maps to a 5xx status, including
// untyped errors. A nil error is neither.
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	e, ok := AsError(err)
	if !ok {
		return true
	}
	return e.HTTPStatus() >= 500
}

func category(err error) string {
	e, ok := AsError(err)
	if !ok {
		return ""
	}
	return e.Code.Category()
}
