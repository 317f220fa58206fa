package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned to callers.
const (
	CodeLoginRequired   = "LOGIN_REQUIRED"
	CodeElementNotFound = "ELEMENT_NOT_FOUND"
	CodeRateLimited     = "RATE_LIMITED"
	CodeScrapingError   = "SCRAPING_ERROR"
	CodeInternalError   = "INTERNAL_ERROR"

	// Request pipeline codes, produced before any check runs.
	CodeMissingAPIKey     = "MISSING_API_KEY"
	CodeInvalidAPIKey     = "INVALID_API_KEY"
	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
	CodeInvalidRequest    = "INVALID_REQUEST"
	CodeMissingParameter  = "MISSING_PARAMETER"

	// Router level codes.
	CodeNotFound            = "NOT_FOUND"
	CodeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	CodeInternalServerError = "INTERNAL_SERVER_ERROR"
)

// Retry hints in seconds.
const (
	RetryAfterLogin   = 300
	RetryAfterDefault = 60
)

// MsgUnexpected is the only message surfaced for unexpected faults.
const MsgUnexpected = "An unexpected error occurred"

// ScrapingError is the domain error every check returns on failure.
type ScrapingError struct {
	Code       string
	Message    string
	RetryAfter int
	Err        error // underlying cause, logged but never serialized
}

func (e *ScrapingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *ScrapingError) Unwrap() error { return e.Err }

// HTTPStatus maps the error code to a response status.
func (e *ScrapingError) HTTPStatus() int {
	switch e.Code {
	case CodeLoginRequired:
		return http.StatusUnauthorized
	case CodeElementNotFound:
		return http.StatusNotFound
	case CodeRateLimited, CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case CodeMissingAPIKey, CodeInvalidAPIKey:
		return http.StatusUnauthorized
	case CodeInvalidRequest, CodeMissingParameter:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	default:
		return http.StatusInternalServerError
	}
}

// Body returns the serializable error payload.
func (e *ScrapingError) Body() *ErrorBody {
	return &ErrorBody{Code: e.Code, Message: e.Message, RetryAfter: e.RetryAfter}
}

// ErrLoginRequired reports that no authenticated session could be established.
func ErrLoginRequired(message string, cause error) *ScrapingError {
	return &ScrapingError{Code: CodeLoginRequired, Message: message, RetryAfter: RetryAfterLogin, Err: cause}
}

// ErrElementNotFound reports a missing target or a missing action control.
func ErrElementNotFound(message string) *ScrapingError {
	return &ScrapingError{Code: CodeElementNotFound, Message: message, RetryAfter: RetryAfterDefault}
}

// ErrRateLimited reports that the platform itself throttled the session.
func ErrRateLimited(message string) *ScrapingError {
	return &ScrapingError{Code: CodeRateLimited, Message: message, RetryAfter: RetryAfterLogin}
}

// ErrGeneric reports any other check failure.
func ErrGeneric(message string, cause error) *ScrapingError {
	return &ScrapingError{Code: CodeScrapingError, Message: message, RetryAfter: RetryAfterDefault, Err: cause}
}

// ErrInternal hides an unexpected fault behind a fixed message.
func ErrInternal(cause error) *ScrapingError {
	return &ScrapingError{Code: CodeInternalError, Message: MsgUnexpected, RetryAfter: RetryAfterDefault, Err: cause}
}

// AsScrapingError extracts a ScrapingError from err. Any other error becomes
// an internal error so callers never see raw low-level messages.
func AsScrapingError(err error) *ScrapingError {
	if err == nil {
		return nil
	}
	var se *ScrapingError
	if errors.As(err, &se) {
		return se
	}
	return ErrInternal(err)
}
