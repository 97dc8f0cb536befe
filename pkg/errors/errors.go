package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrorTypeSessionRejected means the remote did not accept the session
	ErrorTypeSessionRejected ErrorType = "session_rejected"
	// ErrorTypeUnsupportedLogin means the expected login form was not served
	ErrorTypeUnsupportedLogin ErrorType = "unsupported_login_flow"
	// ErrorTypeUnauthorized means the session expired while crawling
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	// ErrorTypeHTTPStatus represents a non-success HTTP status
	ErrorTypeHTTPStatus ErrorType = "http_status"
	// ErrorTypeRateLimit represents rate limiting errors
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeParsing represents HTML or field parsing errors
	ErrorTypeParsing ErrorType = "parsing"
	// ErrorTypeConfiguration represents configuration errors
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeStorage represents ledger or history storage errors
	ErrorTypeStorage ErrorType = "storage"
)

// SyncError is the error type shared by every component of a run.
// Scope names what failed: a section, "session", "ledger", ...
type SyncError struct {
	Type       ErrorType
	Scope      string
	Message    string
	StatusCode int
	Err        error
	Time       time.Time
}

// Error implements the error interface
func (e *SyncError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s - %v", e.Type, e.Scope, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Type, e.Scope, msg)
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Err
}

// IsAuth reports whether the error aborts the whole run.
func (e *SyncError) IsAuth() bool {
	return e.Type == ErrorTypeSessionRejected || e.Type == ErrorTypeUnsupportedLogin
}

// IsFetch reports whether the error ends the current section only.
func (e *SyncError) IsFetch() bool {
	switch e.Type {
	case ErrorTypeUnauthorized, ErrorTypeHTTPStatus, ErrorTypeRateLimit, ErrorTypeNetwork:
		return true
	default:
		return false
	}
}

// New creates a new SyncError
func New(errType ErrorType, scope, message string, err error) *SyncError {
	return &SyncError{
		Type:    errType,
		Scope:   scope,
		Message: message,
		Err:     err,
		Time:    time.Now(),
	}
}

// NewSessionRejected creates an error for a failed liveness probe
func NewSessionRejected(message string) *SyncError {
	return New(ErrorTypeSessionRejected, "session", message, nil)
}

// NewUnsupportedLogin creates an error for a missing login form or token
func NewUnsupportedLogin(message string) *SyncError {
	return New(ErrorTypeUnsupportedLogin, "session", message, nil)
}

// NewUnauthorized creates an error for a session lost mid-crawl
func NewUnauthorized(scope, message string) *SyncError {
	return New(ErrorTypeUnauthorized, scope, message, nil)
}

// NewHTTPStatus creates an error for an unexpected status code
func NewHTTPStatus(scope string, code int) *SyncError {
	e := New(ErrorTypeHTTPStatus, scope, "unexpected status code", nil)
	e.StatusCode = code
	return e
}

// NewRateLimit creates a new rate limit error
func NewRateLimit(scope string, code int, retryAfter string) *SyncError {
	message := "rate limited"
	if retryAfter != "" {
		message = fmt.Sprintf("rate limited; retry after %s", retryAfter)
	}
	e := New(ErrorTypeRateLimit, scope, message, nil)
	e.StatusCode = code
	return e
}

// NewNetwork creates a new network error
func NewNetwork(scope, message string, err error) *SyncError {
	return New(ErrorTypeNetwork, scope, message, err)
}

// NewParsing creates a new parsing error
func NewParsing(scope, message string, err error) *SyncError {
	return New(ErrorTypeParsing, scope, message, err)
}

// NewConfiguration creates a new configuration error
func NewConfiguration(message string, err error) *SyncError {
	return New(ErrorTypeConfiguration, "config", message, err)
}

// NewStorage creates a new storage error
func NewStorage(scope, message string, err error) *SyncError {
	return New(ErrorTypeStorage, scope, message, err)
}

// IsType reports whether err wraps a SyncError of the given type.
func IsType(err error, errType ErrorType) bool {
	var se *SyncError
	return stderrors.As(err, &se) && se.Type == errType
}

// IsAuth reports whether err wraps an authentication failure.
func IsAuth(err error) bool {
	var se *SyncError
	return stderrors.As(err, &se) && se.IsAuth()
}

// IsFetch reports whether err wraps a section-level fetch failure.
func IsFetch(err error) bool {
	var se *SyncError
	return stderrors.As(err, &se) && se.IsFetch()
}
