package industry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the taxonomy bucket of a SourceError.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindProvider   ErrorKind = "provider"
	KindMalformed  ErrorKind = "malformed"
	KindAggregate  ErrorKind = "aggregate"
)

// ErrorCode is a stable, machine-readable failure code.
type ErrorCode string

const (
	CodeInvalidKey        ErrorCode = "INVALID_KEY"
	CodeCredentialMissing ErrorCode = "CREDENTIAL_MISSING"
	CodeUnknownSource     ErrorCode = "UNKNOWN_SOURCE"
	CodeNetwork           ErrorCode = "NETWORK_ERROR"
	CodeTimeout           ErrorCode = "TIMEOUT"
	CodeRateLimited       ErrorCode = "RATE_LIMITED"
	CodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeClientError       ErrorCode = "CLIENT_ERROR"
	CodeServerError       ErrorCode = "SERVER_ERROR"
	CodeCircuitOpen       ErrorCode = "CIRCUIT_OPEN"
	CodeMalformed         ErrorCode = "MALFORMED_RESPONSE"
	CodeNoData            ErrorCode = "NO_DATA"
	CodeQuotaExceeded     ErrorCode = "QUOTA_EXCEEDED"
)

// SourceError is the single error shape that leaves an adapter.
type SourceError struct {
	SourceName  string    `json:"sourceName"`
	Code        ErrorCode `json:"errorCode"`
	Kind        ErrorKind `json:"kind"`
	Message     string    `json:"message"`
	Suggestions []string  `json:"suggestions,omitempty"`
	Retryable   bool      `json:"retryable"`
	StatusCode  int       `json:"statusCode,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func (e *SourceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s: %s", e.SourceName, e.Code, e.Message)
}

// NewSourceError builds a SourceError, deriving kind and retryability from the code.
func NewSourceError(source string, code ErrorCode, msg string, suggestions ...string) *SourceError {
	return &SourceError{
		SourceName:  source,
		Code:        code,
		Kind:        kindFor(code),
		Message:     msg,
		Suggestions: suggestions,
		Retryable:   retryable(code),
		Timestamp:   time.Now().UTC(),
	}
}

func kindFor(code ErrorCode) ErrorKind {
	switch code {
	case CodeInvalidKey, CodeUnknownSource:
		return KindValidation
	case CodeMalformed:
		return KindMalformed
	default:
		return KindProvider
	}
}

func retryable(code ErrorCode) bool {
	switch code {
	case CodeNetwork, CodeTimeout, CodeRateLimited, CodeServerError, CodeCircuitOpen, CodeQuotaExceeded:
		return true
	default:
		return false
	}
}

// AsSourceError returns err as a *SourceError, wrapping foreign errors so no
// other shape leaks past an adapter.
func AsSourceError(err error, source string) *SourceError {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewSourceError(source, CodeTimeout,
			"request timed out; the source may be slow, retry later or narrow the period range")
	case errors.Is(err, context.Canceled):
		return NewSourceError(source, CodeTimeout, "request was cancelled before the source answered")
	default:
		return NewSourceError(source, CodeNetwork, err.Error())
	}
}

// AggregateFailure is returned by Search when no candidate source succeeded.
type AggregateFailure struct {
	Errors []*SourceError
}

func (e *AggregateFailure) Error() string {
	if len(e.Errors) == 0 {
		return "aggregate failure: no data sources available for query"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, se := range e.Errors {
		parts = append(parts, fmt.Sprintf("%s(%s)", se.SourceName, se.Code))
	}
	return fmt.Sprintf("aggregate failure: all %d sources failed: %s", len(e.Errors), strings.Join(parts, ", "))
}
