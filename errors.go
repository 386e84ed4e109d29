package edgeconfig

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Error types carried by ClientError.Type.
const (
	ErrorTypeNetwork    = "Network"
	ErrorTypeUnexpected = "Unexpected"
	ErrorTypeDecode     = "Decode"
	ErrorTypeValidation = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrNoConnectionString is returned by New when the connection string is empty.
	ErrNoConnectionString = errors.New("edgeconfig: no connection string provided")

	// ErrInvalidConnectionString is returned by New when the connection string cannot be parsed.
	ErrInvalidConnectionString = errors.New("edgeconfig: invalid connection string provided")

	// ErrNetwork matches any ClientError caused by a transport failure.
	ErrNetwork = &ClientError{Type: ErrorTypeNetwork, Message: "network error"}

	// ErrUnexpectedStatus matches any ClientError caused by an unexpected upstream status.
	ErrUnexpectedStatus = &ClientError{Type: ErrorTypeUnexpected, Message: "unexpected error"}
)

// ClientError describes a failed read against the remote store.
type ClientError struct {
	Type       string
	Message    string
	Operation  string
	Key        string
	URL        string
	StatusCode int
	Timestamp  time.Time
	Cause      error
}

// Error implements error interface.
func (e *ClientError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("edgeconfig: %s: %s", e.Type, e.Message)
	if e.Operation != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Operation)
	}
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ClientError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ClientError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ClientError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ClientError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Operation != "" {
		info += fmt.Sprintf("Operation: %s\n", e.Operation)
	}
	if e.Key != "" {
		info += fmt.Sprintf("Key: %s\n", e.Key)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// IsTransient reports whether err is a failure that may succeed on a later read:
// transport errors, 5xx responses and 429.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		return false
	}
	switch clientErr.Type {
	case ErrorTypeNetwork:
		return true
	case ErrorTypeUnexpected:
		return clientErr.StatusCode >= 500 || clientErr.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

func newNetworkError(op, key string, req *http.Request, cause error) *ClientError {
	return &ClientError{
		Type:      ErrorTypeNetwork,
		Message:   "network error",
		Operation: op,
		Key:       key,
		URL:       requestURL(req),
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func newStatusError(op, key string, resp *http.Response) *ClientError {
	return &ClientError{
		Type:       ErrorTypeUnexpected,
		Message:    "unexpected error",
		Operation:  op,
		Key:        key,
		URL:        requestURL(resp.Request),
		StatusCode: resp.StatusCode,
		Timestamp:  time.Now(),
	}
}

func newDecodeError(op, key string, cause error) *ClientError {
	return &ClientError{
		Type:      ErrorTypeDecode,
		Message:   "invalid response body",
		Operation: op,
		Key:       key,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func newValidationError(op, message string) *ClientError {
	return &ClientError{
		Type:      ErrorTypeValidation,
		Message:   message,
		Operation: op,
		Timestamp: time.Now(),
	}
}

func requestURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	return req.URL.String()
}
