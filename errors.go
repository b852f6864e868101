package httpsession

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sony/gobreaker"
)

// Kind classifies a failure seen at the session boundary.
type Kind string

const (
	KindTimeout      Kind = "timeout"
	KindConnection   Kind = "connection"
	KindCircuitOpen  Kind = "circuit_open"
	KindUpstreamHTTP Kind = "upstream_http"
	KindCacheBackend Kind = "cache_backend"
	KindValidation   Kind = "validation"
	KindCanceled     Kind = "canceled"
)

// Sentinel errors matched by errors.Is against any *Error of the same kind.
var (
	// ErrTimeout is returned when the connect or read timeout elapsed.
	ErrTimeout = errors.New("httpsession: timeout")

	// ErrConnection is returned when the transport could not complete the exchange.
	ErrConnection = errors.New("httpsession: connection failed")

	// ErrCircuitOpen is returned when the circuit breaker rejects the call.
	ErrCircuitOpen = errors.New("httpsession: circuit open")

	// ErrUpstreamHTTP is returned by CheckStatus for 4xx and 5xx responses.
	ErrUpstreamHTTP = errors.New("httpsession: upstream http error")

	// ErrCacheBackend is returned when the cache backend fails and the
	// session is configured to fail closed.
	ErrCacheBackend = errors.New("httpsession: cache backend failure")

	// ErrInvalidConfig is returned for rejected configuration.
	ErrInvalidConfig = errors.New("httpsession: invalid configuration")

	// ErrCanceled is returned when the caller's context was canceled. The
	// error also matches context.Canceled.
	ErrCanceled = errors.New("httpsession: canceled")
)

var kindSentinels = map[Kind]error{
	KindTimeout:      ErrTimeout,
	KindConnection:   ErrConnection,
	KindCircuitOpen:  ErrCircuitOpen,
	KindUpstreamHTTP: ErrUpstreamHTTP,
	KindCacheBackend: ErrCacheBackend,
	KindValidation:   ErrInvalidConfig,
	KindCanceled:     ErrCanceled,
}

// Error is the single error type returned by a Session.
type Error struct {
	Kind       Kind
	Message    string
	Method     string
	URL        string
	Domain     string
	RequestID  string
	StatusCode int
	Cause      error
}

// Error implements error.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Method != "" && e.URL != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Method, e.URL, msg)
	}
	if e.RequestID != "" {
		msg = fmt.Sprintf("[%s] %s", e.RequestID, msg)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is matches the kind sentinel or another *Error of the same kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if other, ok := target.(*Error); ok {
		return e.Kind == other.Kind
	}
	return kindSentinels[e.Kind] == target
}

// KindOf returns the Kind of err, or "" when err is not a session error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsTransient reports whether a later attempt of the same call may succeed.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConnection, KindCircuitOpen:
		return true
	case KindUpstreamHTTP:
		var e *Error
		errors.As(err, &e)
		return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
	}
	return false
}

// CheckStatus turns a 4xx or 5xx response into a KindUpstreamHTTP error.
// The response is left untouched so the caller may still read its body.
func CheckStatus(resp *http.Response) error {
	if resp == nil || resp.StatusCode < 400 {
		return nil
	}
	e := &Error{
		Kind:       KindUpstreamHTTP,
		Message:    resp.Status,
		StatusCode: resp.StatusCode,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		e.Method = resp.Request.Method
		e.URL = resp.Request.URL.String()
		e.Domain = resp.Request.URL.Host
	}
	if e.Message == "" {
		e.Message = fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}
	return e
}

// classifyTransportError maps an error from the breaker-wrapped round trip
// onto a Kind.
func classifyTransportError(err error) Kind {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return KindCircuitOpen
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
		return KindTimeout
	}
	return KindConnection
}

// isTimeout reports whether any error in the chain is a timeout. The
// outermost *url.Error only consults its direct cause, which hides
// deadlines wrapped further down by the transport.
func isTimeout(err error) bool {
	for err != nil {
		if t, ok := err.(interface{ Timeout() bool }); ok && t.Timeout() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func (s *Session) newError(kind Kind, message string, cause error, req *http.Request, requestID string) *Error {
	e := &Error{
		Kind:      kind,
		Message:   message,
		RequestID: requestID,
		Cause:     cause,
	}
	if req != nil {
		e.Method = req.Method
		if req.URL != nil {
			e.URL = req.URL.String()
			e.Domain = req.URL.Host
		}
	}
	return e
}
