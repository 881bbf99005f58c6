package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Reason classifies an APIError.
type Reason string

const (
	// ReasonTransport covers connection failures, timeouts, and cancellation.
	ReasonTransport Reason = "transport"
	// ReasonBackend means the backend answered with a non-success status.
	ReasonBackend Reason = "backend"
	// ReasonDecode means the backend answered but the payload did not match
	// the endpoint's schema.
	ReasonDecode Reason = "decode"
)

// APIError is returned for every failed backend call that is not an
// authentication failure.
type APIError struct {
	Reason     Reason
	Method     string
	Path       string
	StatusCode int    // zero for transport errors
	Body       string // truncated response body, backend errors only
	Err        error
}

func (e *APIError) Error() string {
	switch e.Reason {
	case ReasonBackend:
		if e.Body != "" {
			return fmt.Sprintf("%s %s: backend returned HTTP %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s %s: backend returned HTTP %d", e.Method, e.Path, e.StatusCode)
	case ReasonDecode:
		return fmt.Sprintf("%s %s: decode response: %v", e.Method, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s %s: %s: %v", e.Method, e.Path, describeTransport(e.Err), e.Err)
	}
}

func (e *APIError) Unwrap() error { return e.Err }

// Timeout reports whether the error was caused by the request timeout.
func (e *APIError) Timeout() bool {
	if e.Reason != ReasonTransport {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// AuthenticationError is returned when the backend rejects the credentials,
// or when a call is still rejected after one re-authentication.
type AuthenticationError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Message, e.Err)
	}
	return "authentication failed: " + e.Message
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// IsAuthError reports whether err is, or wraps, an AuthenticationError.
func IsAuthError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsTransportError reports whether err is a transport-class APIError.
func IsTransportError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Reason == ReasonTransport
}

func transportError(method, path string, err error) *APIError {
	return &APIError{Reason: ReasonTransport, Method: method, Path: path, Err: err}
}

func decodeError(method, path string, err error) *APIError {
	return &APIError{Reason: ReasonDecode, Method: method, Path: path, Err: err}
}

// describeTransport gives a short human label for a transport failure.
func describeTransport(err error) string {
	if err == nil {
		return "transport error"
	}
	if errors.Is(err, context.Canceled) {
		return "request cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "request timed out"
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return "connection timed out"
		}
		if opErr.Op == "dial" {
			msg := strings.ToLower(opErr.Error())
			switch {
			case strings.Contains(msg, "connection refused"):
				return "connection refused"
			case strings.Contains(msg, "no route to host"), strings.Contains(msg, "network is unreachable"):
				return "network unreachable"
			}
			return "dial failed"
		}
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "DNS resolution failed"
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "request timed out"
	}
	return "transport error"
}
