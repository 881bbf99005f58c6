package mcpbridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/qbittorrent-mcp/pkg/client"
)

// Reason tells the caller why a tool call failed.
type Reason string

const (
	ReasonInvalidInput   Reason = "invalid_input"
	ReasonUnknownTool    Reason = "unknown_tool"
	ReasonAuthentication Reason = "authentication"
	ReasonTransport      Reason = "transport"
	ReasonBackend        Reason = "backend"
	ReasonCancelled      Reason = "cancelled"
	ReasonInternal       Reason = "internal"

	// ReasonRateLimited is only produced by the HTTP surface.
	ReasonRateLimited Reason = "rate_limited"
)

// Result is what every tool call returns, success or not. Message and Data
// are set on success; Error and Reason on failure.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
	Reason  Reason `json:"reason,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// Outcome is a short label for metrics and logs: "success" or the reason.
func (r Result) Outcome() string {
	if r.Success {
		return "success"
	}
	return string(r.Reason)
}

func ok(msg string, data any) Result {
	return Result{Success: true, Message: msg, Data: data}
}

func fail(reason Reason, msg string) Result {
	return Result{Reason: reason, Error: msg}
}

func failf(reason Reason, format string, a ...any) Result {
	return fail(reason, fmt.Sprintf(format, a...))
}

// fromError maps a client error onto a failed Result. Cancellation is
// checked first because a cancelled request also surfaces as a transport
// error; transport is checked before authentication because a login that
// never reached the backend is not a credentials problem.
func fromError(err error) Result {
	var (
		authErr *client.AuthenticationError
		apiErr  *client.APIError
	)
	switch {
	case errors.Is(err, context.Canceled):
		return fail(ReasonCancelled, "request cancelled")
	case client.IsTransportError(err):
		return failf(ReasonTransport, "cannot reach qBittorrent: %v", err)
	case errors.As(err, &authErr):
		return fail(ReasonAuthentication, authErr.Error())
	case errors.As(err, &apiErr):
		return fail(ReasonBackend, apiErr.Error())
	case errors.Is(err, client.ErrUnknownAction):
		return fail(ReasonInvalidInput, err.Error())
	default:
		return failf(ReasonInternal, "internal error: %v", err)
	}
}
