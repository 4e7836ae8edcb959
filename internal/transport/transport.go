package transport

import (
	"context"
	"errors"
	"time"
)

// Result is the outcome of one transport send.
type Result struct {
	Success   bool
	Timestamp time.Time
	ErrorCode string
}

// Error is a transport failure carrying the platform error code the delivery
// policy classifies.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

// Transport delivers rendered text to an external target.
type Transport interface {
	Send(ctx context.Context, target, text string) (Result, error)
}

// CodeOf extracts the classifiable error code from a send failure. Context
// timeouts map to "timeout" per the retryable table; anything else is
// reported as unknown and left to the policy's fail-safe default.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var terr *Error
	if errors.As(err, &terr) {
		return terr.Code
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return "timeout"
	}
	return "unknown_error"
}
