package correlation

import (
	"errors"
	"fmt"
)

// Pre-ingest policy outcomes. These are expected control flow, not
// failures; handlers map each one to its own response code.
var (
	// ErrServiceBusy means the single-flight ingest guard could not be
	// acquired in time.
	ErrServiceBusy = errors.New("server busy, try again later")

	// ErrHeartbeat marks an event that is a liveness probe rather than an
	// alert.
	ErrHeartbeat = errors.New("heartbeat received")

	// ErrRateLimit marks an origin that exceeded its ingest budget.
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrForwardingLoop marks an alert that has already passed through
	// this server.
	ErrForwardingLoop = errors.New("forwarding loop detected")
)

// ValidationError reports malformed alert input. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// RejectError reports an alert refused by ingest policy.
type RejectError struct {
	Reason string
}

func (e *RejectError) Error() string {
	return e.Reason
}

// BlackoutError marks an alert suppressed by an active blackout window.
type BlackoutError struct {
	BlackoutID string
}

func (e *BlackoutError) Error() string {
	return fmt.Sprintf("suppressed by blackout %s", e.BlackoutID)
}
