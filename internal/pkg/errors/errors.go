package errors

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrEmptyContent is returned when a send is attempted with no content.
	ErrEmptyContent = errors.New("empty content")
	// ErrNoActiveSession is returned when an operation needs a session and none exists.
	ErrNoActiveSession = errors.New("no active session")
	// ErrMessageNotFound is a generic sentinel for unknown message ids.
	ErrMessageNotFound = errors.New("message not found")
	// ErrSessionNotFound is a generic sentinel for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrDisposed is returned by components after teardown.
	ErrDisposed = errors.New("disposed")
)

// ValidationError rejects input before any transmission is attempted.
// The caller must change the input; retrying is pointless.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// ConnectionError is a transient transport-level failure, recovered by
// the connection manager's backoff path.
type ConnectionError struct {
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection failed (attempt %d): %v", e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendTimeoutError marks a send whose agent response never arrived
// within the dispatcher timeout. User-retriable.
type SendTimeoutError struct {
	MessageID string
	Timeout   time.Duration
}

func (e *SendTimeoutError) Error() string {
	return fmt.Sprintf("no agent response within %s for message %s", e.Timeout, e.MessageID)
}

// AgentUnavailableError carries a failure reported by the remote agent
// capability itself. User-retriable.
type AgentUnavailableError struct {
	Code    string
	Message string
}

func (e *AgentUnavailableError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent unavailable: %s", e.Code)
	}
	return fmt.Sprintf("agent unavailable: %s: %s", e.Code, e.Message)
}
