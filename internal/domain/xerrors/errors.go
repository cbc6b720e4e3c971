// Package xerrors defines the error taxonomy for the workflow execution
// core: ConfigError, ExecError, TimeoutError, CancelledError and
// RateLimitExceeded, each carrying the offending node id so the scheduler
// and the caller can report a precise, one-line failure message.
package xerrors

import "fmt"

// ConfigError signals bad node parameters, a missing credential, a
// malformed template or an unknown node type. Never retryable, never
// catchable by tryCatch — configuration cannot fix itself at runtime.
type ConfigError struct {
	NodeID  string
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at node %s (field %q): %s", e.NodeID, e.Field, e.Message)
	}
	return fmt.Sprintf("config error at node %s: %s", e.NodeID, e.Message)
}

func NewConfigError(nodeID, field, message string) *ConfigError {
	return &ConfigError{NodeID: nodeID, Field: field, Message: message}
}

// ExecError is a runtime failure inside an executor's own work (HTTP 5xx
// with failOnStatus, a code node throwing, an LLM provider error, ...).
// Retryable and catchable.
type ExecError struct {
	NodeID  string
	Message string
	Cause   error
}

func (e *ExecError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("exec error at node %s: %s: %v", e.NodeID, e.Message, e.Cause)
	}
	return fmt.Sprintf("exec error at node %s: %s", e.NodeID, e.Message)
}

func (e *ExecError) Unwrap() error { return e.Cause }

func NewExecError(nodeID, message string, cause error) *ExecError {
	return &ExecError{NodeID: nodeID, Message: message, Cause: cause}
}

// TimeoutError signals a node or workflow deadline expiry. Retryable and
// catchable.
type TimeoutError struct {
	NodeID  string
	Message string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout at node %s: %s", e.NodeID, e.Message)
}

func NewTimeoutError(nodeID, message string) *TimeoutError {
	return &TimeoutError{NodeID: nodeID, Message: message}
}

// CancelledError signals cooperative cancellation. Never retried, never
// caught by tryCatch — the cancel surfaces as the execution outcome.
type CancelledError struct {
	NodeID string
}

func (e *CancelledError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("execution cancelled at node %s", e.NodeID)
	}
	return "execution cancelled"
}

func NewCancelledError(nodeID string) *CancelledError {
	return &CancelledError{NodeID: nodeID}
}

// RateLimitExceeded is raised by a rateLimit node in reject mode.
// Catchable; retryable if enclosed by a retry node whose predicate
// matches rate-limit errors.
type RateLimitExceeded struct {
	NodeID  string
	Message string
}

func (e *RateLimitExceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded at node %s: %s", e.NodeID, e.Message)
}

func NewRateLimitExceeded(nodeID, message string) *RateLimitExceeded {
	return &RateLimitExceeded{NodeID: nodeID, Message: message}
}

// Retryable reports whether err should be retried by an enclosing retry
// node. ConfigError and CancelledError are never retryable.
func Retryable(err error) bool {
	switch err.(type) {
	case *ExecError, *TimeoutError, *RateLimitExceeded:
		return true
	default:
		return false
	}
}

// Catchable reports whether err may be routed to a tryCatch's catch
// handle. ConfigError and CancelledError are never catchable.
func Catchable(err error) bool {
	switch err.(type) {
	case *ExecError, *TimeoutError, *RateLimitExceeded:
		return true
	default:
		return false
	}
}

// NodeID extracts the originating node id from any taxonomy error, for
// the one-line failure message an ExecutionDTO surfaces to callers.
func NodeID(err error) string {
	switch e := err.(type) {
	case *ConfigError:
		return e.NodeID
	case *ExecError:
		return e.NodeID
	case *TimeoutError:
		return e.NodeID
	case *CancelledError:
		return e.NodeID
	case *RateLimitExceeded:
		return e.NodeID
	default:
		return ""
	}
}
