package services

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionBusy is returned when a turn arrives while another turn for
	// the same session is still in flight.
	ErrSessionBusy = errors.New("session busy")

	// ErrConflictUnresolved marks a report request made while flagged
	// conflicts are still pending user clarification.
	ErrConflictUnresolved = errors.New("unresolved boundary conflicts")

	// ErrReportNotReady is returned when a report is requested before the
	// session reached solution_ready.
	ErrReportNotReady = errors.New("report not ready")
)

// MalformedExtractionError reports model output that failed strict decoding
// even after a retry. Raw carries a truncated copy for diagnostics.
type MalformedExtractionError struct {
	Reason string
	Raw    string
}

func (e *MalformedExtractionError) Error() string {
	return fmt.Sprintf("malformed extraction: %s", e.Reason)
}

// ServiceTimeoutError wraps a downstream call that exceeded its budget.
type ServiceTimeoutError struct {
	Op      string
	Timeout time.Duration
}

func (e *ServiceTimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %s", e.Op, e.Timeout)
}
