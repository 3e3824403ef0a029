// internal/session/errors.go
package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionClosed     = errors.New("session closed")
	ErrSessionFaulted    = errors.New("session faulted")
	ErrPortInUse         = errors.New("port already has an open session")
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrTransferCancelled = errors.New("transfer cancelled")
	ErrInvalidInterval   = errors.New("auto-send interval must be between 1ms and 999999ms")
)

// TimeoutError is returned when a wait-for-response send sees no reply in time
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response within %s", e.After)
}

// Timeout lets callers treat the error like a net.Error
func (e *TimeoutError) Timeout() bool { return true }

// TransferError reports an aborted file transfer and how far it got
type TransferError struct {
	TransferID string
	Sent       int64
	Total      int64
	Err        error
}

func (e *TransferError) Error() string {
	if e.Total > 0 {
		return fmt.Sprintf("transfer %s aborted after %d/%d bytes: %v", e.TransferID, e.Sent, e.Total, e.Err)
	}
	return fmt.Sprintf("transfer %s aborted after %d bytes: %v", e.TransferID, e.Sent, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
