// internal/protocol/protocol.go
package protocol

import (
	"errors"
	"fmt"
	"io"

	"go.bug.st/serial"

	"serial-debugger/internal/model"
)

// Transport owns one physical port handle and moves bytes across it
type Transport interface {
	// Open acquires the port and applies cfg, leaving nothing asserted on failure
	Open(cfg model.PortConfig) error
	// ApplyConfig changes line parameters of an open port in place
	ApplyConfig(cfg model.PortConfig) error
	// Write blocks until every byte has been handed to the driver
	Write(p []byte) (int, error)
	// PollRead returns promptly with whatever is available, possibly nothing
	PollRead(p []byte) (int, error)
	// Close deasserts DTR/RTS and releases the handle; safe to call twice
	Close() error
	IsOpen() bool
}

// Transport operation names carried by PortError
const (
	OpOpen        = "open"
	OpReconfigure = "reconfigure"
	OpRead        = "read"
	OpWrite       = "write"
	OpClose       = "close"
)

// ErrPortNotOpen is returned by I/O on a transport that is not open
var ErrPortNotOpen = errors.New("serial port not open")

// PortError reports a failure of the physical port
type PortError struct {
	Op   string
	Port string
	Err  error
	// Permanent marks failures after which the handle can no longer be trusted
	Permanent bool
}

func (e *PortError) Error() string {
	return fmt.Sprintf("serial %s %s: %v", e.Op, e.Port, e.Err)
}

func (e *PortError) Unwrap() error {
	return e.Err
}

// Fatal reports whether the session owning the port must give up on it
func (e *PortError) Fatal() bool {
	if e.Permanent {
		return true
	}
	if errors.Is(e.Err, ErrPortNotOpen) || errors.Is(e.Err, io.EOF) {
		return true
	}

	var serialErr *serial.PortError
	if errors.As(e.Err, &serialErr) {
		switch serialErr.Code() {
		case serial.PortClosed, serial.PortNotFound, serial.InvalidSerialPort:
			return true
		}
	}
	return false
}

// IsFatal reports whether err carries a fatal PortError
func IsFatal(err error) bool {
	var pe *PortError
	return errors.As(err, &pe) && pe.Fatal()
}
