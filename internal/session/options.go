// internal/session/options.go
package session

import (
	"time"

	"serial-debugger/internal/codec"
)

// Options tunes the engine of one session
type Options struct {
	// PollInterval bounds each transport read and the idle gap used for framing
	PollInterval   time.Duration
	ReadBufferSize int
	QueueSize      int
	// ResponseTimeout applies to wait-for-response sends without their own timeout
	ResponseTimeout time.Duration
	// MaxReadRetries is how many consecutive transient read errors are tolerated
	MaxReadRetries  int
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	// FrameTimeout flushes a partial custom frame that stopped growing
	FrameTimeout time.Duration
	RxMode       codec.Mode
	Params       codec.Params
	// StartMarkerSet keeps a 0x00 Params.StartMarker instead of defaulting it
	StartMarkerSet bool
	ChunkSize      int
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		PollInterval:    10 * time.Millisecond,
		ReadBufferSize:  4096,
		QueueSize:       DefaultQueueSize,
		ResponseTimeout: 5 * time.Second,
		MaxReadRetries:  5,
		RetryMinBackoff: 20 * time.Millisecond,
		RetryMaxBackoff: time.Second,
		FrameTimeout:    500 * time.Millisecond,
		RxMode:          codec.ModeRaw,
		Params:          codec.DefaultParams(),
		ChunkSize:       1024,
	}
}

// withDefaults fills every zero field from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = d.ReadBufferSize
	}
	if o.QueueSize <= 0 {
		o.QueueSize = d.QueueSize
	}
	if o.ResponseTimeout <= 0 {
		o.ResponseTimeout = d.ResponseTimeout
	}
	if o.MaxReadRetries <= 0 {
		o.MaxReadRetries = d.MaxReadRetries
	}
	if o.RetryMinBackoff <= 0 {
		o.RetryMinBackoff = d.RetryMinBackoff
	}
	if o.RetryMaxBackoff <= 0 {
		o.RetryMaxBackoff = d.RetryMaxBackoff
	}
	if o.FrameTimeout <= 0 {
		o.FrameTimeout = d.FrameTimeout
	}
	if o.RxMode == "" {
		o.RxMode = d.RxMode
	}
	if o.Params.StartMarker == 0 && !o.StartMarkerSet {
		o.Params.StartMarker = d.Params.StartMarker
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = d.ChunkSize
	}
	return o
}

// modbusGap returns the inter-frame silence that ends a Modbus RTU frame:
// 3.5 character times at the given baud rate, never shorter than one poll
func modbusGap(baud int, poll time.Duration) time.Duration {
	if baud <= 0 {
		return poll
	}
	// 11 bits per character: start, 8 data, parity or second stop, stop
	gap := time.Duration(float64(time.Second) * 3.5 * 11 / float64(baud))
	if gap < poll {
		return poll
	}
	return gap
}
