// internal/codec/errors.go
package codec

import "fmt"

// EncodingError reports input that cannot be turned into bytes for the chosen mode
type EncodingError struct {
	Mode   Mode
	Input  string
	Reason string
}

func (e *EncodingError) Error() string {
	if e.Input == "" {
		return fmt.Sprintf("%s encoding error: %s", e.Mode, e.Reason)
	}
	return fmt.Sprintf("%s encoding error: %s (input %q)", e.Mode, e.Reason, e.Input)
}

// ChecksumError reports a structurally complete frame whose checksum does not match
type ChecksumError struct {
	Mode     Mode
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("%s checksum mismatch: expected 0x%04X, got 0x%04X", e.Mode, e.Expected, e.Actual)
}

// FrameError reports bytes that cannot form a frame of the chosen mode
type FrameError struct {
	Mode   Mode
	Reason string
	Length int
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s frame error: %s (%d bytes)", e.Mode, e.Reason, e.Length)
}
