// internal/codec/codec.go
package codec

import (
	"fmt"
	"strings"
)

// Mode selects the wire format used to encode a send or decode received bytes
type Mode string

const (
	ModeRaw    Mode = "raw"
	ModeHex    Mode = "hex"
	ModeModbus Mode = "modbus"
	ModeCustom Mode = "custom"
)

// ParseMode parses a mode name, defaulting to raw for an empty string
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeRaw, "ascii", "text":
		return ModeRaw, nil
	case ModeHex:
		return ModeHex, nil
	case ModeModbus, "modbus-rtu", "rtu":
		return ModeModbus, nil
	case ModeCustom, "frame":
		return ModeCustom, nil
	default:
		return "", &EncodingError{Mode: Mode(s), Reason: "unknown mode"}
	}
}

// DefaultStartMarker is the start-of-frame byte of the custom protocol
const DefaultStartMarker byte = 0xAA

// Params carries per-protocol parameters for encode and decode
type Params struct {
	// StartMarker is the custom protocol start-of-frame byte
	StartMarker byte
	// Command is the custom protocol command byte used when encoding
	Command byte
}

// DefaultParams returns the parameters used when none are configured
func DefaultParams() Params {
	return Params{StartMarker: DefaultStartMarker}
}

// Frame is a decoded unit of received data
type Frame struct {
	Mode     Mode   `json:"mode"`
	Address  byte   `json:"address,omitempty"`
	Function byte   `json:"function,omitempty"`
	Payload  []byte `json:"payload"`
	Checksum uint16 `json:"checksum,omitempty"`
	Text     string `json:"text,omitempty"`
	Raw      []byte `json:"raw"`
}

// Encode turns a payload into wire bytes for the given mode.
//
// For ModeHex the payload is hex text; for ModeModbus it is the address,
// function code and data without CRC; for ModeCustom it is the frame body.
func Encode(mode Mode, payload []byte, params Params) ([]byte, error) {
	switch mode {
	case ModeRaw, "":
		out := make([]byte, len(payload))
		copy(out, payload)
		return out, nil
	case ModeHex:
		return ParseHex(string(payload))
	case ModeModbus:
		return EncodeModbus(payload)
	case ModeCustom:
		return EncodeFrame(params.StartMarker, params.Command, payload)
	default:
		return nil, &EncodingError{Mode: mode, Reason: "unknown mode"}
	}
}

// Decode interprets one complete unit of received bytes for the given mode
func Decode(mode Mode, data []byte, params Params) (*Frame, error) {
	switch mode {
	case ModeRaw, "":
		return &Frame{Mode: ModeRaw, Payload: data, Raw: data}, nil
	case ModeHex:
		return &Frame{Mode: ModeHex, Payload: data, Text: FormatHex(data), Raw: data}, nil
	case ModeModbus:
		return DecodeModbus(data)
	case ModeCustom:
		res := Scan(data, params.StartMarker)
		if res.Skipped > 0 {
			return nil, &FrameError{Mode: ModeCustom, Reason: "missing start marker", Length: len(data)}
		}
		if res.Consumed == 0 {
			return nil, &FrameError{Mode: ModeCustom, Reason: "incomplete frame", Length: len(data)}
		}
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Consumed != len(data) {
			return nil, &FrameError{Mode: ModeCustom, Reason: "trailing bytes after frame", Length: len(data)}
		}
		return res.Frame, nil
	default:
		return nil, fmt.Errorf("decode: %w", &EncodingError{Mode: mode, Reason: "unknown mode"})
	}
}
