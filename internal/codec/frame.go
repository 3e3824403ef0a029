// internal/codec/frame.go
package codec

// Custom protocol layout:
//
//	[SOF][LEN][CMD][PAYLOAD x LEN][CHK]
//
// CHK is the XOR of LEN, CMD and every payload byte.
const (
	frameHeaderSize   = 3
	frameOverhead     = frameHeaderSize + 1
	FrameMaxPayload   = 255
	FrameMinFrameSize = frameOverhead
)

// EncodeFrame wraps payload into a custom protocol frame
func EncodeFrame(startMarker, command byte, payload []byte) ([]byte, error) {
	if len(payload) > FrameMaxPayload {
		return nil, &FrameError{Mode: ModeCustom, Reason: "payload exceeds 255 bytes", Length: len(payload)}
	}

	out := make([]byte, 0, len(payload)+frameOverhead)
	out = append(out, startMarker, byte(len(payload)), command)
	out = append(out, payload...)
	return append(out, frameChecksum(out[1:])), nil
}

func frameChecksum(b []byte) byte {
	var chk byte
	for _, v := range b {
		chk ^= v
	}
	return chk
}

// ScanResult describes what Scan found at the head of a buffer.
//
// Skipped bytes precede the first start marker and are garbage. Consumed
// counts every byte the caller may discard, Skipped included; zero means
// more data is needed before anything can be decided.
type ScanResult struct {
	Skipped  int
	Consumed int
	Frame    *Frame
	Err      error
}

// Scan looks for the next custom protocol frame in buf.
//
// Bytes before a start marker are reported as skipped so the caller can
// resynchronize without discarding the rest of the buffer. A complete frame
// with a bad checksum is reported through Err and consumed only up to the next
// start marker inside it, so a real frame hidden behind a stray marker byte is
// still found by the following Scan.
func Scan(buf []byte, startMarker byte) ScanResult {
	start := NextMarker(buf, startMarker, 0)
	if start < 0 {
		return ScanResult{Skipped: len(buf), Consumed: len(buf)}
	}

	rest := buf[start:]
	if len(rest) < frameHeaderSize {
		return ScanResult{Skipped: start, Consumed: start}
	}

	size := int(rest[1]) + frameOverhead
	if len(rest) < size {
		return ScanResult{Skipped: start, Consumed: start}
	}

	raw := make([]byte, size)
	copy(raw, rest[:size])
	want := frameChecksum(raw[1 : size-1])
	got := raw[size-1]
	if want != got {
		end := size
		if next := NextMarker(raw, startMarker, 1); next > 0 {
			end = next
		}
		return ScanResult{
			Skipped:  start,
			Consumed: start + end,
			Err:      &ChecksumError{Mode: ModeCustom, Expected: uint16(want), Actual: uint16(got)},
		}
	}

	return ScanResult{
		Skipped:  start,
		Consumed: start + size,
		Frame: &Frame{
			Mode:     ModeCustom,
			Function: raw[2],
			Payload:  raw[frameHeaderSize : size-1],
			Checksum: uint16(got),
			Raw:      raw,
		},
	}
}

// NextMarker returns the index of the first start marker in buf at or after
// from, or -1
func NextMarker(buf []byte, startMarker byte, from int) int {
	for i := from; i < len(buf); i++ {
		if buf[i] == startMarker {
			return i
		}
	}
	return -1
}
