// internal/session/framer.go
package session

import (
	"time"

	"serial-debugger/internal/codec"
)

// rxUnit is one thing to publish: a chunk, a decoded frame, or bytes that
// failed to decode together with the reason
type rxUnit struct {
	data  []byte
	frame *codec.Frame
	err   error
}

// framer turns the raw byte stream of the read loop into publishable units.
// It holds partial frames between polls.
type framer interface {
	push(chunk []byte, now time.Time) []rxUnit
	idle(now time.Time, gap time.Duration) []rxUnit
	drain() []rxUnit
}

func newFramer(mode codec.Mode, startMarker byte) framer {
	switch mode {
	case codec.ModeModbus:
		return &modbusFramer{}
	case codec.ModeCustom:
		return &customFramer{marker: startMarker}
	default:
		return &chunkFramer{mode: mode}
	}
}

// chunkFramer publishes every read as it arrives
type chunkFramer struct {
	mode codec.Mode
}

func (f *chunkFramer) push(chunk []byte, _ time.Time) []rxUnit {
	if f.mode == codec.ModeHex {
		frame, _ := codec.Decode(codec.ModeHex, chunk, codec.Params{})
		return []rxUnit{{data: chunk, frame: frame}}
	}
	return []rxUnit{{data: chunk}}
}

func (f *chunkFramer) idle(time.Time, time.Duration) []rxUnit { return nil }
func (f *chunkFramer) drain() []rxUnit                        { return nil }

// modbusFramer delimits RTU frames by line silence
type modbusFramer struct {
	pending []byte
	lastRx  time.Time
}

func (f *modbusFramer) push(chunk []byte, now time.Time) []rxUnit {
	f.pending = append(f.pending, chunk...)
	f.lastRx = now

	var units []rxUnit
	for len(f.pending) >= codec.ModbusMaxFrame {
		units = append(units, decodeModbusUnit(f.pending[:codec.ModbusMaxFrame]))
		f.pending = append([]byte(nil), f.pending[codec.ModbusMaxFrame:]...)
	}
	return units
}

func (f *modbusFramer) idle(now time.Time, gap time.Duration) []rxUnit {
	if len(f.pending) == 0 || now.Sub(f.lastRx) < gap {
		return nil
	}
	return f.drain()
}

func (f *modbusFramer) drain() []rxUnit {
	if len(f.pending) == 0 {
		return nil
	}
	unit := decodeModbusUnit(f.pending)
	f.pending = nil
	return []rxUnit{unit}
}

func decodeModbusUnit(b []byte) rxUnit {
	data := append([]byte(nil), b...)
	frame, err := codec.DecodeModbus(data)
	return rxUnit{data: data, frame: frame, err: err}
}

// customFramer extracts start-marker delimited frames and resynchronizes
// past garbage by scanning forward
type customFramer struct {
	marker  byte
	pending []byte
	lastRx  time.Time
}

func (f *customFramer) push(chunk []byte, now time.Time) []rxUnit {
	f.pending = append(f.pending, chunk...)
	f.lastRx = now
	return f.scan()
}

// scan decodes every complete frame in pending and keeps a trailing partial one
func (f *customFramer) scan() []rxUnit {
	var units []rxUnit
	for len(f.pending) > 0 {
		res := codec.Scan(f.pending, f.marker)
		if res.Skipped > 0 {
			units = append(units, rxUnit{
				data: append([]byte(nil), f.pending[:res.Skipped]...),
				err:  &codec.FrameError{Mode: codec.ModeCustom, Reason: "bytes outside a frame", Length: res.Skipped},
			})
		}

		switch {
		case res.Err != nil:
			units = append(units, rxUnit{
				data: append([]byte(nil), f.pending[res.Skipped:res.Consumed]...),
				err:  res.Err,
			})
		case res.Frame != nil:
			units = append(units, rxUnit{data: res.Frame.Raw, frame: res.Frame})
		default:
			// incomplete frame: keep it for the next poll
			f.pending = f.pending[res.Consumed:]
			return units
		}
		f.pending = f.pending[res.Consumed:]
	}
	f.pending = nil
	return units
}

func (f *customFramer) idle(now time.Time, gap time.Duration) []rxUnit {
	if len(f.pending) == 0 || now.Sub(f.lastRx) < gap {
		return nil
	}
	return f.drain()
}

// drain gives up on the partial frame at the head of pending. Only the bytes
// up to the next start marker are reported as incomplete; scanning resumes
// from that marker, so a length byte read after a stray marker cannot swallow
// the frames behind it.
func (f *customFramer) drain() []rxUnit {
	var units []rxUnit
	for len(f.pending) > 0 {
		end := codec.NextMarker(f.pending, f.marker, 1)
		if end < 0 {
			end = len(f.pending)
		}
		units = append(units, rxUnit{
			data: append([]byte(nil), f.pending[:end]...),
			err:  &codec.FrameError{Mode: codec.ModeCustom, Reason: "incomplete frame", Length: end},
		})
		f.pending = f.pending[end:]
		units = append(units, f.scan()...)
	}
	return units
}
