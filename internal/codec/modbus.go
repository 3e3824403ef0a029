// internal/codec/modbus.go
package codec

import "encoding/binary"

// Modbus RTU frame limits: address + function + CRC, and the 256 byte ADU
const (
	ModbusMinFrame = 4
	ModbusMaxFrame = 256
)

// CRC16 computes the Modbus CRC (poly 0xA001 reflected, init 0xFFFF)
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}

// EncodeModbus appends the CRC, low byte first, to an address+function+data PDU
func EncodeModbus(pdu []byte) ([]byte, error) {
	if len(pdu) < 2 {
		return nil, &FrameError{Mode: ModeModbus, Reason: "address and function code required", Length: len(pdu)}
	}
	if len(pdu)+2 > ModbusMaxFrame {
		return nil, &FrameError{Mode: ModeModbus, Reason: "frame exceeds 256 bytes", Length: len(pdu) + 2}
	}

	out := make([]byte, len(pdu), len(pdu)+2)
	copy(out, pdu)
	return binary.LittleEndian.AppendUint16(out, CRC16(pdu)), nil
}

// DecodeModbus verifies the trailing CRC and splits the frame into its fields
func DecodeModbus(data []byte) (*Frame, error) {
	if len(data) < ModbusMinFrame {
		return nil, &FrameError{Mode: ModeModbus, Reason: "frame shorter than 4 bytes", Length: len(data)}
	}
	if len(data) > ModbusMaxFrame {
		return nil, &FrameError{Mode: ModeModbus, Reason: "frame exceeds 256 bytes", Length: len(data)}
	}

	body := data[:len(data)-2]
	got := binary.LittleEndian.Uint16(data[len(data)-2:])
	want := CRC16(body)
	if got != want {
		return nil, &ChecksumError{Mode: ModeModbus, Expected: want, Actual: got}
	}

	raw := make([]byte, len(data))
	copy(raw, data)
	return &Frame{
		Mode:     ModeModbus,
		Address:  raw[0],
		Function: raw[1],
		Payload:  raw[2 : len(raw)-2],
		Checksum: got,
		Raw:      raw,
	}, nil
}
