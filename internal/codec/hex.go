// internal/codec/hex.go
package codec

import (
	"encoding/hex"
	"strings"
)

var hexCleaner = strings.NewReplacer("0x", "", "0X", "", ",", "", " ", "", "\t", "", "\r", "", "\n", "")

// ParseHex converts text such as "AA 01 ff", "0xAA,0x01" or "aa01" into bytes
func ParseHex(text string) ([]byte, error) {
	clean := hexCleaner.Replace(text)
	if clean == "" {
		return nil, &EncodingError{Mode: ModeHex, Input: text, Reason: "no hex digits"}
	}
	if len(clean)%2 != 0 {
		return nil, &EncodingError{Mode: ModeHex, Input: text, Reason: "odd number of hex digits"}
	}

	out := make([]byte, len(clean)/2)
	if _, err := hex.Decode(out, []byte(clean)); err != nil {
		return nil, &EncodingError{Mode: ModeHex, Input: text, Reason: err.Error()}
	}
	return out, nil
}

// FormatHex renders bytes as upper-case pairs separated by single spaces
func FormatHex(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	const digits = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(data)*3 - 1)
	for i, v := range data {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteByte(digits[v>>4])
		b.WriteByte(digits[v&0x0F])
	}
	return b.String()
}
