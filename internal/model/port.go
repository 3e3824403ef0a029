// internal/model/port.go
package model

import (
	"errors"
	"fmt"
	"strings"
)

// Baud rate limits accepted by PortConfig.Validate
const (
	MinBaudRate = 300
	MaxBaudRate = 1843200
)

// ErrInvalidConfig is wrapped by every PortConfig validation failure
var ErrInvalidConfig = errors.New("invalid port configuration")

// Parity represents the UART parity mode
type Parity string

const (
	ParityNone  Parity = "none"
	ParityOdd   Parity = "odd"
	ParityEven  Parity = "even"
	ParityMark  Parity = "mark"
	ParitySpace Parity = "space"
)

// ParseParity accepts both the long names and the single letter forms N/O/E/M/S
func ParseParity(s string) (Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "n", "none":
		return ParityNone, nil
	case "o", "odd":
		return ParityOdd, nil
	case "e", "even":
		return ParityEven, nil
	case "m", "mark":
		return ParityMark, nil
	case "s", "space":
		return ParitySpace, nil
	default:
		return "", fmt.Errorf("%w: unknown parity %q", ErrInvalidConfig, s)
	}
}

// StopBits represents the number of stop bits (1, 1.5 or 2)
type StopBits float64

const (
	StopBitsOne          StopBits = 1
	StopBitsOnePointFive StopBits = 1.5
	StopBitsTwo          StopBits = 2
)

func (s StopBits) String() string {
	switch s {
	case StopBitsOnePointFive:
		return "1.5"
	case StopBitsTwo:
		return "2"
	default:
		return "1"
	}
}

// PortConfig describes the line parameters of a serial port
type PortConfig struct {
	Port     string   `json:"port" mapstructure:"port"`
	BaudRate int      `json:"baud_rate" mapstructure:"baud_rate"`
	DataBits int      `json:"data_bits" mapstructure:"data_bits"`
	StopBits StopBits `json:"stop_bits" mapstructure:"stop_bits"`
	Parity   Parity   `json:"parity" mapstructure:"parity"`
	DTR      bool     `json:"dtr" mapstructure:"dtr"`
	RTS      bool     `json:"rts" mapstructure:"rts"`
}

// DefaultPortConfig returns 9600 8N1 with DTR and RTS deasserted
func DefaultPortConfig(port string) PortConfig {
	return PortConfig{
		Port:     port,
		BaudRate: 9600,
		DataBits: 8,
		StopBits: StopBitsOne,
		Parity:   ParityNone,
	}
}

// Validate checks every field against the supported ranges
func (c PortConfig) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("%w: port is required", ErrInvalidConfig)
	}
	if c.BaudRate < MinBaudRate || c.BaudRate > MaxBaudRate {
		return fmt.Errorf("%w: baud rate %d outside %d-%d", ErrInvalidConfig, c.BaudRate, MinBaudRate, MaxBaudRate)
	}
	switch c.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("%w: data bits must be 5, 6, 7 or 8, got %d", ErrInvalidConfig, c.DataBits)
	}
	switch c.StopBits {
	case StopBitsOne, StopBitsOnePointFive, StopBitsTwo:
	default:
		return fmt.Errorf("%w: stop bits must be 1, 1.5 or 2, got %v", ErrInvalidConfig, float64(c.StopBits))
	}
	if _, err := ParseParity(string(c.Parity)); err != nil {
		return err
	}
	return nil
}

// Normalized returns a copy with the parity in its canonical long form
func (c PortConfig) Normalized() PortConfig {
	if p, err := ParseParity(string(c.Parity)); err == nil {
		c.Parity = p
	}
	return c
}

// String renders the familiar "9600 8N1" notation
func (c PortConfig) String() string {
	p := "N"
	if len(c.Parity) > 0 {
		p = strings.ToUpper(string(c.Normalized().Parity)[:1])
	}
	return fmt.Sprintf("%s %d %d%s%s", c.Port, c.BaudRate, c.DataBits, p, c.StopBits)
}

// PortUpdate carries a partial reconfiguration; nil fields keep their value
type PortUpdate struct {
	BaudRate *int      `json:"baud_rate,omitempty"`
	DataBits *int      `json:"data_bits,omitempty"`
	StopBits *StopBits `json:"stop_bits,omitempty"`
	Parity   *Parity   `json:"parity,omitempty"`
	DTR      *bool     `json:"dtr,omitempty"`
	RTS      *bool     `json:"rts,omitempty"`
}

// Apply returns cfg with every non-nil field of the update applied
func (u PortUpdate) Apply(cfg PortConfig) PortConfig {
	if u.BaudRate != nil {
		cfg.BaudRate = *u.BaudRate
	}
	if u.DataBits != nil {
		cfg.DataBits = *u.DataBits
	}
	if u.StopBits != nil {
		cfg.StopBits = *u.StopBits
	}
	if u.Parity != nil {
		cfg.Parity = *u.Parity
	}
	if u.DTR != nil {
		cfg.DTR = *u.DTR
	}
	if u.RTS != nil {
		cfg.RTS = *u.RTS
	}
	return cfg.Normalized()
}
