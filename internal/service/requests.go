// internal/service/requests.go
package service

import (
	"fmt"
	"time"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/config"
	"serial-debugger/internal/model"
	"serial-debugger/internal/session"
)

// OpenSessionRequest opens a port; omitted line parameters come from the
// serial section of the configuration
type OpenSessionRequest struct {
	Port        string  `json:"port" binding:"required"`
	BaudRate    int     `json:"baud_rate,omitempty"`
	DataBits    int     `json:"data_bits,omitempty"`
	StopBits    float64 `json:"stop_bits,omitempty"`
	Parity      string  `json:"parity,omitempty"`
	DTR         *bool   `json:"dtr,omitempty"`
	RTS         *bool   `json:"rts,omitempty"`
	RxMode      string  `json:"rx_mode,omitempty"`
	StartMarker *int    `json:"start_marker,omitempty" minimum:"0" maximum:"255"`
	QueueSize   int     `json:"queue_size,omitempty"`
	Origin      string  `json:"-"`
}

// PortConfig resolves the request against the configured defaults
func (r OpenSessionRequest) PortConfig(defaults config.SerialConfig) (model.PortConfig, error) {
	parity := r.Parity
	if parity == "" {
		parity = defaults.Parity
	}
	p, err := model.ParseParity(parity)
	if err != nil {
		return model.PortConfig{}, err
	}

	cfg := model.PortConfig{
		Port:     r.Port,
		BaudRate: pick(r.BaudRate, defaults.BaudRate),
		DataBits: pick(r.DataBits, defaults.DataBits),
		StopBits: model.StopBits(defaults.StopBits),
		Parity:   p,
		DTR:      defaults.DTR,
		RTS:      defaults.RTS,
	}
	if r.StopBits != 0 {
		cfg.StopBits = model.StopBits(r.StopBits)
	}
	if r.DTR != nil {
		cfg.DTR = *r.DTR
	}
	if r.RTS != nil {
		cfg.RTS = *r.RTS
	}
	return cfg, cfg.Validate()
}

func pick(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

// SendPayload is the transport-neutral form of a send as typed by an
// operator. Data is plain text for raw mode and hex text for every other mode.
type SendPayload struct {
	Data            string `json:"data"`
	Mode            string `json:"mode,omitempty"`
	Command         int    `json:"command,omitempty"`
	AppendNewline   bool   `json:"append_newline,omitempty"`
	WaitForResponse bool   `json:"wait_for_response,omitempty"`
	TimeoutMs       int    `json:"timeout_ms,omitempty"`
}

// Request converts the payload into a session send request
func (p SendPayload) Request() (session.SendRequest, error) {
	mode, err := codec.ParseMode(p.Mode)
	if err != nil {
		return session.SendRequest{}, err
	}
	if p.Command < 0 || p.Command > 0xFF {
		return session.SendRequest{}, &codec.EncodingError{Mode: mode, Reason: fmt.Sprintf("command %d does not fit in one byte", p.Command)}
	}
	if p.TimeoutMs < 0 {
		return session.SendRequest{}, &codec.EncodingError{Mode: mode, Reason: "timeout must not be negative"}
	}

	req := session.SendRequest{
		Mode:            mode,
		Command:         byte(p.Command),
		AppendNewline:   p.AppendNewline,
		WaitForResponse: p.WaitForResponse,
		Timeout:         time.Duration(p.TimeoutMs) * time.Millisecond,
	}

	switch mode {
	case codec.ModeRaw, codec.ModeHex:
		req.Payload = []byte(p.Data)
	default:
		// Modbus PDUs and custom frame bodies are typed as hex
		body, err := codec.ParseHex(p.Data)
		if err != nil {
			return session.SendRequest{}, err
		}
		req.Payload = body
	}
	return req, nil
}

// AutoSendRequest starts a periodic send
type AutoSendRequest struct {
	SendPayload
	IntervalMs int `json:"interval_ms" binding:"required"`
}

// Interval returns the requested period
func (r AutoSendRequest) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// SessionOptions derives engine options from the configuration
func SessionOptions(cfg *config.Config) (session.Options, error) {
	rxMode, err := codec.ParseMode(cfg.Session.RxMode)
	if err != nil {
		return session.Options{}, err
	}

	opts := session.DefaultOptions()
	opts.PollInterval = cfg.Session.PollInterval
	opts.ReadBufferSize = cfg.Session.ReadBufferSize
	opts.QueueSize = cfg.Session.QueueSize
	opts.ResponseTimeout = cfg.Session.ResponseTimeout
	opts.MaxReadRetries = cfg.Session.MaxReadRetries
	opts.RetryMinBackoff = cfg.Session.RetryMinBackoff
	opts.RetryMaxBackoff = cfg.Session.RetryMaxBackoff
	opts.FrameTimeout = cfg.Session.FrameTimeout
	opts.RxMode = rxMode
	opts.Params.StartMarker = byte(cfg.Session.StartMarker)
	opts.StartMarkerSet = true
	opts.ChunkSize = cfg.Transfer.ChunkSize
	return opts, nil
}
