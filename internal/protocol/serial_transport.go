// internal/protocol/serial_transport.go
package protocol

import (
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"serial-debugger/internal/model"
)

// Port is the subset of serial.Port the transport drives
type Port interface {
	SetMode(mode *serial.Mode) error
	SetDTR(dtr bool) error
	SetRTS(rts bool) error
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Opener opens a named port with an initial mode
type Opener func(name string, mode *serial.Mode) (Port, error)

// OpenSerial opens a real device through go.bug.st/serial
func OpenSerial(name string, mode *serial.Mode) (Port, error) {
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// SerialTransport implements Transport on top of go.bug.st/serial
type SerialTransport struct {
	opener      Opener
	readTimeout time.Duration
	logger      *zap.Logger

	mutex  sync.RWMutex
	port   Port
	config model.PortConfig
	isOpen bool
}

// NewSerialTransport creates a transport; pollTimeout bounds each PollRead
func NewSerialTransport(opener Opener, pollTimeout time.Duration, logger *zap.Logger) *SerialTransport {
	if opener == nil {
		opener = OpenSerial
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Millisecond
	}
	return &SerialTransport{
		opener:      opener,
		readTimeout: pollTimeout,
		logger:      logger.With(zap.String("protocol", "serial")),
	}
}

// ToMode converts a PortConfig into the go.bug.st/serial representation
func ToMode(cfg model.PortConfig) *serial.Mode {
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: cfg.DataBits,
	}

	switch cfg.StopBits {
	case model.StopBitsOnePointFive:
		mode.StopBits = serial.OnePointFiveStopBits
	case model.StopBitsTwo:
		mode.StopBits = serial.TwoStopBits
	default:
		mode.StopBits = serial.OneStopBit
	}

	switch cfg.Normalized().Parity {
	case model.ParityOdd:
		mode.Parity = serial.OddParity
	case model.ParityEven:
		mode.Parity = serial.EvenParity
	case model.ParityMark:
		mode.Parity = serial.MarkParity
	case model.ParitySpace:
		mode.Parity = serial.SpaceParity
	default:
		mode.Parity = serial.NoParity
	}

	return mode
}

// Open opens the port and asserts DTR/RTS as configured
func (st *SerialTransport) Open(cfg model.PortConfig) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if st.isOpen {
		return &PortError{Op: OpOpen, Port: cfg.Port, Err: fmt.Errorf("transport already open on %s", st.config.Port)}
	}

	st.logger.Info("Opening serial port",
		zap.String("port", cfg.Port),
		zap.Int("baud_rate", cfg.BaudRate),
		zap.String("line", cfg.String()),
	)

	port, err := st.opener(cfg.Port, ToMode(cfg))
	if err != nil {
		st.logger.Error("Failed to open serial port", zap.String("port", cfg.Port), zap.Error(err))
		return &PortError{Op: OpOpen, Port: cfg.Port, Err: err}
	}

	if err := st.prepare(port, cfg); err != nil {
		release(port)
		st.logger.Error("Failed to prepare serial port", zap.String("port", cfg.Port), zap.Error(err))
		return &PortError{Op: OpOpen, Port: cfg.Port, Err: err}
	}

	st.port = port
	st.config = cfg
	st.isOpen = true

	st.logger.Info("Serial port opened successfully", zap.String("port", cfg.Port))
	return nil
}

// prepare sets the poll timeout and control lines of a freshly opened port
func (st *SerialTransport) prepare(port Port, cfg model.PortConfig) error {
	if err := port.SetReadTimeout(st.readTimeout); err != nil {
		return fmt.Errorf("failed to set read timeout: %w", err)
	}
	if err := port.SetDTR(cfg.DTR); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := port.SetRTS(cfg.RTS); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		return fmt.Errorf("failed to flush input buffer: %w", err)
	}
	return nil
}

// release drops both control lines and closes the handle, ignoring errors
func release(port Port) error {
	_ = port.SetDTR(false)
	_ = port.SetRTS(false)
	return port.Close()
}

// ApplyConfig reconfigures the open port, restoring the previous mode on failure
func (st *SerialTransport) ApplyConfig(cfg model.PortConfig) error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return &PortError{Op: OpReconfigure, Port: cfg.Port, Err: ErrPortNotOpen}
	}

	old := st.config
	applyErr := st.applyLocked(cfg)
	if applyErr == nil {
		st.config = cfg
		st.logger.Info("Serial port reconfigured",
			zap.String("port", cfg.Port),
			zap.String("from", old.String()),
			zap.String("to", cfg.String()),
		)
		return nil
	}

	st.logger.Warn("Serial reconfigure failed, restoring previous settings",
		zap.String("port", cfg.Port),
		zap.Error(applyErr),
	)
	if restoreErr := st.applyLocked(old); restoreErr != nil {
		st.logger.Error("Failed to restore serial settings", zap.String("port", cfg.Port), zap.Error(restoreErr))
		return &PortError{
			Op:        OpReconfigure,
			Port:      cfg.Port,
			Err:       fmt.Errorf("%v; restore failed: %w", applyErr, restoreErr),
			Permanent: true,
		}
	}
	return &PortError{Op: OpReconfigure, Port: cfg.Port, Err: applyErr}
}

func (st *SerialTransport) applyLocked(cfg model.PortConfig) error {
	if err := st.port.SetMode(ToMode(cfg)); err != nil {
		return fmt.Errorf("failed to set mode: %w", err)
	}
	if err := st.port.SetDTR(cfg.DTR); err != nil {
		return fmt.Errorf("failed to set DTR: %w", err)
	}
	if err := st.port.SetRTS(cfg.RTS); err != nil {
		return fmt.Errorf("failed to set RTS: %w", err)
	}
	return nil
}

// Write writes all of p, looping over short writes
func (st *SerialTransport) Write(p []byte) (int, error) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	if !st.isOpen || st.port == nil {
		return 0, &PortError{Op: OpWrite, Port: st.config.Port, Err: ErrPortNotOpen}
	}

	written := 0
	for written < len(p) {
		n, err := st.port.Write(p[written:])
		written += n
		if err != nil {
			st.logger.Error("Serial write failed", zap.String("port", st.config.Port), zap.Error(err))
			return written, &PortError{Op: OpWrite, Port: st.config.Port, Err: err}
		}
		if n == 0 {
			return written, &PortError{
				Op:   OpWrite,
				Port: st.config.Port,
				Err:  fmt.Errorf("incomplete write: wrote %d of %d bytes", written, len(p)),
			}
		}
	}

	st.logger.Debug("Serial write completed", zap.Int("bytes", written))
	return written, nil
}

// PollRead reads whatever arrived within the poll timeout
func (st *SerialTransport) PollRead(p []byte) (int, error) {
	st.mutex.RLock()
	defer st.mutex.RUnlock()

	if !st.isOpen || st.port == nil {
		return 0, &PortError{Op: OpRead, Port: st.config.Port, Err: ErrPortNotOpen}
	}

	n, err := st.port.Read(p)
	if err != nil {
		return n, &PortError{Op: OpRead, Port: st.config.Port, Err: err}
	}
	return n, nil
}

// Close releases the port; closing a closed transport is a no-op
func (st *SerialTransport) Close() error {
	st.mutex.Lock()
	defer st.mutex.Unlock()

	if !st.isOpen || st.port == nil {
		return nil
	}

	err := release(st.port)
	st.port = nil
	st.isOpen = false

	if err != nil {
		st.logger.Error("Failed to close serial port", zap.String("port", st.config.Port), zap.Error(err))
		return &PortError{Op: OpClose, Port: st.config.Port, Err: err}
	}

	st.logger.Info("Serial port closed successfully", zap.String("port", st.config.Port))
	return nil
}

// IsOpen returns whether the port handle is held
func (st *SerialTransport) IsOpen() bool {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.isOpen && st.port != nil
}

// Config returns the configuration currently applied to the port
func (st *SerialTransport) Config() model.PortConfig {
	st.mutex.RLock()
	defer st.mutex.RUnlock()
	return st.config
}
