// internal/discovery/serial/scanner.go
package serial

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"serial-debugger/internal/discovery"
)

// Config for the serial scanner
type Config struct {
	// PortPatterns restricts results to names matching one of the globs;
	// empty keeps every port
	PortPatterns []string `json:"port_patterns"`
}

// Scanner lists the serial ports the operating system reports
type Scanner struct {
	logger   *zap.Logger
	config   *Config
	adapters *AdapterDatabase

	listDetailed func() ([]*enumerator.PortDetails, error)
	listNames    func() ([]string, error)
}

// NewScanner creates a new serial scanner
func NewScanner(logger *zap.Logger, config *Config) *Scanner {
	if config == nil {
		config = &Config{}
	}

	return &Scanner{
		logger:       logger.With(zap.String("scanner", "serial")),
		config:       config,
		adapters:     NewAdapterDatabase(),
		listDetailed: enumerator.GetDetailedPortsList,
		listNames:    serial.GetPortsList,
	}
}

// GetScannerType returns scanner type
func (s *Scanner) GetScannerType() string {
	return "serial"
}

// IsAvailable reports whether the platform can enumerate serial ports
func (s *Scanner) IsAvailable() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "windows", "freebsd", "openbsd":
		return true
	default:
		return false
	}
}

// Scan enumerates ports with USB details, falling back to plain names when
// the detailed listing is unavailable
func (s *Scanner) Scan(ctx context.Context) ([]*discovery.PortInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := s.listDetailed()
	if err != nil {
		s.logger.Warn("Detailed port listing failed, falling back to names", zap.Error(err))
		return s.scanNames()
	}

	ports := make([]*discovery.PortInfo, 0, len(details))
	for _, d := range details {
		if !s.matches(d.Name) {
			continue
		}
		ports = append(ports, s.describe(d))
	}

	s.logger.Debug("Serial scan completed", zap.Int("ports_found", len(ports)))
	return ports, nil
}

func (s *Scanner) scanNames() ([]*discovery.PortInfo, error) {
	names, err := s.listNames()
	if err != nil {
		return nil, fmt.Errorf("failed to get serial ports: %w", err)
	}

	ports := make([]*discovery.PortInfo, 0, len(names))
	for _, name := range names {
		if !s.matches(name) {
			continue
		}
		ports = append(ports, &discovery.PortInfo{Name: name, Source: s.GetScannerType()})
	}
	return ports, nil
}

func (s *Scanner) describe(d *enumerator.PortDetails) *discovery.PortInfo {
	info := &discovery.PortInfo{
		Name:         d.Name,
		Description:  d.Product,
		IsUSB:        d.IsUSB,
		VendorID:     d.VID,
		ProductID:    d.PID,
		SerialNumber: d.SerialNumber,
		Source:       s.GetScannerType(),
	}
	if !d.IsUSB {
		return info
	}

	if vendor, chip, ok := s.adapters.Lookup(d.VID, d.PID); ok {
		info.Manufacturer = vendor
		info.Chip = chip
	}
	if info.Description == "" {
		info.Description = fmt.Sprintf("USB serial %s:%s", d.VID, d.PID)
	}
	return info
}

func (s *Scanner) matches(name string) bool {
	if len(s.config.PortPatterns) == 0 {
		return true
	}
	for _, pattern := range s.config.PortPatterns {
		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}
	return false
}
