// internal/discovery/scanner.go
package discovery

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// PortScanner lists serial ports of one kind
type PortScanner interface {
	Scan(ctx context.Context) ([]*PortInfo, error)
	GetScannerType() string
	IsAvailable() bool
}

// PortInfo describes one serial port found on the host
type PortInfo struct {
	Name         string `json:"name"`
	Description  string `json:"description,omitempty"`
	IsUSB        bool   `json:"is_usb"`
	VendorID     string `json:"vendor_id,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Chip         string `json:"chip,omitempty"`
	Source       string `json:"source"`
	// InUse is filled in by the service when a session holds the port
	InUse     bool   `json:"in_use"`
	SessionID string `json:"session_id,omitempty"`
}

// ScannerManager runs every registered scanner and merges their results
type ScannerManager struct {
	scanners map[string]PortScanner
	logger   *zap.Logger
}

// NewScannerManager creates a new scanner manager
func NewScannerManager(logger *zap.Logger) *ScannerManager {
	return &ScannerManager{
		scanners: make(map[string]PortScanner),
		logger:   logger.With(zap.String("component", "discovery")),
	}
}

// RegisterScanner registers a port scanner
func (sm *ScannerManager) RegisterScanner(scanner PortScanner) {
	scannerType := scanner.GetScannerType()
	sm.scanners[scannerType] = scanner
	sm.logger.Info("Scanner registered", zap.String("type", scannerType))
}

// ScanAll scans with every available scanner. A port reported twice keeps
// the entry with more detail. Results are ordered by port name.
func (sm *ScannerManager) ScanAll(ctx context.Context) ([]*PortInfo, error) {
	byName := make(map[string]*PortInfo)

	for scannerType, scanner := range sm.scanners {
		if !scanner.IsAvailable() {
			sm.logger.Debug("Scanner not available, skipping", zap.String("type", scannerType))
			continue
		}

		ports, err := scanner.Scan(ctx)
		if err != nil {
			sm.logger.Error("Scanner failed", zap.String("type", scannerType), zap.Error(err))
			continue
		}

		for _, p := range ports {
			if prev, ok := byName[p.Name]; ok && prev.IsUSB && !p.IsUSB {
				continue
			}
			byName[p.Name] = p
		}
		sm.logger.Debug("Scanner completed",
			zap.String("type", scannerType),
			zap.Int("ports_found", len(ports)),
		)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]*PortInfo, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ScanByType scans with one scanner
func (sm *ScannerManager) ScanByType(ctx context.Context, scannerType string) ([]*PortInfo, error) {
	scanner, exists := sm.scanners[scannerType]
	if !exists {
		return nil, fmt.Errorf("scanner type not found: %s", scannerType)
	}

	if !scanner.IsAvailable() {
		return nil, fmt.Errorf("scanner not available: %s", scannerType)
	}

	return scanner.Scan(ctx)
}

// GetAvailableScanners returns list of available scanner types
func (sm *ScannerManager) GetAvailableScanners() []string {
	var available []string
	for scannerType, scanner := range sm.scanners {
		if scanner.IsAvailable() {
			available = append(available, scannerType)
		}
	}
	sort.Strings(available)
	return available
}
