package serial

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"serial-debugger/internal/discovery"
)

func TestScanDescribesUSBAdapters(t *testing.T) {
	s := NewScanner(zap.NewNop(), nil)
	s.listDetailed = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "0403", PID: "FFFF", SerialNumber: "A50285BI", Product: "Custom board"},
		}, nil
	}

	ports, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 3)

	assert.Equal(t, "WCH", ports[0].Manufacturer)
	assert.Equal(t, "CH340", ports[0].Chip)
	assert.Equal(t, "USB serial 1a86:7523", ports[0].Description)

	assert.False(t, ports[1].IsUSB)
	assert.Empty(t, ports[1].Chip)

	assert.Equal(t, "FTDI", ports[2].Manufacturer)
	assert.Empty(t, ports[2].Chip)
	assert.Equal(t, "Custom board", ports[2].Description)
	assert.Equal(t, "A50285BI", ports[2].SerialNumber)
}

func TestScanFallsBackToNames(t *testing.T) {
	s := NewScanner(zap.NewNop(), &Config{PortPatterns: []string{"/dev/ttyUSB*"}})
	s.listDetailed = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("not supported")
	}
	s.listNames = func() ([]string, error) {
		return []string{"/dev/ttyS0", "/dev/ttyUSB3"}, nil
	}

	ports, err := s.Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, "/dev/ttyUSB3", ports[0].Name)
	assert.Equal(t, "serial", ports[0].Source)
}

func TestScanReportsListingFailure(t *testing.T) {
	s := NewScanner(zap.NewNop(), nil)
	s.listDetailed = func() ([]*enumerator.PortDetails, error) { return nil, errors.New("no") }
	s.listNames = func() ([]string, error) { return nil, errors.New("no access") }

	_, err := s.Scan(context.Background())
	assert.Error(t, err)
}

func TestScannerManagerMergesResults(t *testing.T) {
	s := NewScanner(zap.NewNop(), nil)
	s.listDetailed = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{{Name: "/dev/ttyUSB1"}, {Name: "/dev/ttyACM0"}}, nil
	}

	m := discovery.NewScannerManager(zap.NewNop())
	m.RegisterScanner(s)

	ports, err := m.ScanAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.Equal(t, "/dev/ttyACM0", ports[0].Name)
	assert.Equal(t, "/dev/ttyUSB1", ports[1].Name)

	_, err = m.ScanByType(context.Background(), "bluetooth")
	assert.Error(t, err)
}

func TestAdapterLookupNormalizesIDs(t *testing.T) {
	db := NewAdapterDatabase()

	vendor, chip, ok := db.Lookup("0x10c4", "ea60")
	assert.True(t, ok)
	assert.Equal(t, "Silicon Labs", vendor)
	assert.Equal(t, "CP210x", chip)

	_, _, ok = db.Lookup("FFFF", "0001")
	assert.False(t, ok)
	assert.Greater(t, db.GetTotalProductCount(), 10)
}
