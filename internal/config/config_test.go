package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8000", cfg.GetServerAddr())
	assert.Equal(t, 115200, cfg.Serial.BaudRate)
	assert.Equal(t, 8, cfg.Serial.DataBits)
	assert.Equal(t, 1.0, cfg.Serial.StopBits)
	assert.Equal(t, "none", cfg.Serial.Parity)
	assert.Equal(t, 10*time.Millisecond, cfg.Session.PollInterval)
	assert.Equal(t, 256, cfg.Session.QueueSize)
	assert.Equal(t, 0xAA, cfg.Session.StartMarker)
	assert.Equal(t, 5*time.Second, cfg.Session.ResponseTimeout)
	assert.Equal(t, 1024, cfg.Transfer.ChunkSize)
	assert.Equal(t, 54*time.Second, cfg.WebSocket.PingPeriod)
	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.IsDebugEnabled())
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "serial.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
server:
  port: "9100"
serial:
  baud_rate: 9600
  parity: even
session:
  rx_mode: modbus
app:
  environment: production
`), 0o600))

	t.Setenv("SERIAL_DEBUGGER_SESSION_QUEUE_SIZE", "32")

	cfg, err := LoadWith(viper.New(), file)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, 9600, cfg.Serial.BaudRate)
	assert.Equal(t, "even", cfg.Serial.Parity)
	assert.Equal(t, "modbus", cfg.Session.RxMode)
	assert.Equal(t, 32, cfg.Session.QueueSize)
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDebugEnabled())
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := LoadWith(viper.New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"baud too low", "serial.baud_rate", 100},
		{"bad data bits", "serial.data_bits", 9},
		{"bad stop bits", "serial.stop_bits", 3},
		{"bad rx mode", "session.rx_mode", "binary"},
		{"marker too wide", "session.start_marker", 300},
		{"bad environment", "app.environment", "qa"},
		{"bad level", "logging.level", "trace"},
		{"zero chunk", "transfer.chunk_size", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chdir(t, t.TempDir())
			v := viper.New()
			v.Set(tt.key, tt.val)
			_, err := LoadWith(v, "")
			assert.Error(t, err)
		})
	}
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, added in Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { require.NoError(t, os.Chdir(prev)) })
}
