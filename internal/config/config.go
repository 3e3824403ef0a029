// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g. SERIAL_DEBUGGER_SERVER_PORT
const EnvPrefix = "SERIAL_DEBUGGER"

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Security  SecurityConfig  `mapstructure:"security"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Serial    SerialConfig    `mapstructure:"serial"`
	Session   SessionConfig   `mapstructure:"session"`
	Transfer  TransferConfig  `mapstructure:"transfer"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	App       AppConfig       `mapstructure:"app"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            string        `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	TLS             TLSConfig     `mapstructure:"tls"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// SecurityConfig holds the browser-facing settings
type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// SerialConfig holds the line parameters used when a request omits them
type SerialConfig struct {
	BaudRate int     `mapstructure:"baud_rate"`
	DataBits int     `mapstructure:"data_bits"`
	StopBits float64 `mapstructure:"stop_bits"`
	Parity   string  `mapstructure:"parity"`
	DTR      bool    `mapstructure:"dtr"`
	RTS      bool    `mapstructure:"rts"`
}

// SessionConfig tunes the session engine
type SessionConfig struct {
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	ReadBufferSize   int           `mapstructure:"read_buffer_size"`
	QueueSize        int           `mapstructure:"queue_size"`
	ResponseTimeout  time.Duration `mapstructure:"response_timeout"`
	MaxReadRetries   int           `mapstructure:"max_read_retries"`
	RetryMinBackoff  time.Duration `mapstructure:"retry_min_backoff"`
	RetryMaxBackoff  time.Duration `mapstructure:"retry_max_backoff"`
	FrameTimeout     time.Duration `mapstructure:"frame_timeout"`
	RxMode           string        `mapstructure:"rx_mode"`
	StartMarker      int           `mapstructure:"start_marker"`
	MonitorInterval  time.Duration `mapstructure:"monitor_interval"`
	FaultedRetention time.Duration `mapstructure:"faulted_retention"`
}

// TransferConfig controls file transfers
type TransferConfig struct {
	ChunkSize     int   `mapstructure:"chunk_size"`
	MaxUploadSize int64 `mapstructure:"max_upload_size"`
}

// WebSocketConfig controls live viewer connections
type WebSocketConfig struct {
	ReadBufferSize  int           `mapstructure:"read_buffer_size"`
	WriteBufferSize int           `mapstructure:"write_buffer_size"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	PingPeriod      time.Duration `mapstructure:"ping_period"`
	PongWait        time.Duration `mapstructure:"pong_wait"`
	WriteWait       time.Duration `mapstructure:"write_wait"`
}

// AppConfig represents application metadata
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// Load reads config.yaml (if present) and environment overrides into a Config
func Load() (*Config, error) {
	return LoadWith(viper.New(), "")
}

// LoadWith loads configuration through v, which may already carry bound
// flags. An explicit file path takes precedence over the search paths.
func LoadWith(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/serial-debugger")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) || file != "" {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SetDefaults sets default configuration values on v
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "15s")
	v.SetDefault("server.tls.enabled", false)

	// Security defaults
	v.SetDefault("security.allowed_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	// Serial line defaults
	v.SetDefault("serial.baud_rate", 115200)
	v.SetDefault("serial.data_bits", 8)
	v.SetDefault("serial.stop_bits", 1)
	v.SetDefault("serial.parity", "none")
	v.SetDefault("serial.dtr", false)
	v.SetDefault("serial.rts", false)

	// Session engine defaults
	v.SetDefault("session.poll_interval", "10ms")
	v.SetDefault("session.read_buffer_size", 4096)
	v.SetDefault("session.queue_size", 256)
	v.SetDefault("session.response_timeout", "5s")
	v.SetDefault("session.max_read_retries", 5)
	v.SetDefault("session.retry_min_backoff", "20ms")
	v.SetDefault("session.retry_max_backoff", "1s")
	v.SetDefault("session.frame_timeout", "500ms")
	v.SetDefault("session.rx_mode", "raw")
	v.SetDefault("session.start_marker", 0xAA)
	v.SetDefault("session.monitor_interval", "30s")
	v.SetDefault("session.faulted_retention", "5m")

	// Transfer defaults
	v.SetDefault("transfer.chunk_size", 1024)
	v.SetDefault("transfer.max_upload_size", 32<<20)

	// WebSocket defaults
	v.SetDefault("websocket.read_buffer_size", 1024)
	v.SetDefault("websocket.write_buffer_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.ping_period", "54s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")

	// App defaults
	v.SetDefault("app.name", "serial-debugger")
	v.SetDefault("app.version", "1.0.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)
}

// validate validates the configuration
func validate(config *Config) error {
	if config.Server.Host == "" {
		return fmt.Errorf("server.host is required")
	}
	if config.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}

	if !oneOf(config.App.Environment, "development", "staging", "production", "test") {
		return fmt.Errorf("app.environment must be one of: development, staging, production, test")
	}
	if !oneOf(config.Logging.Level, "debug", "info", "warn", "error", "fatal") {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, fatal")
	}

	if config.Serial.BaudRate < 300 || config.Serial.BaudRate > 1843200 {
		return fmt.Errorf("serial.baud_rate must be between 300 and 1843200")
	}
	switch config.Serial.DataBits {
	case 5, 6, 7, 8:
	default:
		return fmt.Errorf("serial.data_bits must be 5, 6, 7 or 8")
	}
	switch config.Serial.StopBits {
	case 1, 1.5, 2:
	default:
		return fmt.Errorf("serial.stop_bits must be 1, 1.5 or 2")
	}

	if config.Session.PollInterval <= 0 {
		return fmt.Errorf("session.poll_interval must be positive")
	}
	if config.Session.QueueSize <= 0 {
		return fmt.Errorf("session.queue_size must be positive")
	}
	if config.Session.StartMarker < 0 || config.Session.StartMarker > 0xFF {
		return fmt.Errorf("session.start_marker must fit in one byte")
	}
	if !oneOf(config.Session.RxMode, "raw", "hex", "modbus", "custom") {
		return fmt.Errorf("session.rx_mode must be one of: raw, hex, modbus, custom")
	}
	if config.Transfer.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be positive")
	}

	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// GetServerAddr returns the server address
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%s", c.Server.Host, c.Server.Port)
}

// IsProduction checks if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment checks if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsDebugEnabled checks if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.IsDevelopment()
}
