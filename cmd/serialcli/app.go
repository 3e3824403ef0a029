// cmd/serialcli/app.go
package main

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"serial-debugger/internal/config"
	"serial-debugger/internal/discovery"
	serialscanner "serial-debugger/internal/discovery/serial"
	"serial-debugger/internal/protocol"
	"serial-debugger/internal/service"
	"serial-debugger/internal/session"
	"serial-debugger/internal/utils"
)

// globalOptions are accepted by every command
type globalOptions struct {
	configFile string
	verbose    bool
	noColor    bool
}

func addGlobalFlags(fs *pflag.FlagSet, opts *globalOptions) {
	fs.StringVarP(&opts.configFile, "config", "c", "", "path to a config file")
	fs.BoolVar(&opts.verbose, "verbose", false, "log engine activity to stderr")
	fs.BoolVar(&opts.noColor, "no-color", false, "disable coloured output")
}

// addSerialFlags registers line parameter flags and binds them to the
// serial section of the configuration
func addSerialFlags(fs *pflag.FlagSet, v *viper.Viper) *string {
	port := fs.StringP("port", "p", "", "serial port, e.g. /dev/ttyUSB0 or COM3")
	fs.IntP("baud", "b", 115200, "baud rate")
	fs.Int("bytesize", 8, "data bits (5-8)")
	fs.String("parity", "none", "parity: none, odd, even, mark or space")
	fs.Float64("stopbits", 1, "stop bits: 1, 1.5 or 2")
	fs.Bool("dtr", false, "assert DTR")
	fs.Bool("rts", false, "assert RTS")

	bindings := map[string]string{
		"serial.baud_rate": "baud",
		"serial.data_bits": "bytesize",
		"serial.parity":    "parity",
		"serial.stop_bits": "stopbits",
		"serial.dtr":       "dtr",
		"serial.rts":       "rts",
	}
	for key, flag := range bindings {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
	return port
}

// cliApp carries what every command needs
type cliApp struct {
	config  *config.Config
	logger  *zap.Logger
	service *service.SerialService
	printer *printer
}

// builder creates the app once flags are parsed
type builder func(v *viper.Viper, opts globalOptions, out io.Writer) (*cliApp, error)

// buildApp loads configuration and wires the real serial stack
func buildApp(v *viper.Viper, opts globalOptions, out io.Writer) (*cliApp, error) {
	cfg, err := config.LoadWith(v, opts.configFile)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Logging
	logCfg.Output = "stderr"
	logCfg.Format = "console"
	logCfg.Level = "error"
	if opts.verbose {
		logCfg.Level = "debug"
	}
	logger, err := utils.NewLogger(&logCfg)
	if err != nil {
		return nil, err
	}

	scanners := discovery.NewScannerManager(logger)
	scanners.RegisterScanner(serialscanner.NewScanner(logger, nil))

	poll := cfg.Session.PollInterval
	factory := func() protocol.Transport {
		return protocol.NewSerialTransport(protocol.OpenSerial, poll, logger)
	}

	return newApp(cfg, logger, factory, scanners, newPrinter(out, opts.noColor))
}

// newApp wires an app around the given transport factory and port lister
func newApp(cfg *config.Config, logger *zap.Logger, factory session.TransportFactory, ports service.PortLister, p *printer) (*cliApp, error) {
	opts, err := service.SessionOptions(cfg)
	if err != nil {
		return nil, err
	}

	manager := session.NewManager(factory, opts, logger)
	svc, err := service.NewSerialService(manager, ports, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create serial service: %w", err)
	}

	return &cliApp{
		config:  cfg,
		logger:  logger,
		service: svc,
		printer: p,
	}, nil
}

// Close releases every open session and flushes the logger
func (a *cliApp) Close() error {
	err := a.service.CloseAll()
	_ = utils.CloseLogger(a.logger)
	return err
}
