// cmd/serialcli/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/service"
	"serial-debugger/internal/session"
)

// runList prints the serial ports of the host
func runList(args []string, out io.Writer, build builder) error {
	v := viper.New()
	fs := pflag.NewFlagSet("list", pflag.ContinueOnError)
	var opts globalOptions
	addGlobalFlags(fs, &opts)
	verbose := fs.BoolP("verbose-ports", "v", false, "show USB identifiers")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := build(v, opts, out)
	if err != nil {
		return err
	}
	defer app.Close()

	ports, err := app.service.ListPorts(context.Background())
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		app.printer.infof("No serial ports found")
		return nil
	}

	app.printer.infof("Available serial ports (%d):", len(ports))
	app.printer.infof("%s", strings.Repeat("-", 60))
	for i, p := range ports {
		app.printer.infof("%2d. %-15s - %s", i+1, p.Name, p.Description)
		if *verbose && p.IsUSB {
			app.printer.infof("     USB %s:%s serial=%s chip=%s", p.VendorID, p.ProductID, p.SerialNumber, p.Chip)
		}
	}
	return nil
}

// openPort opens a session on the given port, auto-selecting the first one when empty
func openPort(ctx context.Context, app *cliApp, port string) (*session.Session, error) {
	if port == "" {
		ports, err := app.service.ListPorts(ctx)
		if err != nil {
			return nil, err
		}
		if len(ports) == 0 {
			return nil, errors.New("no available serial ports found")
		}
		port = ports[0].Name
		app.printer.infof("Auto-selected port: %s", port)
	}

	s, err := app.service.OpenSession(ctx, service.OpenSessionRequest{Port: port, Origin: "cli"})
	if err != nil {
		return nil, err
	}
	app.printer.successf("Connected to %s", s.Config())
	return s, nil
}

// runOpen starts the interactive REPL
func runOpen(args []string, stdin io.Reader, out io.Writer, build builder) error {
	v := viper.New()
	fs := pflag.NewFlagSet("open", pflag.ContinueOnError)
	var opts globalOptions
	addGlobalFlags(fs, &opts)
	port := addSerialFlags(fs, v)
	hexMode := fs.Bool("hex", false, "display traffic as hex")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := build(v, opts, out)
	if err != nil {
		return err
	}
	defer app.Close()
	app.printer.hex = *hexMode

	s, err := openPort(context.Background(), app, *port)
	if err != nil {
		return err
	}

	r, err := newREPL(app, s.ID())
	if err != nil {
		return err
	}
	defer r.Close()

	app.printer.infof("\nEnter commands (type 'help' for list, 'close' to exit):\n")
	return r.Run(stdin)
}

// runSend writes one payload and optionally waits for the reply
func runSend(args []string, stdin io.Reader, out io.Writer, build builder) error {
	v := viper.New()
	fs := pflag.NewFlagSet("send", pflag.ContinueOnError)
	var opts globalOptions
	addGlobalFlags(fs, &opts)
	port := addSerialFlags(fs, v)
	hexMode := fs.Bool("hex", false, "data is hex text")
	waitResponse := fs.Bool("wait-response", false, "wait for a reply before exiting")
	timeout := fs.Float64("timeout", 5, "reply timeout in seconds")
	newline := fs.Bool("newline", false, "append CR LF to text data")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == "" {
		return errors.New("--port is required")
	}

	data := strings.Join(fs.Args(), " ")
	if data == "" && !isTerminal(stdin) {
		raw, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
		data = strings.TrimSpace(string(raw))
	}
	if data == "" {
		return errors.New("no data to send")
	}

	app, err := build(v, opts, out)
	if err != nil {
		return err
	}
	defer app.Close()
	app.printer.hex = *hexMode

	ctx := context.Background()
	s, err := app.service.OpenSession(ctx, service.OpenSessionRequest{Port: *port, Origin: "cli"})
	if err != nil {
		return err
	}

	payload := service.SendPayload{Data: data, AppendNewline: *newline}
	if *hexMode {
		payload.Mode = string(codec.ModeHex)
	}
	req, err := payload.Request()
	if err != nil {
		return err
	}
	if *waitResponse {
		req.WaitForResponse = true
		req.Timeout = time.Duration(*timeout * float64(time.Second))
		app.printer.infof("Waiting for response (timeout: %gs)...", *timeout)
	}

	res, err := app.service.Send(ctx, s.ID(), req)
	var timeoutErr *session.TimeoutError
	switch {
	case errors.As(err, &timeoutErr):
		if res != nil {
			app.printer.tx(res.Wire)
		}
		app.printer.infof("No response received (timeout)")
		return nil
	case err != nil:
		return err
	}

	app.printer.tx(res.Wire)
	if res.Response != nil {
		app.printer.successf("Response received!")
		app.printer.event(res.Response)
	}
	return nil
}

// runMonitor prints received data until interrupted or the port goes away
func runMonitor(args []string, out io.Writer, build builder) error {
	v := viper.New()
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	var opts globalOptions
	addGlobalFlags(fs, &opts)
	port := addSerialFlags(fs, v)
	hexMode := fs.Bool("hex", false, "display data as hex")
	timestamps := fs.BoolP("timestamp", "t", false, "prefix lines with the time")
	logfile := fs.StringP("logfile", "l", "", "append received lines to this file")
	rxMode := fs.String("rx-mode", "", "decode received data as raw, hex, modbus or custom")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == "" {
		return errors.New("--port is required")
	}

	app, err := build(v, opts, out)
	if err != nil {
		return err
	}
	defer app.Close()
	app.printer.hex = *hexMode
	app.printer.timestamps = *timestamps

	if *logfile != "" {
		f, err := os.OpenFile(*logfile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		app.printer.mirror = f
		app.printer.infof("Logging to: %s", *logfile)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := app.service.OpenSession(ctx, service.OpenSessionRequest{Port: *port, RxMode: *rxMode, Origin: "cli"})
	if err != nil {
		return err
	}
	_, sub, err := app.service.Subscribe(s.ID(), "monitor")
	if err != nil {
		return err
	}

	app.printer.successf("Monitoring %s...", s.Config())
	app.printer.infof("Press Ctrl+C to stop\n")

	monitor(ctx, app.printer, sub)

	app.printer.infof("\nSummary:")
	app.printer.infof("  Received bytes: %d", s.BytesReceived())
	return nil
}

// monitor prints received events until ctx ends or the subscription closes
func monitor(ctx context.Context, p *printer, sub *session.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Kind == session.EventRx || ev.Kind == session.EventState {
				p.event(ev)
			}
		}
	}
}
