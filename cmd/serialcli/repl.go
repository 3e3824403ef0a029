// cmd/serialcli/repl.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/peterh/liner"
	"go.uber.org/atomic"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
	"serial-debugger/internal/service"
	"serial-debugger/internal/session"
)

var commandHelp = []struct{ name, usage string }{
	{"send", "send <text>          - Send ASCII text"},
	{"sendln", "sendln <text>        - Send ASCII text followed by CR LF"},
	{"sendhex", "sendhex <hex>        - Send hex bytes, e.g. 'FF 01 02'"},
	{"sendmodbus", "sendmodbus <hex>     - Send a Modbus RTU PDU; the CRC is appended"},
	{"sendframe", "sendframe <cmd> <hex> - Send a framed command with checksum"},
	{"sendfile", "sendfile <file>      - Send a file in chunks with progress"},
	{"listen", "listen               - Show received data"},
	{"stop", "stop                 - Hide received data"},
	{"status", "status               - Show port settings and counters"},
	{"set", "set <param> <value>  - Set baud, databits, parity, stopbits, dtr or rts"},
	{"autosend", "autosend <ms> <hex>  - Re-send hex bytes periodically; 'autosend off' stops"},
	{"reset", "reset                - Reset the byte counters"},
	{"clear", "clear                - Clear the screen"},
	{"help", "help                 - Show this list"},
	{"close", "close                - Close the port and exit"},
}

var errQuit = errors.New("quit")

// repl drives one session from typed commands
type repl struct {
	app       *cliApp
	sessionID string
	sub       *session.Subscriber
	listening *atomic.Bool
	pumpDone  chan struct{}
}

// newREPL subscribes to the session and starts printing its events
func newREPL(app *cliApp, sessionID string) (*repl, error) {
	_, sub, err := app.service.Subscribe(sessionID, "cli")
	if err != nil {
		return nil, err
	}

	r := &repl{
		app:       app,
		sessionID: sessionID,
		sub:       sub,
		listening: atomic.NewBool(true),
		pumpDone:  make(chan struct{}),
	}
	go r.pump()
	return r, nil
}

// pump prints events while listening; state changes are always shown
func (r *repl) pump() {
	defer close(r.pumpDone)
	for ev := range r.sub.Events() {
		if ev.Kind == session.EventState || r.listening.Load() {
			r.app.printer.event(ev)
		}
	}
}

// Close detaches from the session
func (r *repl) Close() {
	_ = r.app.service.Unsubscribe(r.sessionID, r.sub.ID)
	<-r.pumpDone
}

// Run reads commands until close, EOF or Ctrl+C
func (r *repl) Run(stdin io.Reader) error {
	if f, ok := stdin.(*os.File); !ok || f != os.Stdin {
		return r.runScript(stdin)
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(func(input string) []string {
		var out []string
		for _, c := range commandHelp {
			if strings.HasPrefix(c.name, strings.ToLower(input)) {
				out = append(out, c.name)
			}
		}
		return out
	})

	for {
		input, err := line.Prompt("> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			r.app.printer.infof("\nExiting...")
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) != "" {
			line.AppendHistory(input)
		}

		if err := r.execute(context.Background(), input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			r.app.printer.errorf("Error: %v", err)
		}
	}
}

// runScript executes one command per line from a non-interactive reader
func (r *repl) runScript(in io.Reader) error {
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	for _, input := range strings.Split(string(data), "\n") {
		if err := r.execute(context.Background(), input); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			r.app.printer.errorf("Error: %v", err)
		}
	}
	return nil
}

// execute runs one command line; errQuit ends the REPL
func (r *repl) execute(ctx context.Context, input string) error {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}

	command, args := input, ""
	if i := strings.IndexAny(input, " \t"); i >= 0 {
		command, args = input[:i], strings.TrimSpace(input[i+1:])
	}
	p := r.app.printer

	switch strings.ToLower(command) {
	case "help":
		p.infof("Available commands:")
		for _, c := range commandHelp {
			p.infof("  %s", c.usage)
		}
		return nil
	case "send":
		return r.send(ctx, args, service.SendPayload{Data: args})
	case "sendln":
		return r.send(ctx, args, service.SendPayload{Data: args, AppendNewline: true})
	case "sendhex":
		return r.send(ctx, args, service.SendPayload{Data: args, Mode: string(codec.ModeHex)})
	case "sendmodbus":
		return r.send(ctx, args, service.SendPayload{Data: args, Mode: string(codec.ModeModbus)})
	case "sendframe":
		cmd, body, _ := strings.Cut(args, " ")
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(cmd), "0x"), 16, 8)
		if err != nil {
			return fmt.Errorf("usage: sendframe <cmd> <hex>")
		}
		return r.send(ctx, args, service.SendPayload{Data: body, Mode: string(codec.ModeCustom), Command: int(n)})
	case "sendfile":
		return r.sendFile(ctx, args)
	case "listen":
		r.listening.Store(true)
		p.infof("Listening for incoming data... (type 'stop' to stop displaying)")
		return nil
	case "stop":
		r.listening.Store(false)
		p.infof("Stopped listening")
		return nil
	case "status":
		return r.status()
	case "set":
		return r.set(args)
	case "autosend":
		return r.autoSend(args)
	case "reset":
		if err := r.app.service.ResetCounters(r.sessionID); err != nil {
			return err
		}
		p.infof("Counters reset")
		return nil
	case "clear":
		p.mu.Lock()
		fmt.Fprint(p.out, "\033[H\033[2J")
		p.mu.Unlock()
		return nil
	case "close", "exit", "quit":
		if err := r.app.service.CloseSession(r.sessionID, "cli"); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
			return err
		}
		p.infof("Connection closed")
		return errQuit
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (r *repl) send(ctx context.Context, args string, payload service.SendPayload) error {
	if args == "" {
		return errors.New("nothing to send")
	}
	req, err := payload.Request()
	if err != nil {
		return err
	}
	res, err := r.app.service.Send(ctx, r.sessionID, req)
	if err != nil {
		return err
	}
	if !r.listening.Load() {
		r.app.printer.infof("Sent %d bytes", res.BytesWritten)
	}
	return nil
}

func (r *repl) sendFile(ctx context.Context, path string) error {
	if path == "" {
		return errors.New("usage: sendfile <file>")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file not found: %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	r.app.printer.infof("Sending %s (%d bytes)...", path, info.Size())
	t, err := r.app.service.SendFile(r.sessionID, filepath.Base(path), f, info.Size(), 0)
	if err != nil {
		return err
	}
	if err := t.Wait(ctx); err != nil {
		return fmt.Errorf("error sending file: %w", err)
	}
	r.app.printer.successf("File sent successfully!")
	return nil
}

func (r *repl) status() error {
	st, err := r.app.service.Status(r.sessionID)
	if err != nil {
		return err
	}
	p := r.app.printer
	p.infof("Status:")
	p.infof("  State: %s", st.State)
	if st.Fault != "" {
		p.infof("  Fault: %s", st.Fault)
	}
	p.infof("  Port: %s", st.Config.Port)
	p.infof("  Baudrate: %d", st.Config.BaudRate)
	p.infof("  Data bits: %d", st.Config.DataBits)
	p.infof("  Parity: %s", st.Config.Parity)
	p.infof("  Stop bits: %s", st.Config.StopBits)
	p.infof("  DTR: %t  RTS: %t", st.Config.DTR, st.Config.RTS)
	p.infof("  RX mode: %s", st.RxMode)
	p.infof("  Sent bytes: %d", st.BytesSent)
	p.infof("  Received bytes: %d", st.BytesReceived)
	if st.AutoSend.Running {
		p.infof("  Auto-send: every %s (fired %d, skipped %d, failed %d)",
			st.AutoSend.Interval, st.AutoSend.Fired, st.AutoSend.Skipped, st.AutoSend.Failed)
	}
	return nil
}

func parseSwitch(value string) bool {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

func (r *repl) set(args string) error {
	fields := strings.Fields(args)
	if len(fields) < 2 {
		return errors.New("usage: set <parameter> <value>")
	}
	param, value := strings.ToLower(fields[0]), fields[1]

	var update model.PortUpdate
	switch param {
	case "baud":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid baudrate value: %s", value)
		}
		update.BaudRate = &n
	case "databits", "bytesize":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid data bits value: %s", value)
		}
		update.DataBits = &n
	case "stopbits":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid stop bits value: %s", value)
		}
		sb := model.StopBits(f)
		update.StopBits = &sb
	case "parity":
		parity, err := model.ParseParity(value)
		if err != nil {
			return err
		}
		update.Parity = &parity
	case "dtr":
		on := parseSwitch(value)
		update.DTR = &on
	case "rts":
		on := parseSwitch(value)
		update.RTS = &on
	default:
		return fmt.Errorf("unknown parameter: %s", param)
	}

	cfg, err := r.app.service.Reconfigure(r.sessionID, update)
	if err != nil {
		return err
	}
	r.app.printer.infof("Port set to %s (DTR %t, RTS %t)", cfg, cfg.DTR, cfg.RTS)
	return nil
}

func (r *repl) autoSend(args string) error {
	if strings.EqualFold(strings.TrimSpace(args), "off") {
		if err := r.app.service.StopAutoSend(r.sessionID); err != nil {
			return err
		}
		r.app.printer.infof("Auto-send stopped")
		return nil
	}

	ms, data, _ := strings.Cut(args, " ")
	n, err := strconv.Atoi(ms)
	if err != nil || strings.TrimSpace(data) == "" {
		return errors.New("usage: autosend <ms> <hex> | autosend off")
	}
	req, err := service.SendPayload{Data: data, Mode: string(codec.ModeHex)}.Request()
	if err != nil {
		return err
	}
	interval := time.Duration(n) * time.Millisecond
	if err := r.app.service.StartAutoSend(r.sessionID, req, interval); err != nil {
		return err
	}
	r.app.printer.infof("Auto-send every %s", interval)
	return nil
}
