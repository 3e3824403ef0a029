// cmd/serialcli/printer.go
package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-isatty"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/session"
)

const (
	colorReset = "\033[0m"
	colorRed   = "\033[31m"
	colorGreen = "\033[32m"
	colorBlue  = "\033[34m"
	colorCyan  = "\033[36m"
)

// printer renders traffic lines like "[12:00:00.123] [RX][ASCII] hello"
type printer struct {
	mu         sync.Mutex
	out        io.Writer
	mirror     io.Writer
	color      bool
	timestamps bool
	hex        bool
	now        func() time.Time
}

func newPrinter(out io.Writer, noColor bool) *printer {
	return &printer{
		out:        out,
		color:      !noColor && isTerminal(out),
		timestamps: true,
		now:        time.Now,
	}
}

// isTerminal reports whether w is an interactive terminal
func isTerminal(w interface{}) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) line(color, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.color && color != "" {
		fmt.Fprintln(p.out, color+text+colorReset)
	} else {
		fmt.Fprintln(p.out, text)
	}
	if p.mirror != nil {
		fmt.Fprintln(p.mirror, text)
	}
}

func (p *printer) stamp(text string) string {
	if !p.timestamps {
		return text
	}
	return fmt.Sprintf("[%s] %s", p.now().Format("15:04:05.000"), text)
}

// format builds the traffic line; non-UTF-8 data always falls back to hex
func (p *printer) format(direction string, data []byte) string {
	if p.hex || !utf8.Valid(data) {
		return p.stamp(fmt.Sprintf("[%s][HEX] %s", direction, codec.FormatHex(data)))
	}
	return p.stamp(fmt.Sprintf("[%s][ASCII] %s", direction, strings.TrimRight(string(data), "\r\n")))
}

func (p *printer) rx(data []byte) { p.line(colorCyan, p.format("RX", data)) }

func (p *printer) tx(data []byte) { p.line(colorBlue, p.format("TX", data)) }

func (p *printer) infof(format string, args ...interface{}) {
	p.line("", fmt.Sprintf(format, args...))
}

func (p *printer) successf(format string, args ...interface{}) {
	p.line(colorGreen, fmt.Sprintf(format, args...))
}

func (p *printer) errorf(format string, args ...interface{}) {
	p.line(colorRed, fmt.Sprintf(format, args...))
}

// event renders one session event
func (p *printer) event(ev *session.Event) {
	switch ev.Kind {
	case session.EventRx:
		switch {
		case ev.Err != nil:
			p.line(colorRed, p.stamp(fmt.Sprintf("[RX][ERR] %s (%s)", ev.Hex, ev.Error)))
		case ev.Frame != nil && ev.Frame.Mode == codec.ModeModbus:
			p.line(colorCyan, p.stamp(fmt.Sprintf("[RX][MODBUS] addr=%02X fn=%02X data=%s",
				ev.Frame.Address, ev.Frame.Function, codec.FormatHex(ev.Frame.Payload))))
		case ev.Frame != nil && ev.Frame.Mode == codec.ModeCustom:
			p.line(colorCyan, p.stamp(fmt.Sprintf("[RX][FRAME] cmd=%02X data=%s",
				ev.Frame.Function, codec.FormatHex(ev.Frame.Payload))))
		default:
			p.rx(ev.Data)
		}
	case session.EventTx:
		p.tx(ev.Data)
	case session.EventState:
		if ev.Error != "" {
			p.errorf("Session %s: %s", ev.State, ev.Error)
		} else {
			p.infof("Session %s", ev.State)
		}
	case session.EventTickSkipped:
		p.infof("Auto-send skipped %d tick(s)", ev.Skipped)
	case session.EventTransfer:
		if t := ev.Transfer; t != nil {
			if pct := t.Percent(); pct >= 0 {
				p.infof("Progress: %.1f%% (%d/%d bytes, %s)", pct, t.BytesSent, t.TotalBytes, t.State)
			} else {
				p.infof("Progress: %d bytes (%s)", t.BytesSent, t.State)
			}
		}
	}
}
