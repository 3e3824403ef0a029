package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/config"
	"serial-debugger/internal/discovery"
	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
	"serial-debugger/internal/session"
)

// echoTransport feeds every write back to the reader
type echoTransport struct {
	mu      sync.Mutex
	open    bool
	pending [][]byte
}

func (e *echoTransport) Open(model.PortConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = true
	return nil
}

func (e *echoTransport) ApplyConfig(model.PortConfig) error { return nil }

func (e *echoTransport) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending = append(e.pending, append([]byte(nil), p...))
	return len(p), nil
}

func (e *echoTransport) PollRead(p []byte) (int, error) {
	e.mu.Lock()
	if len(e.pending) == 0 {
		e.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	chunk := e.pending[0]
	e.pending = e.pending[1:]
	e.mu.Unlock()
	return copy(p, chunk), nil
}

func (e *echoTransport) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	return nil
}

func (e *echoTransport) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

type fixedPorts []*discovery.PortInfo

func (f fixedPorts) ScanAll(context.Context) ([]*discovery.PortInfo, error) {
	return f, nil
}

// syncBuffer is a bytes.Buffer safe for the event pump and the test to share
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *config.Config {
	return &config.Config{
		App:    config.AppConfig{Name: "serialcli", Version: "test", Environment: "development"},
		Serial: config.SerialConfig{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "none"},
		Session: config.SessionConfig{
			PollInterval:    5 * time.Millisecond,
			ReadBufferSize:  1024,
			QueueSize:       64,
			ResponseTimeout: time.Second,
			MaxReadRetries:  3,
			RetryMinBackoff: time.Millisecond,
			RetryMaxBackoff: 10 * time.Millisecond,
			FrameTimeout:    100 * time.Millisecond,
			RxMode:          "raw",
			StartMarker:     0xAA,
		},
		Transfer: config.TransferConfig{ChunkSize: 16, MaxUploadSize: 1024},
	}
}

var testPorts = fixedPorts{
	{Name: "/dev/ttyUSB0", Description: "FT232R USB UART", IsUSB: true, VendorID: "0403", ProductID: "6001", Chip: "FT232R"},
	{Name: "/dev/ttyS0", Description: "ttyS0"},
}

func testBuilder(ports fixedPorts) builder {
	return func(_ *viper.Viper, opts globalOptions, out io.Writer) (*cliApp, error) {
		factory := func() protocol.Transport { return &echoTransport{} }
		return newApp(testConfig(), zap.NewNop(), factory, ports, newPrinter(out, true))
	}
}

func newTestREPL(t *testing.T) (*repl, *syncBuffer) {
	t.Helper()

	out := &syncBuffer{}
	app, err := testBuilder(testPorts)(viper.New(), globalOptions{}, out)
	require.NoError(t, err)
	app.printer.timestamps = false
	t.Cleanup(func() { _ = app.Close() })

	s, err := openPort(context.Background(), app, "")
	require.NoError(t, err)

	r, err := newREPL(app, s.ID())
	require.NoError(t, err)
	t.Cleanup(r.Close)
	return r, out
}

func TestPrinterFormat(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, true)
	p.now = func() time.Time { return time.Date(2024, 1, 2, 12, 30, 45, 123e6, time.UTC) }

	assert.Equal(t, "[12:30:45.123] [RX][ASCII] hello", p.format("RX", []byte("hello\r\n")))
	assert.Equal(t, "[12:30:45.123] [TX][HEX] FF 00", p.format("TX", []byte{0xFF, 0x00}))

	p.timestamps = false
	p.hex = true
	assert.Equal(t, "[RX][HEX] 41 42", p.format("RX", []byte("AB")))
}

func TestPrinterEvents(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out, true)
	p.timestamps = false

	p.event(&session.Event{
		Kind:  session.EventRx,
		Data:  []byte{0x01, 0x03, 0x02, 0x00, 0x2A},
		Frame: &codec.Frame{Mode: codec.ModeModbus, Address: 0x01, Function: 0x03, Payload: []byte{0x02, 0x00, 0x2A}},
	})
	p.event(&session.Event{Kind: session.EventState, State: model.SessionStateFaulted, Error: "port vanished"})
	p.event(&session.Event{Kind: session.EventTickSkipped, Skipped: 3})
	p.event(&session.Event{
		Kind:     session.EventTransfer,
		Transfer: &model.TransferProgress{BytesSent: 50, TotalBytes: 200, State: model.TransferStateRunning},
	})

	text := out.String()
	assert.Contains(t, text, "[RX][MODBUS] addr=01 fn=03 data=02 00 2A")
	assert.Contains(t, text, "Session faulted: port vanished")
	assert.Contains(t, text, "Auto-send skipped 3 tick(s)")
	assert.Contains(t, text, "Progress: 25.0% (50/200 bytes, running)")
	assert.NotContains(t, text, colorReset)
}

func TestPrinterMirror(t *testing.T) {
	var out, mirror bytes.Buffer
	p := newPrinter(&out, true)
	p.timestamps = false
	p.mirror = &mirror

	p.rx([]byte("ok"))
	assert.Equal(t, "[RX][ASCII] ok\n", mirror.String())
}

func TestRunDispatch(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"version"}, strings.NewReader(""), &out, testBuilder(testPorts)))
	assert.Contains(t, out.String(), "serialcli "+version)

	out.Reset()
	require.NoError(t, run(nil, strings.NewReader(""), &out, testBuilder(testPorts)))
	assert.Contains(t, out.String(), "Commands:")

	err := run([]string{"frobnicate"}, strings.NewReader(""), &out, testBuilder(testPorts))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
}

func TestRunList(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, run([]string{"list", "-v"}, strings.NewReader(""), &out, testBuilder(testPorts)))

	text := out.String()
	assert.Contains(t, text, "Available serial ports (2):")
	assert.Contains(t, text, "/dev/ttyUSB0")
	assert.Contains(t, text, "USB 0403:6001")
	assert.Contains(t, text, "chip=FT232R")

	out.Reset()
	require.NoError(t, run([]string{"list"}, strings.NewReader(""), &out, testBuilder(nil)))
	assert.Contains(t, out.String(), "No serial ports found")
}

func TestRunSend(t *testing.T) {
	t.Run("text argument", func(t *testing.T) {
		var out bytes.Buffer
		err := run([]string{"send", "-p", "/dev/ttyUSB0", "hello"}, strings.NewReader(""), &out, testBuilder(testPorts))
		require.NoError(t, err)
		assert.Contains(t, out.String(), "[TX][ASCII] hello")
	})

	t.Run("hex from stdin with reply", func(t *testing.T) {
		var out bytes.Buffer
		err := run([]string{"send", "--port", "/dev/ttyUSB0", "--hex", "--wait-response"},
			strings.NewReader("48 49\n"), &out, testBuilder(testPorts))
		require.NoError(t, err)

		text := out.String()
		assert.Contains(t, text, "[TX][HEX] 48 49")
		assert.Contains(t, text, "Response received!")
		assert.Contains(t, text, "[RX][HEX] 48 49")
	})

	t.Run("missing port", func(t *testing.T) {
		var out bytes.Buffer
		err := run([]string{"send", "hello"}, strings.NewReader(""), &out, testBuilder(testPorts))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "--port")
	})

	t.Run("bad hex", func(t *testing.T) {
		var out bytes.Buffer
		err := run([]string{"send", "-p", "/dev/ttyUSB0", "--hex", "zz"}, strings.NewReader(""), &out, testBuilder(testPorts))
		var encErr *codec.EncodingError
		assert.True(t, errors.As(err, &encErr), "got %v", err)
	})
}

func TestREPLCommands(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "help"))
	assert.Contains(t, out.String(), "sendhex <hex>")

	err := r.execute(ctx, "bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command: bogus")

	require.NoError(t, r.execute(ctx, "sendhex 41 42"))
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "[RX][ASCII] AB")
	}, 2*time.Second, 10*time.Millisecond)
	assert.Contains(t, out.String(), "[TX][ASCII] AB")

	require.NoError(t, r.execute(ctx, "stop"))
	require.NoError(t, r.execute(ctx, "send hi"))
	assert.Contains(t, out.String(), "Sent 2 bytes")
}

func TestREPLSet(t *testing.T) {
	r, _ := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "set baud 9600"))
	require.NoError(t, r.execute(ctx, "set parity E"))
	require.NoError(t, r.execute(ctx, "set dtr on"))

	st, err := r.app.service.Status(r.sessionID)
	require.NoError(t, err)
	assert.Equal(t, 9600, st.Config.BaudRate)
	assert.Equal(t, model.ParityEven, st.Config.Parity)
	assert.True(t, st.Config.DTR)

	assert.Error(t, r.execute(ctx, "set baud fast"))
	assert.Error(t, r.execute(ctx, "set parity maybe"))
	assert.Error(t, r.execute(ctx, "set speed 1"))
	assert.Error(t, r.execute(ctx, "set baud"))
}

func TestREPLStatusAndReset(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	require.NoError(t, r.execute(ctx, "stop"))
	require.NoError(t, r.execute(ctx, "send abc"))
	require.NoError(t, r.execute(ctx, "status"))
	assert.Contains(t, out.String(), "Sent bytes: 3")

	require.NoError(t, r.execute(ctx, "reset"))
	st, err := r.app.service.Status(r.sessionID)
	require.NoError(t, err)
	assert.Zero(t, st.BytesSent)
}

func TestREPLAutoSend(t *testing.T) {
	r, _ := newTestREPL(t)
	ctx := context.Background()

	assert.Error(t, r.execute(ctx, "autosend 0 01"))
	assert.Error(t, r.execute(ctx, "autosend 100"))

	require.NoError(t, r.execute(ctx, "autosend 50 01 02"))
	st, err := r.app.service.Status(r.sessionID)
	require.NoError(t, err)
	assert.True(t, st.AutoSend.Running)

	require.NoError(t, r.execute(ctx, "autosend off"))
	st, err = r.app.service.Status(r.sessionID)
	require.NoError(t, err)
	assert.False(t, st.AutoSend.Running)
}

func TestREPLSendFile(t *testing.T) {
	r, out := newTestREPL(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "payload.bin")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte("x"), 100), 0644))

	require.NoError(t, r.execute(ctx, "stop"))
	require.NoError(t, r.execute(ctx, "sendfile "+path))
	assert.Contains(t, out.String(), "File sent successfully!")

	err := r.execute(ctx, "sendfile "+filepath.Join(t.TempDir(), "missing.bin"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "file not found")
}

func TestREPLScript(t *testing.T) {
	r, out := newTestREPL(t)

	require.NoError(t, r.Run(strings.NewReader("stop\nsend hi\nnope\nclose\nsend never\n")))

	text := out.String()
	assert.Contains(t, text, "Sent 2 bytes")
	assert.Contains(t, text, "Error: unknown command: nope")
	assert.Contains(t, text, "Connection closed")

	_, err := r.app.service.GetSession(r.sessionID)
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}
