package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

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

type loopbackTransport struct {
	mu      sync.Mutex
	open    bool
	cfg     model.PortConfig
	written []byte
	pending [][]byte
}

func (l *loopbackTransport) Open(cfg model.PortConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open, l.cfg = true, cfg
	return nil
}

func (l *loopbackTransport) ApplyConfig(cfg model.PortConfig) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cfg = cfg
	return nil
}

// Write echoes every write back to the reader
func (l *loopbackTransport) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.written = append(l.written, p...)
	l.pending = append(l.pending, append([]byte(nil), p...))
	return len(p), nil
}

func (l *loopbackTransport) PollRead(p []byte) (int, error) {
	l.mu.Lock()
	if len(l.pending) == 0 {
		l.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
		return 0, nil
	}
	chunk := l.pending[0]
	l.pending = l.pending[1:]
	l.mu.Unlock()
	return copy(p, chunk), nil
}

func (l *loopbackTransport) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open = false
	return nil
}

func (l *loopbackTransport) IsOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.open
}

type staticPorts []*discovery.PortInfo

func (s staticPorts) ScanAll(context.Context) ([]*discovery.PortInfo, error) {
	out := make([]*discovery.PortInfo, len(s))
	for i, p := range s {
		cp := *p
		out[i] = &cp
	}
	return out, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Serial: config.SerialConfig{BaudRate: 115200, DataBits: 8, StopBits: 1, Parity: "none"},
		Session: config.SessionConfig{
			PollInterval:     5 * time.Millisecond,
			ReadBufferSize:   1024,
			QueueSize:        64,
			ResponseTimeout:  time.Second,
			MaxReadRetries:   3,
			RetryMinBackoff:  time.Millisecond,
			RetryMaxBackoff:  10 * time.Millisecond,
			FrameTimeout:     100 * time.Millisecond,
			RxMode:           "raw",
			StartMarker:      0xAA,
			MonitorInterval:  10 * time.Millisecond,
			FaultedRetention: time.Minute,
		},
		Transfer: config.TransferConfig{ChunkSize: 16},
	}
}

func newTestService(t *testing.T) *SerialService {
	t.Helper()
	cfg := testConfig()
	opts, err := SessionOptions(cfg)
	require.NoError(t, err)

	manager := session.NewManager(func() protocol.Transport { return &loopbackTransport{} }, opts, zap.NewNop())
	ports := staticPorts{{Name: "/dev/ttyUSB0", IsUSB: true}, {Name: "/dev/ttyS0"}}

	svc, err := NewSerialService(manager, ports, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = svc.CloseAll() })
	return svc
}

func TestOpenSessionAppliesDefaults(t *testing.T) {
	svc := newTestService(t)

	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0", Parity: "E"})
	require.NoError(t, err)

	cfg := s.Config()
	assert.Equal(t, 115200, cfg.BaudRate)
	assert.Equal(t, 8, cfg.DataBits)
	assert.Equal(t, model.ParityEven, cfg.Parity)
	assert.Equal(t, model.SessionStateOpen, s.State())

	_, err = svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0"})
	assert.ErrorIs(t, err, session.ErrPortInUse)
}

func TestOpenSessionRejectsBadRequest(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0", BaudRate: 50})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0", RxMode: "morse"})
	var encErr *codec.EncodingError
	assert.ErrorAs(t, err, &encErr)

	for _, marker := range []int{-1, 0x100} {
		marker := marker
		_, err = svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0", StartMarker: &marker})
		assert.ErrorIs(t, err, model.ErrInvalidConfig, marker)
	}
}

func TestOpenSessionAcceptsZeroStartMarker(t *testing.T) {
	svc := newTestService(t)

	zero := 0
	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0", RxMode: "custom", StartMarker: &zero})
	require.NoError(t, err)
	assert.Equal(t, byte(0x00), s.Options().Params.StartMarker)

	other, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyS0"})
	require.NoError(t, err)
	assert.Equal(t, codec.DefaultStartMarker, other.Options().Params.StartMarker)
}

func TestListPortsMarksHeldPorts(t *testing.T) {
	svc := newTestService(t)
	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyS0"})
	require.NoError(t, err)

	ports, err := svc.ListPorts(context.Background())
	require.NoError(t, err)
	require.Len(t, ports, 2)
	assert.False(t, ports[0].InUse)
	assert.True(t, ports[1].InUse)
	assert.Equal(t, s.ID(), ports[1].SessionID)
}

func TestSendWithResponseThroughService(t *testing.T) {
	svc := newTestService(t)
	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)

	req, err := SendPayload{Data: "de ad be ef", Mode: "hex", WaitForResponse: true, TimeoutMs: 500}.Request()
	require.NoError(t, err)

	res, err := svc.Send(context.Background(), s.ID(), req)
	require.NoError(t, err)
	assert.Equal(t, 4, res.BytesWritten)
	require.NotNil(t, res.Response)
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, res.Response.Data)

	st, err := svc.Status(s.ID())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), st.BytesSent)

	require.NoError(t, svc.ResetCounters(s.ID()))
	st, err = svc.Status(s.ID())
	require.NoError(t, err)
	assert.Zero(t, st.BytesSent)
}

func TestSendPayloadModes(t *testing.T) {
	req, err := SendPayload{Data: "01 03 00 00 00 0A", Mode: "modbus"}.Request()
	require.NoError(t, err)
	assert.Equal(t, codec.ModeModbus, req.Mode)
	assert.Equal(t, []byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A}, req.Payload)

	req, err = SendPayload{Data: "01 02", Mode: "custom", Command: 0x10}.Request()
	require.NoError(t, err)
	assert.Equal(t, byte(0x10), req.Command)

	req, err = SendPayload{Data: "hello", AppendNewline: true}.Request()
	require.NoError(t, err)
	assert.Equal(t, codec.ModeRaw, req.Mode)
	assert.Equal(t, []byte("hello"), req.Payload)

	_, err = SendPayload{Data: "xyz", Mode: "modbus"}.Request()
	assert.Error(t, err)
	_, err = SendPayload{Data: "01", Mode: "custom", Command: 300}.Request()
	assert.Error(t, err)
}

func TestReconfigureThroughService(t *testing.T) {
	svc := newTestService(t)
	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)

	baud := 9600
	dtr := true
	cfg, err := svc.Reconfigure(s.ID(), model.PortUpdate{BaudRate: &baud, DTR: &dtr})
	require.NoError(t, err)
	assert.Equal(t, 9600, cfg.BaudRate)
	assert.True(t, cfg.DTR)

	bad := 7
	_, err = svc.Reconfigure(s.ID(), model.PortUpdate{BaudRate: &bad})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestTransferAndAutoSendThroughService(t *testing.T) {
	svc := newTestService(t)
	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)

	tr, err := svc.SendFile(s.ID(), "notes.txt", strings.NewReader(strings.Repeat("x", 100)), 100, 0)
	require.NoError(t, err)
	require.NoError(t, tr.Wait(context.Background()))

	got, err := svc.Transfer(s.ID(), tr.ID())
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.Progress().BytesSent)

	_, err = svc.CancelTransfer(s.ID(), "missing")
	assert.ErrorIs(t, err, session.ErrTransferNotFound)

	req, err := SendPayload{Data: "ping"}.Request()
	require.NoError(t, err)
	require.NoError(t, svc.StartAutoSend(s.ID(), req, 5*time.Millisecond))
	assert.Eventually(t, func() bool {
		st, _ := svc.Status(s.ID())
		return st.AutoSend.Fired >= 2
	}, time.Second, time.Millisecond)
	require.NoError(t, svc.StopAutoSend(s.ID()))

	assert.ErrorIs(t, svc.StartAutoSend(s.ID(), req, 0), session.ErrInvalidInterval)
}

func TestCloseSessionAndUnknownIDs(t *testing.T) {
	svc := newTestService(t)
	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)

	_, sub, err := svc.Subscribe(s.ID(), "cli")
	require.NoError(t, err)
	require.NoError(t, svc.Unsubscribe(s.ID(), sub.ID))
	assert.Error(t, svc.Unsubscribe(s.ID(), sub.ID))

	require.NoError(t, svc.CloseSession(s.ID(), "test"))
	assert.Empty(t, svc.ListSessions())

	err = svc.CloseSession(s.ID(), "test")
	assert.True(t, errors.Is(err, session.ErrSessionNotFound))
	_, err = svc.Status("nope")
	assert.ErrorIs(t, err, session.ErrSessionNotFound)
}

func TestMonitorReapsFaultedSessions(t *testing.T) {
	cfg := testConfig()
	cfg.Session.FaultedRetention = 0
	opts, err := SessionOptions(cfg)
	require.NoError(t, err)

	failing := &failingTransport{}
	manager := session.NewManager(func() protocol.Transport { return failing }, opts, zap.NewNop())
	svc, err := NewSerialService(manager, staticPorts{}, cfg, zap.NewNop())
	require.NoError(t, err)

	s, err := svc.OpenSession(context.Background(), OpenSessionRequest{Port: "/dev/ttyUSB0"})
	require.NoError(t, err)
	<-s.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.RunMonitor(ctx)

	assert.Eventually(t, func() bool { return len(svc.ListSessions()) == 0 }, time.Second, 5*time.Millisecond)
}

// failingTransport opens fine and then loses the device on the first read
type failingTransport struct{ loopbackTransport }

func (f *failingTransport) PollRead([]byte) (int, error) {
	return 0, &protocol.PortError{Op: protocol.OpRead, Port: "/dev/ttyUSB0", Err: protocol.ErrPortNotOpen}
}
