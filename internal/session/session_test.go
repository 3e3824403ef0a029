package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
)

func testOptions() Options {
	opts := DefaultOptions()
	opts.PollInterval = 5 * time.Millisecond
	opts.RetryMinBackoff = time.Millisecond
	opts.RetryMaxBackoff = 5 * time.Millisecond
	return opts
}

func openTestSession(t *testing.T, ft *fakeTransport, opts Options) *Session {
	t.Helper()
	s, err := Open("test-session", ft, model.DefaultPortConfig("/dev/ttyTEST0"), opts, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func nextEvent(t *testing.T, sub *Subscriber, kind EventKind) *Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscriber queue closed while waiting for %s", kind)
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
			return nil
		}
	}
}

func TestSendHexWritesBytes(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	res, err := s.Send(context.Background(), SendRequest{Mode: codec.ModeHex, Payload: []byte("AA")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.BytesWritten)
	assert.Equal(t, []byte{0xAA}, ft.Written())
	assert.Equal(t, uint64(1), s.BytesSent())

	ev := nextEvent(t, sub, EventTx)
	assert.Equal(t, []byte{0xAA}, ev.Data)
	assert.Equal(t, "AA", ev.Hex)
}

func TestSendRawAppendsNewline(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	_, err := s.Send(context.Background(), SendRequest{Payload: []byte("AT"), AppendNewline: true})
	require.NoError(t, err)
	assert.Equal(t, []byte("AT\r\n"), ft.Written())
}

func TestSendRejectsBadPayload(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	_, err := s.Send(context.Background(), SendRequest{Mode: codec.ModeHex, Payload: []byte("ZZ")})
	var encErr *codec.EncodingError
	assert.ErrorAs(t, err, &encErr)

	_, err = s.Send(context.Background(), SendRequest{})
	assert.ErrorAs(t, err, &encErr)
	assert.Empty(t, ft.Written())
	assert.Equal(t, model.SessionStateOpen, s.State())
}

func TestOpenFailureLeavesNothingRunning(t *testing.T) {
	ft := newFakeTransport()
	ft.openErr = &protocol.PortError{Op: protocol.OpOpen, Port: "/dev/ttyTEST0", Err: errors.New("busy")}

	s, err := Open("x", ft, model.DefaultPortConfig("/dev/ttyTEST0"), testOptions(), zap.NewNop())
	assert.Nil(t, s)
	var pe *protocol.PortError
	assert.ErrorAs(t, err, &pe)
	assert.False(t, ft.IsOpen())
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := model.DefaultPortConfig("/dev/ttyTEST0")
	cfg.BaudRate = 12
	_, err := Open("x", newFakeTransport(), cfg, testOptions(), zap.NewNop())
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestCloseIsIdempotent(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, model.SessionStateClosed, s.State())
	assert.Equal(t, 1, ft.closeCalls)
	assert.False(t, ft.IsOpen())

	ev := nextEvent(t, sub, EventState)
	assert.Equal(t, model.SessionStateClosed, ev.State)
	_, open := <-sub.Events()
	assert.False(t, open)

	_, err = s.Send(context.Background(), SendRequest{Payload: []byte("x")})
	assert.ErrorIs(t, err, ErrSessionClosed)
	_, err = s.Subscribe("late")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestWaitForResponse(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = func(p []byte) []byte { return []byte("OK\r\n") }
	s := openTestSession(t, ft, testOptions())

	res, err := s.Send(context.Background(), SendRequest{
		Payload:         []byte("AT"),
		AppendNewline:   true,
		WaitForResponse: true,
		Timeout:         time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, EventRx, res.Response.Kind)
	assert.Equal(t, []byte("OK\r\n"), res.Response.Data)
	require.NotNil(t, res.Response.Text)
	assert.Equal(t, "OK\r\n", *res.Response.Text)

	assert.Eventually(t, func() bool { return s.BytesReceived() == 4 }, time.Second, 5*time.Millisecond)
}

func TestWaitForResponseAcceptsReplyDuringWrite(t *testing.T) {
	ft := newFakeTransport()
	ft.respond = func([]byte) []byte {
		// the device answers before the driver returns from the write
		ft.rx <- []byte{0x06}
		time.Sleep(30 * time.Millisecond)
		return nil
	}
	s := openTestSession(t, ft, testOptions())

	res, err := s.Send(context.Background(), SendRequest{
		Payload:         []byte{0x05},
		WaitForResponse: true,
		Timeout:         time.Second,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Response)
	assert.Equal(t, []byte{0x06}, res.Response.Data)
}

func TestWaitForResponseTimesOut(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	start := time.Now()
	res, err := s.Send(context.Background(), SendRequest{
		Payload:         []byte{0x01},
		WaitForResponse: true,
		Timeout:         50 * time.Millisecond,
	})
	var timeoutErr *TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.True(t, timeoutErr.Timeout())
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.BytesWritten)
	assert.Equal(t, model.SessionStateOpen, s.State())
}

func TestWaitForResponseEndsOnClose(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Send(context.Background(), SendRequest{Payload: []byte{0x01}, WaitForResponse: true, Timeout: 5 * time.Second})
		errCh <- err
	}()

	assert.Eventually(t, func() bool { return len(ft.Written()) == 1 }, time.Second, time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrSessionClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting send not released by close")
	}
}

func TestWriteFailureFaultsSession(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	ft.setWriteErr(&protocol.PortError{Op: protocol.OpWrite, Port: "/dev/ttyTEST0", Err: io.EOF})
	_, err = s.Send(context.Background(), SendRequest{Payload: []byte{0x01}})
	require.Error(t, err)

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop after write failure")
	}
	assert.Equal(t, model.SessionStateFaulted, s.State())
	assert.True(t, s.IsFaulted())
	assert.Error(t, s.Fault())

	ev := nextEvent(t, sub, EventState)
	assert.Equal(t, model.SessionStateFaulted, ev.State)
	assert.NotEmpty(t, ev.Error)

	_, err = s.Send(context.Background(), SendRequest{Payload: []byte{0x01}})
	assert.ErrorIs(t, err, ErrSessionFaulted)
}

func TestFatalReadErrorFaultsSession(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	ft.setReadErr(&protocol.PortError{Op: protocol.OpRead, Port: "/dev/ttyTEST0", Err: protocol.ErrPortNotOpen})

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not fault on read error")
	}
	assert.Equal(t, model.SessionStateFaulted, s.State())
	assert.False(t, ft.IsOpen())
}

func TestTransientReadErrorsAreRetried(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	ft.setReadErr(errors.New("resource temporarily unavailable"))
	time.Sleep(3 * time.Millisecond)
	ft.setReadErr(nil)
	ft.inject([]byte("ok"))

	assert.Eventually(t, func() bool { return s.BytesReceived() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, model.SessionStateOpen, s.State())
}

func TestPersistentTransientReadErrorsFault(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.MaxReadRetries = 2
	s := openTestSession(t, ft, opts)

	ft.setReadErr(errors.New("resource temporarily unavailable"))

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not give up after repeated read errors")
	}
	assert.Equal(t, model.SessionStateFaulted, s.State())
}

func TestReconfigure(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	cfg := s.Config()
	cfg.BaudRate = 115200
	cfg.Parity = model.ParityEven
	require.NoError(t, s.Reconfigure(cfg))

	assert.Equal(t, 115200, s.Config().BaudRate)
	assert.Equal(t, model.ParityEven, s.Config().Parity)
	require.Len(t, ft.applied, 1)
	assert.Equal(t, 115200, ft.applied[0].BaudRate)

	assert.Equal(t, model.SessionStateReconfiguring, nextEvent(t, sub, EventState).State)
	assert.Equal(t, model.SessionStateOpen, nextEvent(t, sub, EventState).State)

	_, err = s.Send(context.Background(), SendRequest{Payload: []byte("x")})
	assert.NoError(t, err)
}

func TestReconfigureRejectsPortChange(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	cfg := s.Config()
	cfg.Port = "/dev/ttyOTHER"
	assert.ErrorIs(t, s.Reconfigure(cfg), model.ErrInvalidConfig)
	assert.Empty(t, ft.applied)
}

func TestReconfigureFailureKeepsSessionOpen(t *testing.T) {
	ft := newFakeTransport()
	ft.applyErr = &protocol.PortError{Op: protocol.OpReconfigure, Port: "/dev/ttyTEST0", Err: errors.New("unsupported baud")}
	s := openTestSession(t, ft, testOptions())

	cfg := s.Config()
	cfg.BaudRate = 250000
	require.Error(t, s.Reconfigure(cfg))

	assert.Equal(t, model.SessionStateOpen, s.State())
	assert.Equal(t, 9600, s.Config().BaudRate)
}

func TestReconfigureFatalFailureFaults(t *testing.T) {
	ft := newFakeTransport()
	ft.applyErr = &protocol.PortError{Op: protocol.OpReconfigure, Port: "/dev/ttyTEST0", Err: errors.New("restore failed"), Permanent: true}
	s := openTestSession(t, ft, testOptions())

	cfg := s.Config()
	cfg.BaudRate = 19200
	require.Error(t, s.Reconfigure(cfg))
	assert.Equal(t, model.SessionStateFaulted, s.State())
}

func TestCustomFrameSplitAcrossReads(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeCustom
	s := openTestSession(t, ft, opts)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	ft.inject([]byte{0xAA, 0x02, 0x10})
	time.Sleep(20 * time.Millisecond)
	ft.inject([]byte{0x01, 0x02, 0x11})

	ev := nextEvent(t, sub, EventRx)
	require.NotNil(t, ev.Frame)
	assert.Nil(t, ev.Err)
	assert.Equal(t, byte(0x10), ev.Frame.Function)
	assert.Equal(t, []byte{0x01, 0x02}, ev.Frame.Payload)
	assert.Equal(t, []byte{0xAA, 0x02, 0x10, 0x01, 0x02, 0x11}, ev.Data)
	assert.Equal(t, 0, sub.Queued())
}

func TestCustomFrameResyncReportsGarbage(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeCustom
	s := openTestSession(t, ft, opts)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	ft.inject([]byte{0x55, 0x66, 0xAA, 0x00, 0x20, 0x20})

	garbage := nextEvent(t, sub, EventRx)
	var frameErr *codec.FrameError
	require.ErrorAs(t, garbage.Err, &frameErr)
	assert.Equal(t, []byte{0x55, 0x66}, garbage.Data)

	frame := nextEvent(t, sub, EventRx)
	require.NotNil(t, frame.Frame)
	assert.Equal(t, byte(0x20), frame.Frame.Function)
	assert.Empty(t, frame.Frame.Payload)
}

func TestCustomFrameZeroStartMarker(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeCustom
	opts.Params.StartMarker = 0x00
	opts.StartMarkerSet = true
	s := openTestSession(t, ft, opts)
	assert.Equal(t, byte(0x00), s.Options().Params.StartMarker)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	wire, err := codec.EncodeFrame(0x00, 0x03, []byte{0x7F})
	require.NoError(t, err)
	ft.inject(wire)

	ev := nextEvent(t, sub, EventRx)
	require.NotNil(t, ev.Frame)
	assert.Equal(t, byte(0x03), ev.Frame.Function)
	assert.Equal(t, wire, ev.Data)
}

func TestZeroStartMarkerDefaultsUnlessSet(t *testing.T) {
	opts := Options{}
	assert.Equal(t, codec.DefaultStartMarker, opts.withDefaults().Params.StartMarker)

	opts.StartMarkerSet = true
	assert.Equal(t, byte(0x00), opts.withDefaults().Params.StartMarker)
}

func TestCustomFrameIncompleteFlushedAfterTimeout(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeCustom
	opts.FrameTimeout = 20 * time.Millisecond
	s := openTestSession(t, ft, opts)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	ft.inject([]byte{0xAA, 0x05, 0x01})

	ev := nextEvent(t, sub, EventRx)
	var frameErr *codec.FrameError
	require.ErrorAs(t, ev.Err, &frameErr)
	assert.Equal(t, "incomplete frame", frameErr.Reason)
	assert.Equal(t, []byte{0xAA, 0x05, 0x01}, ev.Data)
}

func TestModbusFramingBySilence(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeModbus
	s := openTestSession(t, ft, opts)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	wire, err := codec.EncodeModbus([]byte{0x01, 0x03, 0x02, 0x00, 0x0A})
	require.NoError(t, err)
	ft.inject(wire[:3], wire[3:])

	ev := nextEvent(t, sub, EventRx)
	require.NotNil(t, ev.Frame)
	assert.Equal(t, wire, ev.Data)
	assert.Equal(t, byte(0x01), ev.Frame.Address)
	assert.Equal(t, byte(0x03), ev.Frame.Function)
	assert.Equal(t, 0, sub.Queued())
}

func TestModbusBadCRCIsReported(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeModbus
	s := openTestSession(t, ft, opts)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	wire, err := codec.EncodeModbus([]byte{0x01, 0x03, 0x00, 0x00, 0x00, 0x0A})
	require.NoError(t, err)
	wire[len(wire)-1] ^= 0xFF
	ft.inject(wire)

	ev := nextEvent(t, sub, EventRx)
	var crcErr *codec.ChecksumError
	assert.ErrorAs(t, ev.Err, &crcErr)
	assert.Nil(t, ev.Frame)
	assert.NotEmpty(t, ev.Error)
}

func TestHexModeAttachesFrame(t *testing.T) {
	ft := newFakeTransport()
	opts := testOptions()
	opts.RxMode = codec.ModeHex
	s := openTestSession(t, ft, opts)
	sub, err := s.Subscribe("viewer")
	require.NoError(t, err)

	ft.inject([]byte{0xDE, 0xAD})

	ev := nextEvent(t, sub, EventRx)
	assert.Equal(t, "DE AD", ev.Hex)
	assert.Nil(t, ev.Text)
}

func TestResetCounters(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	_, err := s.Send(context.Background(), SendRequest{Payload: []byte("abc")})
	require.NoError(t, err)
	ft.inject([]byte("xy"))
	assert.Eventually(t, func() bool { return s.BytesReceived() == 2 }, time.Second, 5*time.Millisecond)

	s.ResetCounters()
	st := s.Status()
	assert.Zero(t, st.BytesSent)
	assert.Zero(t, st.BytesReceived)
	assert.Equal(t, model.SessionStateOpen, st.State)
	assert.Equal(t, "test-session", st.ID)
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	ft := newFakeTransport()
	s := openTestSession(t, ft, testOptions())

	payloads := [][]byte{
		bytes.Repeat([]byte{'a'}, 64),
		bytes.Repeat([]byte{'b'}, 64),
		bytes.Repeat([]byte{'c'}, 64),
	}
	errCh := make(chan error, len(payloads))
	for _, p := range payloads {
		go func(p []byte) {
			_, err := s.Send(context.Background(), SendRequest{Payload: p})
			errCh <- err
		}(p)
	}
	for range payloads {
		require.NoError(t, <-errCh)
	}

	written := ft.Written()
	require.Len(t, written, 192)
	for i := 0; i < len(written); i += 64 {
		assert.Equal(t, bytes.Repeat(written[i:i+1], 64), written[i:i+64])
	}
	assert.Equal(t, uint64(192), s.BytesSent())
}
