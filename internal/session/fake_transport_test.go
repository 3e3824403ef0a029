package session

import (
	"sync"
	"time"

	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
)

// fakeTransport is an in-memory Transport. Bytes queued with inject are
// returned by PollRead; an empty poll waits a couple of milliseconds like a
// driver read timeout would.
type fakeTransport struct {
	mu         sync.Mutex
	open       bool
	cfg        model.PortConfig
	applied    []model.PortConfig
	written    []byte
	writes     int
	openErr    error
	writeErr   error
	readErr    error
	applyErr   error
	writeDelay time.Duration
	respond    func(p []byte) []byte
	closeCalls int

	rx chan []byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rx: make(chan []byte, 64)}
}

func (f *fakeTransport) inject(chunks ...[]byte) {
	for _, c := range chunks {
		f.rx <- c
	}
}

func (f *fakeTransport) Open(cfg model.PortConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.open = true
	f.cfg = cfg
	return nil
}

func (f *fakeTransport) ApplyConfig(cfg model.PortConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.cfg = cfg
	f.applied = append(f.applied, cfg)
	return nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	delay, err, respond := f.writeDelay, f.writeErr, f.respond
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return 0, err
	}

	f.mu.Lock()
	f.written = append(f.written, p...)
	f.writes++
	f.mu.Unlock()

	if respond != nil {
		if reply := respond(p); reply != nil {
			f.rx <- reply
		}
	}
	return len(p), nil
}

func (f *fakeTransport) PollRead(p []byte) (int, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		time.Sleep(time.Millisecond)
		return 0, err
	}

	select {
	case chunk := <-f.rx:
		return copy(p, chunk), nil
	case <-time.After(2 * time.Millisecond):
		return 0, nil
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.open = false
	return nil
}

func (f *fakeTransport) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) setReadErr(err error) {
	f.mu.Lock()
	f.readErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) Written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.written...)
}

var _ protocol.Transport = (*fakeTransport)(nil)
