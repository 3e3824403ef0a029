// internal/session/session.go
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
	"serial-debugger/internal/utils"
)

// SendRequest describes one send. Payload is interpreted according to Mode:
// raw bytes, hex text, a Modbus PDU without CRC, or a custom frame body.
type SendRequest struct {
	Mode            codec.Mode
	Payload         []byte
	Command         byte
	AppendNewline   bool
	WaitForResponse bool
	Timeout         time.Duration
}

// SendResult reports what a send put on the wire and, if requested, the reply
type SendResult struct {
	BytesWritten int    `json:"bytes_written"`
	Wire         []byte `json:"-"`
	Response     *Event `json:"response,omitempty"`
}

// Session owns one open port: it serializes writes, runs the read loop and
// fans received data out to its subscribers.
type Session struct {
	id        string
	createdAt time.Time
	opts      Options
	transport protocol.Transport
	registry  *Registry
	scheduler *Scheduler
	logger    *utils.SessionLogger

	ctx    context.Context
	cancel context.CancelFunc

	// lifecycleMu excludes Close and Reconfigure from each other
	lifecycleMu sync.Mutex
	// sendMu admits one physical write at a time
	sendMu sync.Mutex
	// ioMu pauses the read loop while the port is reconfigured
	ioMu sync.RWMutex

	stateMu sync.RWMutex
	state   model.SessionState
	config  model.PortConfig
	fault   error

	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64

	waitMu     sync.Mutex
	waiters    map[uint64]chan *Event
	nextWaiter uint64

	transferMu  sync.Mutex
	transfers   map[string]*Transfer
	transferIDs []string

	stop         chan struct{}
	loopDone     chan struct{}
	done         chan struct{}
	shutdownOnce sync.Once
	onTerminal   func(*Session)
}

// Open acquires the port through transport and starts the read loop.
// On failure nothing is left running and the port is released.
func Open(id string, transport protocol.Transport, cfg model.PortConfig, opts Options, logger *zap.Logger) (*Session, error) {
	return open(id, transport, cfg, opts, logger, nil)
}

func open(id string, transport protocol.Transport, cfg model.PortConfig, opts Options, logger *zap.Logger, onTerminal func(*Session)) (*Session, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts = opts.withDefaults()

	s := &Session{
		id:         id,
		createdAt:  time.Now(),
		opts:       opts,
		transport:  transport,
		registry:   NewRegistry(opts.QueueSize),
		logger:     utils.NewSessionLogger(logger, id, cfg.Port),
		state:      model.SessionStateOpening,
		config:     cfg,
		waiters:    make(map[uint64]chan *Event),
		transfers:  make(map[string]*Transfer),
		stop:       make(chan struct{}),
		loopDone:   make(chan struct{}),
		done:       make(chan struct{}),
		onTerminal: onTerminal,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.scheduler = NewScheduler(s.logger.Logger, s.publishTickSkipped)

	if err := transport.Open(cfg); err != nil {
		s.cancel()
		s.setState(model.SessionStateClosed, nil)
		s.logger.LogConnection("open", false, err)
		return nil, err
	}

	s.setState(model.SessionStateOpen, nil)
	s.logger.LogConnection("open", true, nil)
	go s.readLoop()
	return s, nil
}

// ID returns the session identifier
func (s *Session) ID() string { return s.id }

// Port returns the device path this session owns
func (s *Session) Port() string { return s.Config().Port }

// CreatedAt returns when the session was opened
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Config returns the line configuration currently applied
func (s *Session) Config() model.PortConfig {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.config
}

// State returns the current lifecycle state
func (s *Session) State() model.SessionState {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Fault returns the error that faulted the session, if any
func (s *Session) Fault() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.fault
}

// Done is closed once the session reached closed or faulted
func (s *Session) Done() <-chan struct{} { return s.done }

// Options returns the engine options of this session
func (s *Session) Options() Options { return s.opts }

func (s *Session) setState(state model.SessionState, cause error) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	if state == model.SessionStateFaulted {
		s.fault = cause
	}
	s.stateMu.Unlock()

	if prev != state {
		s.logger.LogStateChange(string(prev), string(state), cause)
	}
}

// usable returns nil when the session accepts sends and reconfiguration
func (s *Session) usable() error {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	switch s.state {
	case model.SessionStateOpen, model.SessionStateReconfiguring:
		return nil
	case model.SessionStateFaulted:
		return fmt.Errorf("%w: %v", ErrSessionFaulted, s.fault)
	default:
		return ErrSessionClosed
	}
}

// Subscribe registers a new consumer of this session's events
func (s *Session) Subscribe(name string) (*Subscriber, error) {
	sub, err := s.registry.Register(name)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("Subscriber registered", zap.String("subscriber_id", sub.ID), zap.String("name", name))
	return sub, nil
}

// Unsubscribe removes a consumer; its queue is closed
func (s *Session) Unsubscribe(subscriberID string) bool {
	ok := s.registry.Unregister(subscriberID)
	if ok {
		s.logger.Debug("Subscriber removed", zap.String("subscriber_id", subscriberID))
	}
	return ok
}

// Send encodes req and writes it to the port. With WaitForResponse set it
// registers a waiter before the write and returns the first received event
// published after that registration.
func (s *Session) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}

	wire, err := s.encode(req)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.opts.ResponseTimeout
	}
	return s.write(ctx, wire, req.WaitForResponse, timeout)
}

func (s *Session) encode(req SendRequest) ([]byte, error) {
	mode := req.Mode
	if mode == "" {
		mode = codec.ModeRaw
	}

	payload := req.Payload
	if req.AppendNewline && mode == codec.ModeRaw {
		payload = append(append(make([]byte, 0, len(payload)+2), payload...), '\r', '\n')
	}

	params := s.opts.Params
	params.Command = req.Command
	wire, err := codec.Encode(mode, payload, params)
	if err != nil {
		return nil, err
	}
	if len(wire) == 0 {
		return nil, &codec.EncodingError{Mode: mode, Reason: "empty payload"}
	}
	return wire, nil
}

func (s *Session) write(ctx context.Context, wire []byte, wait bool, timeout time.Duration) (*SendResult, error) {
	s.sendMu.Lock()
	if err := s.usable(); err != nil {
		s.sendMu.Unlock()
		return nil, err
	}

	var (
		waiterID uint64
		reply    chan *Event
	)
	if wait {
		waiterID, reply = s.addWaiter()
	}

	n, err := s.transport.Write(wire)
	if n > 0 {
		s.bytesSent.Add(uint64(n))
		s.registry.Publish(newDataEvent(EventTx, s.id, wire[:n], nil, nil))
		s.logger.LogTraffic("tx", n)
	}
	s.sendMu.Unlock()

	if err != nil {
		if wait {
			s.removeWaiter(waiterID)
		}
		// auto-send and transfers write from goroutines that shutdown waits on
		go s.fail(err)
		return nil, err
	}

	result := &SendResult{BytesWritten: n, Wire: wire}
	if !wait {
		return result, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-reply:
		result.Response = ev
		return result, nil
	case <-timer.C:
		s.removeWaiter(waiterID)
		return result, &TimeoutError{After: timeout}
	case <-ctx.Done():
		s.removeWaiter(waiterID)
		return result, ctx.Err()
	case <-s.done:
		s.removeWaiter(waiterID)
		if err := s.usable(); err != nil {
			return result, err
		}
		return result, ErrSessionClosed
	}
}

func (s *Session) addWaiter() (uint64, chan *Event) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	s.nextWaiter++
	ch := make(chan *Event, 1)
	s.waiters[s.nextWaiter] = ch
	return s.nextWaiter, ch
}

func (s *Session) removeWaiter(id uint64) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()
	delete(s.waiters, id)
}

// answerWaiters hands ev to every pending wait-for-response send
func (s *Session) answerWaiters(ev *Event) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	for id, ch := range s.waiters {
		ch <- ev
		delete(s.waiters, id)
	}
}

// Reconfigure applies cfg to the open port. The read loop is paused and
// sends queue behind the send lock until the new settings are in place.
func (s *Session) Reconfigure(cfg model.PortConfig) error {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Port != s.Port() {
		return fmt.Errorf("%w: cannot move session from %s to %s", model.ErrInvalidConfig, s.Port(), cfg.Port)
	}

	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()

	if err := s.usable(); err != nil {
		return err
	}

	s.sendMu.Lock()
	s.ioMu.Lock()
	old := s.Config()
	s.setState(model.SessionStateReconfiguring, nil)
	s.registry.Publish(newStateEvent(s.id, model.SessionStateReconfiguring, nil))

	err := s.transport.ApplyConfig(cfg)
	if err == nil {
		s.stateMu.Lock()
		s.config = cfg
		s.stateMu.Unlock()
	}
	s.setState(model.SessionStateOpen, nil)
	s.ioMu.Unlock()
	s.sendMu.Unlock()

	if err != nil {
		s.logger.LogConnection("reconfigure", false, err)
		if protocol.IsFatal(err) {
			s.fail(err)
		} else {
			s.registry.Publish(newStateEvent(s.id, model.SessionStateOpen, err))
		}
		return err
	}

	s.logger.LogConfigChange(old, cfg)
	s.registry.Publish(newStateEvent(s.id, model.SessionStateOpen, nil))
	return nil
}

// Close drains the in-flight send, stops background work, releases the port
// and tells every subscriber the session ended. Closing twice is a no-op.
func (s *Session) Close() error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	return s.shutdown(model.SessionStateClosed, nil)
}

// fail moves the session to faulted after an unrecoverable transport error.
// It must not be called from the read loop or a scheduled send.
func (s *Session) fail(cause error) {
	s.logger.LogConnection("fault", false, cause)
	_ = s.shutdown(model.SessionStateFaulted, cause)
}

func (s *Session) shutdown(final model.SessionState, cause error) error {
	var closeErr error
	s.shutdownOnce.Do(func() {
		if final == model.SessionStateClosed {
			s.setState(model.SessionStateClosing, nil)
		}

		s.scheduler.Close()
		s.cancelTransfers()
		s.cancel()
		close(s.stop)

		s.sendMu.Lock()
		<-s.loopDone
		closeErr = s.transport.Close()
		s.sendMu.Unlock()

		s.setState(final, cause)
		close(s.done)
		s.registry.CloseAll(newStateEvent(s.id, final, cause))

		if final == model.SessionStateClosed {
			s.logger.LogConnection("close", closeErr == nil, closeErr)
		}
		if s.onTerminal != nil {
			s.onTerminal(s)
		}
	})
	return closeErr
}

// readLoop polls the transport until the session stops or the port fails
func (s *Session) readLoop() {
	defer close(s.loopDone)

	buf := make([]byte, s.opts.ReadBufferSize)
	retry := &backoff.Backoff{
		Min:    s.opts.RetryMinBackoff,
		Max:    s.opts.RetryMaxBackoff,
		Factor: 2,
		Jitter: true,
	}
	fr := newFramer(s.opts.RxMode, s.opts.Params.StartMarker)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.ioMu.RLock()
		n, err := s.transport.PollRead(buf)
		s.ioMu.RUnlock()

		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}
			if protocol.IsFatal(err) || int(retry.Attempt()) >= s.opts.MaxReadRetries {
				s.flush(fr.drain())
				go s.fail(err)
				return
			}
			wait := retry.Duration()
			s.logger.Warn("Transient read error, retrying", zap.Error(err), zap.Duration("backoff", wait))
			select {
			case <-s.stop:
				return
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		now := time.Now()
		if n == 0 {
			gap := s.opts.FrameTimeout
			if s.opts.RxMode == codec.ModeModbus {
				gap = modbusGap(s.Config().BaudRate, s.opts.PollInterval)
			}
			s.flush(fr.idle(now, gap))
			continue
		}

		s.bytesReceived.Add(uint64(n))
		s.logger.LogTraffic("rx", n)
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		s.flush(fr.push(chunk, now))
	}
}

// flush publishes received units in order and answers pending waiters
func (s *Session) flush(units []rxUnit) {
	for _, u := range units {
		ev := newDataEvent(EventRx, s.id, u.data, u.frame, u.err)
		s.registry.Publish(ev)
		s.answerWaiters(ev)
	}
}

func (s *Session) publishTickSkipped(skipped uint64) {
	s.registry.Publish(&Event{
		Kind:      EventTickSkipped,
		SessionID: s.id,
		Timestamp: time.Now(),
		Skipped:   skipped,
	})
}

// StartAutoSend re-sends req every interval until stopped. Ticks that find
// the previous send still running are skipped and reported.
func (s *Session) StartAutoSend(req SendRequest, interval time.Duration) error {
	if err := s.usable(); err != nil {
		return err
	}
	if _, err := s.encode(req); err != nil {
		return err
	}

	return s.scheduler.Start(interval, func(ctx context.Context) error {
		_, err := s.Send(ctx, req)
		return err
	})
}

// StopAutoSend stops the periodic sender; it is safe when none is running
func (s *Session) StopAutoSend() {
	s.scheduler.Stop()
}

// AutoSendStatus returns the periodic sender counters
func (s *Session) AutoSendStatus() model.AutoSendStatus {
	return s.scheduler.Status()
}

// BytesSent returns the bytes written since open or the last reset
func (s *Session) BytesSent() uint64 { return s.bytesSent.Load() }

// BytesReceived returns the bytes read since open or the last reset
func (s *Session) BytesReceived() uint64 { return s.bytesReceived.Load() }

// ResetCounters zeroes both byte counters
func (s *Session) ResetCounters() {
	s.bytesSent.Store(0)
	s.bytesReceived.Store(0)
	s.logger.Info("Byte counters reset")
}

// Status returns a consistent snapshot of the session
func (s *Session) Status() model.SessionStatus {
	s.stateMu.RLock()
	st := model.SessionStatus{
		ID:        s.id,
		Config:    s.config,
		State:     s.state,
		RxMode:    string(s.opts.RxMode),
		CreatedAt: s.createdAt,
	}
	if s.fault != nil {
		st.Fault = s.fault.Error()
	}
	s.stateMu.RUnlock()

	st.BytesSent = s.bytesSent.Load()
	st.BytesReceived = s.bytesReceived.Load()
	st.Subscribers = s.registry.Status()
	st.AutoSend = s.scheduler.Status()
	st.Transfers = s.TransferStatus()
	return st
}

// IsFaulted reports whether the session ended on a transport error
func (s *Session) IsFaulted() bool {
	return s.State() == model.SessionStateFaulted
}
