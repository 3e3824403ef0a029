// internal/session/autosend.go
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"serial-debugger/internal/model"
)

// Auto-send interval bounds
const (
	MinAutoSendInterval = time.Millisecond
	MaxAutoSendInterval = 999999 * time.Millisecond
)

// SendFunc performs one scheduled send
type SendFunc func(ctx context.Context) error

// Scheduler fires a send on a fixed interval. A tick that finds the
// previous send still pending is skipped rather than queued.
type Scheduler struct {
	logger *zap.Logger
	onSkip func(skipped uint64)

	mutex    sync.Mutex
	running  bool
	closed   bool
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	inflight sync.WaitGroup

	busy    atomic.Bool
	fired   atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

// NewScheduler creates an idle scheduler; onSkip may be nil
func NewScheduler(logger *zap.Logger, onSkip func(skipped uint64)) *Scheduler {
	return &Scheduler{
		logger: logger.With(zap.String("component", "auto-send")),
		onSkip: onSkip,
	}
}

// Start begins firing send every interval, replacing any running schedule.
// A closed scheduler refuses with ErrSessionClosed.
func (sc *Scheduler) Start(interval time.Duration, send SendFunc) error {
	if interval < MinAutoSendInterval || interval > MaxAutoSendInterval {
		return ErrInvalidInterval
	}

	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	if sc.closed {
		return ErrSessionClosed
	}
	sc.stopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	sc.running = true
	sc.interval = interval
	sc.cancel = cancel
	sc.done = make(chan struct{})
	sc.fired.Store(0)
	sc.skipped.Store(0)
	sc.failed.Store(0)

	go sc.run(ctx, interval, send, sc.done)

	sc.logger.Info("Auto-send started", zap.Duration("interval", interval))
	return nil
}

func (sc *Scheduler) run(ctx context.Context, interval time.Duration, send SendFunc, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if !sc.busy.CAS(false, true) {
			n := sc.skipped.Inc()
			sc.logger.Debug("Auto-send tick skipped, previous send still pending", zap.Uint64("skipped", n))
			if sc.onSkip != nil {
				sc.onSkip(n)
			}
			continue
		}

		sc.fired.Inc()
		sc.inflight.Add(1)
		go func() {
			defer sc.inflight.Done()
			defer sc.busy.Store(false)
			if err := send(ctx); err != nil && ctx.Err() == nil {
				sc.failed.Inc()
				sc.logger.Warn("Auto-send failed", zap.Error(err))
			}
		}()
	}
}

// Stop halts the schedule and waits for a send in progress; stopping an
// idle scheduler is a no-op
func (sc *Scheduler) Stop() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.stopLocked()
}

// Close stops the schedule for good. The owning session calls it on shutdown
// so a Start racing the close cannot leave a ticker behind.
func (sc *Scheduler) Close() {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()
	sc.closed = true
	sc.stopLocked()
}

// stopLocked requires sc.mutex. The run loop and in-flight sends never take
// the mutex, so waiting on them here cannot deadlock.
func (sc *Scheduler) stopLocked() {
	if !sc.running {
		return
	}
	sc.running = false

	sc.cancel()
	<-sc.done
	sc.inflight.Wait()
	sc.logger.Info("Auto-send stopped",
		zap.Uint64("fired", sc.fired.Load()),
		zap.Uint64("skipped", sc.skipped.Load()),
	)
}

// Status returns the schedule and its counters
func (sc *Scheduler) Status() model.AutoSendStatus {
	sc.mutex.Lock()
	defer sc.mutex.Unlock()

	return model.AutoSendStatus{
		Running:  sc.running,
		Interval: sc.interval,
		Fired:    sc.fired.Load(),
		Skipped:  sc.skipped.Load(),
		Failed:   sc.failed.Load(),
	}
}
