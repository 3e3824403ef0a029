// internal/service/monitor.go
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"serial-debugger/internal/model"
)

// RunMonitor periodically logs session activity and closes sessions that
// have stayed faulted longer than the configured retention. It returns
// when ctx is cancelled.
func (ss *SerialService) RunMonitor(ctx context.Context) {
	interval := ss.config.Session.MonitorInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ss.monitorOnce()
		}
	}
}

func (ss *SerialService) monitorOnce() {
	reaped := ss.manager.ReapFaulted(ss.config.Session.FaultedRetention)
	if reaped > 0 {
		ss.logger.Info("Reaped faulted sessions", zap.Int("count", reaped))
	}

	open, faulted, subscribers := 0, 0, 0
	for _, st := range ss.ListSessions() {
		switch st.State {
		case model.SessionStateFaulted:
			faulted++
		default:
			open++
		}
		subscribers += len(st.Subscribers)
	}

	ss.logger.Debug("Session monitor",
		zap.Int("open_sessions", open),
		zap.Int("faulted_sessions", faulted),
		zap.Int("subscribers", subscribers),
	)
}
