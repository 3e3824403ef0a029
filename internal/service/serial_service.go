// internal/service/serial_service.go
package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"serial-debugger/internal/codec"
	"serial-debugger/internal/config"
	"serial-debugger/internal/discovery"
	"serial-debugger/internal/model"
	"serial-debugger/internal/session"
	"serial-debugger/internal/utils"
)

// PortLister enumerates the serial ports of the host
type PortLister interface {
	ScanAll(ctx context.Context) ([]*discovery.PortInfo, error)
}

// SerialService is the operation set shared by the HTTP API, the WebSocket
// viewers and the CLI
type SerialService struct {
	manager     *session.Manager
	ports       PortLister
	config      *config.Config
	options     session.Options
	logger      *utils.ServiceLogger
	auditLogger *utils.AuditLogger
}

// NewSerialService creates a new serial service instance
func NewSerialService(
	manager *session.Manager,
	ports PortLister,
	cfg *config.Config,
	logger *zap.Logger,
) (*SerialService, error) {
	opts, err := SessionOptions(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid session options: %w", err)
	}

	return &SerialService{
		manager:     manager,
		ports:       ports,
		config:      cfg,
		options:     opts,
		logger:      utils.NewServiceLogger(logger, "serial-service"),
		auditLogger: utils.NewAuditLogger(logger),
	}, nil
}

// ListPorts returns the host's serial ports, marking those held by a session
func (ss *SerialService) ListPorts(ctx context.Context) ([]*discovery.PortInfo, error) {
	ports, err := ss.ports.ScanAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list ports: %w", err)
	}

	held := make(map[string]string)
	for _, s := range ss.manager.List() {
		if !s.State().IsTerminal() {
			held[s.Port()] = s.ID()
		}
	}
	for _, p := range ports {
		if id, ok := held[p.Name]; ok {
			p.InUse = true
			p.SessionID = id
		}
	}
	return ports, nil
}

// OpenSession opens a session on the requested port
func (ss *SerialService) OpenSession(ctx context.Context, req OpenSessionRequest) (*session.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg, err := req.PortConfig(ss.config.Serial)
	if err != nil {
		ss.auditLogger.LogSessionOpened("", cfg, req.Origin, false, err)
		return nil, err
	}

	opts := ss.options
	if req.RxMode != "" {
		mode, err := codec.ParseMode(req.RxMode)
		if err != nil {
			return nil, err
		}
		opts.RxMode = mode
	}
	if req.StartMarker != nil {
		if *req.StartMarker < 0 || *req.StartMarker > 0xFF {
			return nil, fmt.Errorf("%w: start marker must be between 0x00 and 0xFF", model.ErrInvalidConfig)
		}
		opts.Params.StartMarker = byte(*req.StartMarker)
		opts.StartMarkerSet = true
	}
	if req.QueueSize > 0 {
		opts.QueueSize = req.QueueSize
	}

	s, err := ss.manager.Open(cfg, &opts)
	if err != nil {
		ss.auditLogger.LogSessionOpened("", cfg, req.Origin, false, err)
		ss.logger.Warn("Failed to open session", zap.String("port", cfg.Port), zap.Error(err))
		return nil, err
	}

	ss.auditLogger.LogSessionOpened(s.ID(), s.Config(), req.Origin, true, nil)
	ss.logger.Info("Session opened",
		zap.String("session_id", s.ID()),
		zap.String("config", s.Config().String()),
		zap.String("rx_mode", string(opts.RxMode)),
	)
	return s, nil
}

// GetSession returns a live or faulted session
func (ss *SerialService) GetSession(id string) (*session.Session, error) {
	return ss.manager.Get(id)
}

// CloseSession closes a session and releases its port
func (ss *SerialService) CloseSession(id, origin string) error {
	s, err := ss.manager.Get(id)
	if err != nil {
		return err
	}
	sent, received := s.BytesSent(), s.BytesReceived()

	if err := ss.manager.Close(id); err != nil {
		ss.logger.Warn("Session closed with error", zap.String("session_id", id), zap.Error(err))
		ss.auditLogger.LogSessionClosed(id, s.Port(), origin, sent, received)
		return err
	}

	ss.auditLogger.LogSessionClosed(id, s.Port(), origin, sent, received)
	return nil
}

// Reconfigure applies a partial line configuration change
func (ss *SerialService) Reconfigure(id string, update model.PortUpdate) (model.PortConfig, error) {
	s, err := ss.manager.Get(id)
	if err != nil {
		return model.PortConfig{}, err
	}

	old := s.Config()
	next := update.Apply(old)
	err = s.Reconfigure(next)
	ss.auditLogger.LogSessionReconfigured(id, old, next, err == nil)
	if err != nil {
		return s.Config(), err
	}
	return s.Config(), nil
}

// Send writes one payload to the session's port
func (ss *SerialService) Send(ctx context.Context, id string, req session.SendRequest) (*session.SendResult, error) {
	s, err := ss.manager.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Send(ctx, req)
}

// SendFile starts a chunked transfer of r; chunkSize zero uses the configured size
func (ss *SerialService) SendFile(id, name string, r io.Reader, total int64, chunkSize int) (*session.Transfer, error) {
	s, err := ss.manager.Get(id)
	if err != nil {
		return nil, err
	}
	if chunkSize <= 0 {
		chunkSize = ss.config.Transfer.ChunkSize
	}
	return s.SendFile(name, r, total, chunkSize)
}

// Transfer returns a transfer of a session
func (ss *SerialService) Transfer(id, transferID string) (*session.Transfer, error) {
	s, err := ss.manager.Get(id)
	if err != nil {
		return nil, err
	}
	return s.Transfer(transferID)
}

// CancelTransfer asks a running transfer to stop
func (ss *SerialService) CancelTransfer(id, transferID string) (*session.Transfer, error) {
	t, err := ss.Transfer(id, transferID)
	if err != nil {
		return nil, err
	}
	t.Cancel()
	ss.logger.Info("Transfer cancel requested", zap.String("session_id", id), zap.String("transfer_id", transferID))
	return t, nil
}

// StartAutoSend starts re-sending template every interval
func (ss *SerialService) StartAutoSend(id string, template session.SendRequest, interval time.Duration) error {
	s, err := ss.manager.Get(id)
	if err != nil {
		return err
	}
	return s.StartAutoSend(template, interval)
}

// StopAutoSend stops the periodic sender of a session
func (ss *SerialService) StopAutoSend(id string) error {
	s, err := ss.manager.Get(id)
	if err != nil {
		return err
	}
	s.StopAutoSend()
	return nil
}

// Subscribe registers a consumer of a session's events
func (ss *SerialService) Subscribe(id, name string) (*session.Session, *session.Subscriber, error) {
	s, err := ss.manager.Get(id)
	if err != nil {
		return nil, nil, err
	}
	sub, err := s.Subscribe(name)
	if err != nil {
		return nil, nil, err
	}
	return s, sub, nil
}

// Unsubscribe removes a consumer
func (ss *SerialService) Unsubscribe(id, subscriberID string) error {
	s, err := ss.manager.Get(id)
	if err != nil {
		return err
	}
	if !s.Unsubscribe(subscriberID) {
		return fmt.Errorf("subscriber %s not found", subscriberID)
	}
	return nil
}

// Status returns the status snapshot of a session
func (ss *SerialService) Status(id string) (model.SessionStatus, error) {
	s, err := ss.manager.Get(id)
	if err != nil {
		return model.SessionStatus{}, err
	}
	return s.Status(), nil
}

// ListSessions returns the status of every session in creation order
func (ss *SerialService) ListSessions() []model.SessionStatus {
	sessions := ss.manager.List()
	out := make([]model.SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Status())
	}
	return out
}

// ResetCounters zeroes the byte counters of a session
func (ss *SerialService) ResetCounters(id string) error {
	s, err := ss.manager.Get(id)
	if err != nil {
		return err
	}
	s.ResetCounters()
	return nil
}

// CloseAll closes every session, reporting every failure
func (ss *SerialService) CloseAll() error {
	return ss.manager.CloseAll()
}
