// internal/session/manager.go
package session

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"serial-debugger/internal/model"
	"serial-debugger/internal/protocol"
)

// TransportFactory creates a fresh, unopened transport for a new session
type TransportFactory func() protocol.Transport

// Manager owns the table of live sessions and enforces one session per port
type Manager struct {
	newTransport TransportFactory
	defaults     Options
	logger       *zap.Logger

	mutex    sync.RWMutex
	sessions map[string]*Session
	// ports maps a device path to the id of the session holding it; an empty
	// id marks a port whose open is still in progress
	ports map[string]string
}

// NewManager creates an empty session table
func NewManager(factory TransportFactory, defaults Options, logger *zap.Logger) *Manager {
	return &Manager{
		newTransport: factory,
		defaults:     defaults.withDefaults(),
		logger:       logger.With(zap.String("component", "session-manager")),
		sessions:     make(map[string]*Session),
		ports:        make(map[string]string),
	}
}

// Defaults returns the options applied to sessions opened without overrides
func (m *Manager) Defaults() Options {
	return m.defaults
}

// Open opens a session on cfg.Port unless another session already holds it
func (m *Manager) Open(cfg model.PortConfig, opts *Options) (*Session, error) {
	cfg = cfg.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	effective := m.defaults
	if opts != nil {
		effective = *opts
	}

	m.mutex.Lock()
	if _, busy := m.ports[cfg.Port]; busy {
		m.mutex.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrPortInUse, cfg.Port)
	}
	m.ports[cfg.Port] = ""
	m.mutex.Unlock()

	id := uuid.New().String()
	s, err := open(id, m.newTransport(), cfg, effective, m.logger, m.release)

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if err != nil {
		delete(m.ports, cfg.Port)
		return nil, err
	}

	m.sessions[id] = s
	m.ports[cfg.Port] = id
	if s.State().IsTerminal() {
		// faulted before it was registered
		delete(m.ports, cfg.Port)
	}

	m.logger.Info("Session opened",
		zap.String("session_id", id),
		zap.String("port", cfg.Port),
		zap.Int("active_sessions", len(m.sessions)),
	)
	return s, nil
}

// release frees the port of a session that reached a terminal state so a
// new session can open it; a faulted session stays listed until closed
func (m *Manager) release(s *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.ports[s.Port()] == s.ID() {
		delete(m.ports, s.Port())
	}
	if s.State() == model.SessionStateClosed {
		delete(m.sessions, s.ID())
	}
}

// Get returns the session with the given id
func (m *Manager) Get(id string) (*Session, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Close closes and forgets a session
func (m *Manager) Close(id string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	closeErr := s.Close()

	m.mutex.Lock()
	delete(m.sessions, id)
	if m.ports[s.Port()] == id {
		delete(m.ports, s.Port())
	}
	remaining := len(m.sessions)
	m.mutex.Unlock()

	m.logger.Info("Session closed",
		zap.String("session_id", id),
		zap.Int("active_sessions", remaining),
	)
	return closeErr
}

// List returns all sessions ordered by creation time
func (m *Manager) List() []*Session {
	m.mutex.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt().Before(out[j].CreatedAt()) })
	return out
}

// ReapFaulted closes faulted sessions whose creation is older than retention
func (m *Manager) ReapFaulted(retention time.Duration) int {
	reaped := 0
	for _, s := range m.List() {
		if !s.IsFaulted() || time.Since(s.CreatedAt()) < retention {
			continue
		}
		if err := m.Close(s.ID()); err != nil {
			m.logger.Warn("Failed to reap faulted session", zap.String("session_id", s.ID()), zap.Error(err))
			continue
		}
		reaped++
	}
	return reaped
}

// CloseAll closes every session, collecting all failures
func (m *Manager) CloseAll() error {
	var result *multierror.Error
	for _, s := range m.List() {
		if err := m.Close(s.ID()); err != nil {
			result = multierror.Append(result, fmt.Errorf("session %s: %w", s.ID(), err))
		}
	}
	return result.ErrorOrNil()
}
