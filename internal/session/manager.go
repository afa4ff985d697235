package session

import (
	"errors"
	"fmt"
	"sync"

	"trafficcounter/internal/logger"
)

// ErrUnknownStream is returned for names no factory was registered for.
var ErrUnknownStream = errors.New("unknown stream")

// Factory opens the source and builds a new, not yet started session.
type Factory func() (*Session, error)

// Manager owns the named sessions of a process. A session is created when a
// consumer first asks for it and is created again when a consumer asks after
// the previous one has ended.
type Manager struct {
	mu        sync.Mutex
	factories map[string]Factory
	sessions  map[string]*Session
	opening   map[string]*opening
	closed    bool
	logger    *logger.Logger
}

// opening tracks a factory call in progress. Callers asking for the same
// stream meanwhile wait on done and share the outcome.
type opening struct {
	done    chan struct{}
	session *Session
	err     error
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		factories: make(map[string]Factory),
		sessions:  make(map[string]*Session),
		opening:   make(map[string]*opening),
		logger:    log,
	}
}

// Register associates a stream name with the factory that builds its sessions.
func (m *Manager) Register(name string, factory Factory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.factories[name] = factory
}

// Names returns the registered stream names.
func (m *Manager) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.factories))
	for name := range m.factories {
		names = append(names, name)
	}
	return names
}

// Get returns the running session for name, starting a new one if there is
// none or the last one has ended. Factories run without the manager lock, so
// a slow source open only delays callers of the same stream. A factory may
// itself call Get for another stream.
func (m *Manager) Get(name string) (*Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("start stream %s: %w", name, ErrClosed)
	}
	if s, ok := m.sessions[name]; ok && !s.Closed() {
		m.mu.Unlock()
		return s, nil
	}
	if op, ok := m.opening[name]; ok {
		m.mu.Unlock()
		<-op.done
		return op.session, op.err
	}
	factory, ok := m.factories[name]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
	}
	op := &opening{done: make(chan struct{})}
	m.opening[name] = op
	m.mu.Unlock()

	s, err := factory()

	m.mu.Lock()
	delete(m.opening, name)
	switch {
	case err != nil:
		op.err = fmt.Errorf("start stream %s: %w", name, err)
	case m.closed:
		// Close ran while the source was opening
		op.err = fmt.Errorf("start stream %s: %w", name, ErrClosed)
	default:
		s.Start()
		m.sessions[name] = s
		op.session = s
	}
	m.mu.Unlock()
	close(op.done)

	if op.session != nil {
		m.logger.Info("Started session %s for stream %s", s.ID(), name)
	} else if err == nil {
		if rerr := s.Release(); rerr != nil {
			m.logger.Warning("Release session %s: %v", s.ID(), rerr)
		}
		s.closeProcessor()
	}
	return op.session, op.err
}

// Lookup returns the current session for name without creating one.
func (m *Manager) Lookup(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Close releases every session and waits for their capture goroutines. Get
// fails with ErrClosed afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.closed = true
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Release(); err != nil {
			m.logger.Warning("Release session %s: %v", s.ID(), err)
		}
		<-s.Done()
	}
}
