package transport

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrLeaseRevoked is returned when a disposed lease is used.
var ErrLeaseRevoked = errors.New("transport: lease revoked")

// Stopper is a locally held resource (a capture stream) released with the transport.
type Stopper interface {
	Stop()
}

// Factory constructs a fresh Transport.
type Factory func() (Transport, error)

type ManagerOption func(*Manager)

// WithFactory replaces the pion-backed transport constructor.
func WithFactory(f Factory) ManagerOption {
	return func(m *Manager) {
		m.factory = f
	}
}

// WithLogger sets the logger of the manager and its transports.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager owns the single live Transport of the process. A new Acquire always
// disposes the previous lease before constructing the next transport.
type Manager struct {
	acquireMu sync.Mutex

	mu         sync.Mutex
	current    *Lease
	generation uint64

	factory Factory
	logger  *slog.Logger
}

// NewManager creates a manager that builds transports from cfg.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{logger: slog.Default()}

	for _, opt := range opts {
		opt(m)
	}

	if m.factory == nil {
		m.factory = func() (Transport, error) {
			return NewPeerConnection(cfg, m.logger)
		}
	}

	return m
}

// Acquire disposes any outstanding lease and returns a lease on a new transport.
func (m *Manager) Acquire() (*Lease, error) {
	m.acquireMu.Lock()
	defer m.acquireMu.Unlock()

	m.Dispose()

	t, err := m.factory()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.generation++
	lease := &Lease{
		transport:  t,
		generation: m.generation,
		manager:    m,
		disposed:   make(chan struct{}),
	}
	m.current = lease
	m.mu.Unlock()

	m.logger.Debug("transport acquired", slog.Uint64("generation", lease.generation))

	return lease, nil
}

// Dispose releases the outstanding lease, if any.
func (m *Manager) Dispose() {
	m.mu.Lock()
	current := m.current
	m.mu.Unlock()

	if current != nil {
		current.Dispose()
	}
}

// Current returns the outstanding lease or nil.
func (m *Manager) Current() *Lease {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager) release(l *Lease) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == l {
		m.current = nil
	}
}

// Lease is exclusive use of one transport until Dispose.
type Lease struct {
	transport  Transport
	generation uint64
	manager    *Manager

	held   []Stopper
	heldMu sync.Mutex

	once     sync.Once
	revoked  atomic.Bool
	disposed chan struct{}
}

// Transport returns the leased transport
func (l *Lease) Transport() Transport {
	return l.transport
}

// Generation returns the sequence number of the lease.
func (l *Lease) Generation() uint64 {
	return l.generation
}

// Err returns ErrLeaseRevoked once the lease has been disposed.
func (l *Lease) Err() error {
	if l.revoked.Load() {
		return ErrLeaseRevoked
	}
	return nil
}

// Disposed is closed after teardown has finished.
func (l *Lease) Disposed() <-chan struct{} {
	return l.disposed
}

// Hold ties s to the lease; it is stopped on Dispose. Holding on a disposed
// lease stops s immediately.
func (l *Lease) Hold(s Stopper) {
	l.heldMu.Lock()
	if l.revoked.Load() {
		l.heldMu.Unlock()
		s.Stop()
		return
	}
	l.held = append(l.held, s)
	l.heldMu.Unlock()
}

// Dispose detaches handlers, stops every track and held stream, and closes the
// transport. Only the first call has any effect.
func (l *Lease) Dispose() {
	l.once.Do(func() {
		l.heldMu.Lock()
		l.revoked.Store(true)
		held := l.held
		l.held = nil
		l.heldMu.Unlock()

		l.transport.ClearHandlers()
		l.transport.StopTracks()

		for _, s := range held {
			s.Stop()
		}

		if err := l.transport.Close(); err != nil {
			l.manager.logger.Warn("failed to close transport", slog.Uint64("generation", l.generation), slog.Any("error", err))
		}

		l.manager.release(l)
		close(l.disposed)

		l.manager.logger.Debug("transport disposed", slog.Uint64("generation", l.generation))
	})
}
