// Package signaling drives offer/answer negotiation between two peers through
// the shared directory and keeps each side's transport in step with the
// shared session document.
package signaling

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/HMasataka/logging"
	"github.com/HMasataka/mirror/internal/projector"
	"github.com/HMasataka/mirror/internal/reporter"
	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/HMasataka/mirror/pkg/retry"
	"github.com/HMasataka/mirror/pkg/transport"
)

var (
	ErrSessionInFlight   = errors.New("signaling: a session is already in flight")
	ErrNoOffer           = errors.New("signaling: no offer to answer")
	ErrAlreadyAnswered   = errors.New("signaling: offer already answered")
	ErrSessionEnded      = errors.New("signaling: session already ended")
	ErrTargetUnavailable = errors.New("signaling: target is not available")
	ErrShareFailed       = errors.New("signaling: share failed")
)

const (
	releaseTimeout = 10 * time.Second
	writeTimeout   = 10 * time.Second
)

// Config names the directory collections and tunes retries.
type Config struct {
	Sessions           string
	Receivers          string
	CallerCandidates   string
	CalleeCandidates   string
	OffererCandidates  string
	AnswererCandidates string

	ListDebounce time.Duration
	Retry        retry.Config
}

// DefaultConfig returns the collection names used by every client.
func DefaultConfig() Config {
	return Config{
		Sessions:           "connections",
		Receivers:          "receivers",
		CallerCandidates:   "callerCandidates",
		CalleeCandidates:   "calleeCandidates",
		OffererCandidates:  "offererCandidates",
		AnswererCandidates: "answererCandidates",
		ListDebounce:       250 * time.Millisecond,
		Retry:              retry.DefaultConfig(),
	}
}

// Kind tells per-call session documents from receiver registrations.
type Kind int

const (
	KindSession Kind = iota
	KindReceiver
)

// Ref names the document a session negotiates on.
type Ref struct {
	Kind Kind
	ID   string
}

// SessionRef refers to a per-call session document.
func SessionRef(id string) Ref {
	return Ref{Kind: KindSession, ID: id}
}

// ReceiverRef refers to a receiver registration.
func ReceiverRef(id string) Ref {
	return Ref{Kind: KindReceiver, ID: id}
}

// Update is delivered for every status change of a session.
type Update struct {
	SessionID  string
	Ref        Ref
	Transition projector.Transition
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithReporter sets the permission error reporter.
func WithReporter(r *reporter.Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// WithStatusHandler registers h for status updates. Handlers run in
// registration order on the session loop and must not block.
func WithStatusHandler(h func(Update)) Option {
	return func(e *Engine) {
		e.onUpdate = append(e.onUpdate, h)
	}
}

// Engine runs at most one session at a time.
type Engine struct {
	dir        directory.Directory
	transports *transport.Manager
	reporter   *reporter.Reporter
	cfg        Config
	logger     *slog.Logger
	onUpdate   []func(Update)

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	starting bool
	active   *Session
}

// New creates an engine on dir. transports owns the local transport.
func New(dir directory.Directory, transports *transport.Manager, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		dir:        dir,
		transports: transports,
		cfg:        cfg,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.reporter == nil {
		e.reporter = reporter.New(e.logger)
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())

	return e
}

// Current returns the session in flight, or nil.
func (e *Engine) Current() *Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.active == nil || e.active.Ended() {
		return nil
	}
	return e.active
}

// Busy reports whether an entry point may not be called right now.
func (e *Engine) Busy() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starting || (e.active != nil && !e.active.Ended())
}

func (e *Engine) begin() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.starting || (e.active != nil && !e.active.Ended()) {
		return ErrSessionInFlight
	}
	e.starting = true

	return nil
}

func (e *Engine) end(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.starting = false
	if s != nil {
		e.active = s
	}
}

func (e *Engine) clear(s *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == s {
		e.active = nil
	}
}

func (e *Engine) notify(u Update) {
	for _, h := range e.onUpdate {
		h(u)
	}
}

func (e *Engine) collection(kind Kind) string {
	if kind == KindReceiver {
		return e.cfg.Receivers
	}
	return e.cfg.Sessions
}

func (e *Engine) path(ref Ref) string {
	return directory.Join(e.collection(ref.Kind), ref.ID)
}

func (e *Engine) milestone(ctx context.Context, msg string, attrs ...any) {
	if logging.HasLoggingContext(ctx) {
		e.logger.InfoContext(ctx, msg, attrs...)
		return
	}
	e.logger.Info(msg, attrs...)
}

// check reports permission rejections on the side channel.
func (e *Engine) check(op directory.Operation, path string, data directory.Data, err error) error {
	return e.reporter.Check(op, path, data, err)
}

func permanent(err error) bool {
	return directory.IsPermissionDenied(err) ||
		errors.Is(err, directory.ErrNotFound) ||
		errors.Is(err, directory.ErrInvalidPath) ||
		errors.Is(err, directory.ErrClosed)
}

// writeCritical performs a write the session cannot proceed without. Only
// transient failures are retried.
func (e *Engine) writeCritical(ctx context.Context, op directory.Operation, path string, data directory.Data, write func(context.Context) error) error {
	err := retry.Do(ctx, e.cfg.Retry, func(ctx context.Context) error {
		err := write(ctx)
		if err != nil && permanent(err) {
			return retry.Permanent(err)
		}
		return err
	})
	return e.check(op, path, data, err)
}

// Close hangs up the session in flight and releases the transport.
func (e *Engine) Close() error {
	if s := e.Current(); s != nil {
		s.requestHangUp()
		<-s.Done()
	}

	e.cancel()
	e.transports.Dispose()

	return nil
}
