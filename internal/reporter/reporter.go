// Package reporter is the side channel on which rejected directory operations
// are published for the user or an operator to see.
package reporter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/HMasataka/mirror/pkg/directory"
	"github.com/gammazero/workerpool"
)

// PermissionError describes a directory operation rejected by access rules.
type PermissionError struct {
	Path          string
	Operation     directory.Operation
	AttemptedData directory.Data
	Err           error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// Handler receives one rejection.
type Handler func(PermissionError)

// Reporter fans permission errors out to its subscribers on a single worker,
// so handlers see events in emission order and never block the emitter.
type Reporter struct {
	logger *slog.Logger
	pool   *workerpool.WorkerPool

	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	closed   bool
}

// New creates a reporter that logs on logger, or slog.Default when nil.
func New(logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		logger:   logger,
		pool:     workerpool.New(1),
		handlers: make(map[int]Handler),
	}
}

// Subscribe registers h. The returned function removes it.
func (r *Reporter) Subscribe(h Handler) func() {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.handlers[id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.handlers, id)
		})
	}
}

// Emit publishes e.
func (r *Reporter) Emit(e PermissionError) {
	r.logger.Warn("directory operation rejected",
		slog.String("path", e.Path),
		slog.String("operation", string(e.Operation)),
		slog.Any("error", e.Err),
	)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || len(r.handlers) == 0 {
		return
	}

	handlers := make([]Handler, 0, len(r.handlers))
	for _, h := range r.handlers {
		handlers = append(handlers, h)
	}

	// Submit under mu so Close cannot stop the pool in between.
	r.pool.Submit(func() {
		for _, h := range handlers {
			h(e)
		}
	})
}

// Check reports err when it is a permission rejection and returns it wrapped in
// a *PermissionError. Any other error is returned unchanged.
func (r *Reporter) Check(op directory.Operation, path string, data directory.Data, err error) error {
	if err == nil || !directory.IsPermissionDenied(err) {
		return err
	}

	e := PermissionError{Path: path, Operation: op, AttemptedData: data, Err: err}
	r.Emit(e)

	return &e
}

// Close waits for queued deliveries and stops the worker. Later emissions are
// only logged.
func (r *Reporter) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.pool.StopWait()
}
