package loop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotStarted = errors.New("loop: not started")
	ErrStopped    = errors.New("loop: stopped")
	ErrQueueFull  = errors.New("loop: queue full")
)

// Handler processes requests submitted to the loop.
type Handler[T any] interface {
	Handle(ctx context.Context, req T) error
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc[T any] func(ctx context.Context, req T) error

func (f HandlerFunc[T]) Handle(ctx context.Context, req T) error { return f(ctx, req) }

// Config controls the behaviour of the single thread loop.
type Config[T any] struct {
	Name      string
	Handler   Handler[T]
	QueueSize int
	Logger    *slog.Logger
}

// Loop delivers incoming requests to the provided handler on a single goroutine.
type Loop[T any] struct {
	name    string
	handler Handler[T]
	queue   chan T
	logger  *slog.Logger

	started atomic.Bool
	// mu guards stopped against concurrent sends on queue.
	mu      sync.RWMutex
	stopped bool

	done chan struct{}
}

// New creates a Loop with the supplied configuration.
func New[T any](cfg Config[T]) (*Loop[T], error) {
	if cfg.Handler == nil {
		return nil, errors.New("loop: handler is required")
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name != "" {
		logger = logger.With("loop", cfg.Name)
	}
	return &Loop[T]{
		name:    cfg.Name,
		handler: cfg.Handler,
		queue:   make(chan T, queueSize),
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start launches the single-thread loop. It must be called once.
func (l *Loop[T]) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return errors.New("loop: start called multiple times")
	}
	go l.run(ctx)
	return nil
}

func (l *Loop[T]) run(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			l.logger.InfoContext(ctx, "context cancelled, shutting down", "err", ctx.Err())
			return
		case req, ok := <-l.queue:
			if !ok {
				l.logger.DebugContext(ctx, "queue closed, exiting")
				return
			}
			if err := l.handler.Handle(ctx, req); err != nil {
				l.logger.WarnContext(ctx, "handler error", "err", err)
			}
		}
	}
}

// Submit enqueues a request, waiting for queue space until ctx is done.
func (l *Loop[T]) Submit(ctx context.Context, req T) error {
	if !l.started.Load() {
		return ErrNotStarted
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return ErrStopped
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case l.queue <- req:
		return nil
	}
}

// TrySubmit enqueues a request without waiting.
func (l *Loop[T]) TrySubmit(req T) error {
	if !l.started.Load() {
		return ErrNotStarted
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.stopped {
		return ErrStopped
	}
	select {
	case l.queue <- req:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop drains the loop and waits for graceful completion.
func (l *Loop[T]) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return errors.New("loop: stop called multiple times")
	}
	l.stopped = true
	close(l.queue)
	l.mu.Unlock()
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// DrainTimeout closes the queue and waits for completion with the given timeout.
func (l *Loop[T]) DrainTimeout(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return l.Stop(ctx)
}
