// Package worker runs audits in the background on a bounded pool. Every
// submission returns a Handle the caller can wait on.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrRunnerClosed = errors.New("runner is shut down")
	ErrNotStarted   = errors.New("runner has not been started")
	ErrQueueFull    = errors.New("audit queue is full")
)

// defaultCancelGrace is how long Shutdown waits for cancelled runs to return
// once its own deadline has passed.
const defaultCancelGrace = 2 * time.Second

// RunFunc processes one audit.
type RunFunc func(ctx context.Context, auditID string) error

// Handle tracks one submitted audit.
type Handle struct {
	AuditID string
	done    chan struct{}
	err     error
}

// Done is closed once the audit run has returned.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes or ctx is done.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the run's error. Only meaningful after Done is closed.
func (h *Handle) Err() error {
	select {
	case <-h.done:
		return h.err
	default:
		return nil
	}
}

// Runner feeds submitted audit ids to a fixed number of workers.
type Runner struct {
	run     RunFunc
	workers int
	queue   chan *Handle
	logger  *slog.Logger
	grace   time.Duration

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

type Option func(*Runner)

func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.queue = make(chan *Handle, n)
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithCancelGrace bounds the wait for cancelled runs after a Shutdown
// deadline. Runs still going after that are abandoned.
func WithCancelGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.grace = d
		}
	}
}

func New(run RunFunc, opts ...Option) *Runner {
	r := &Runner{
		run:     run,
		workers: 4,
		queue:   make(chan *Handle, 64),
		logger:  slog.Default(),
		grace:   defaultCancelGrace,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start launches the workers. Runs see ctx's values but not its
// cancellation: only a Shutdown whose deadline passes cancels them.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started || r.closed {
		return
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(context.WithoutCancel(ctx))
	for i := range r.workers {
		r.wg.Add(1)
		go r.loop(ctx, i)
	}
}

// Submit enqueues an audit without blocking. Work is only accepted between
// Start and Shutdown.
func (r *Runner) Submit(auditID string) (*Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, ErrRunnerClosed
	}
	if !r.started {
		return nil, ErrNotStarted
	}
	h := &Handle{AuditID: auditID, done: make(chan struct{})}
	select {
	case r.queue <- h:
		return h, nil
	default:
		return nil, ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for queued and running audits.
// When ctx ends first, runs are cancelled and Shutdown waits at most the
// cancel grace for them before returning ctx's error.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	started := r.started
	r.mu.Unlock()
	if !started {
		return nil
	}

	drained := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		t := time.NewTimer(r.grace)
		defer t.Stop()
		select {
		case <-drained:
		case <-t.C:
			r.logger.WarnContext(ctx, "audit runs ignored cancellation, abandoning them",
				"grace", r.grace.String(),
			)
		}
		return ctx.Err()
	}
}

func (r *Runner) loop(ctx context.Context, worker int) {
	defer r.wg.Done()
	for h := range r.queue {
		h.err = r.execute(ctx, h.AuditID)
		if h.err != nil {
			r.logger.WarnContext(ctx, "audit run returned error",
				"audit_id", h.AuditID,
				"worker", worker,
				"error", h.err,
			)
		}
		close(h.done)
	}
}

func (r *Runner) execute(ctx context.Context, auditID string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("audit run panicked: %v", rec)
		}
	}()
	return r.run(ctx, auditID)
}
