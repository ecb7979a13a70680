package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"group-adder/internal/domain"
)

var (
	// ErrQueueFull is returned when a session already has too many pending updates.
	ErrQueueFull = errors.New("handler: session queue is full")
	// ErrClosed is returned after Close has been called.
	ErrClosed = errors.New("handler: dispatcher is closed")
)

const (
	defaultQueueDepth = 16
	defaultIdle       = 5 * time.Minute
)

// Job is one unit of work run by the dispatcher.
type Job func(ctx context.Context)

// Dispatcher runs jobs serially per session and concurrently across sessions.
// A session's worker exits after it has been idle for a while.
type Dispatcher struct {
	ctx    context.Context
	g      *errgroup.Group
	depth  int
	idle   time.Duration
	logger *slog.Logger

	mu     sync.Mutex
	queues map[domain.SessionKey]chan Job
	closed bool
}

type DispatcherOption func(*Dispatcher)

func WithQueueDepth(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.depth = n
		}
	}
}

func WithIdleTimeout(idle time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if idle > 0 {
			d.idle = idle
		}
	}
}

// NewDispatcher returns a Dispatcher whose jobs observe ctx.
func NewDispatcher(ctx context.Context, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	g, gctx := errgroup.WithContext(ctx)
	d := &Dispatcher{
		ctx:    gctx,
		g:      g,
		depth:  defaultQueueDepth,
		idle:   defaultIdle,
		logger: logger,
		queues: map[domain.SessionKey]chan Job{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Submit queues job behind earlier jobs of the same session without blocking.
func (d *Dispatcher) Submit(key domain.SessionKey, job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	q, ok := d.queues[key]
	if !ok {
		q = make(chan Job, d.depth)
		d.queues[key] = q
		d.g.Go(func() error {
			d.work(key, q)
			return nil
		})
	}
	select {
	case q <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Go runs job immediately, outside any session queue.
func (d *Dispatcher) Go(job Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.g.Go(func() error {
		d.run(job)
		return nil
	})
	return nil
}

// Close stops accepting jobs, lets queued jobs finish and waits for every worker.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for key, q := range d.queues {
			close(q)
			delete(d.queues, key)
		}
	}
	d.mu.Unlock()
	return d.g.Wait()
}

func (d *Dispatcher) work(key domain.SessionKey, q chan Job) {
	timer := time.NewTimer(d.idle)
	defer timer.Stop()
	for {
		select {
		case job, ok := <-q:
			if !ok {
				return
			}
			d.run(job)
			timer.Reset(d.idle)
		case <-timer.C:
			if d.retire(key, q) {
				return
			}
			timer.Reset(d.idle)
		}
	}
}

// retire removes an idle queue unless a job slipped in or Close owns it.
func (d *Dispatcher) retire(key domain.SessionKey, q chan Job) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(q) > 0 {
		return false
	}
	delete(d.queues, key)
	return true
}

func (d *Dispatcher) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", "err", fmt.Errorf("%v", r))
		}
	}()
	job(d.ctx)
}
