// Package worker runs background tasks on a bounded pool. Submissions wait
// for queue space instead of spawning unbounded goroutines, and every task
// runs under its own timeout derived from a cancellable base context.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrQueueClosed is returned by Submit once Stop has been called.
var ErrQueueClosed = errors.New("task queue closed")

// Task is a unit of background work. It must honor ctx.
type Task func(ctx context.Context) error

// Options sizes the pool.
type Options struct {
	Workers     int           // concurrent tasks, >= 1
	QueueSize   int           // buffered tasks beyond those running; 0 means hand-off only
	TaskTimeout time.Duration // per task; <= 0 disables the timeout
}

// Queue is a fixed-size worker pool fed by a bounded channel.
type Queue struct {
	opts  Options
	tasks chan Task

	mu      sync.RWMutex // held shared by Submit, exclusively by Stop
	closing chan struct{}
	drain   chan struct{}
	once    sync.Once
	stop    sync.Once

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an idle queue; call Start to launch workers.
func New(opts Options) *Queue {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	return &Queue{
		opts:    opts,
		tasks:   make(chan Task, opts.QueueSize),
		closing: make(chan struct{}),
		drain:   make(chan struct{}),
	}
}

// Start launches the workers. Task contexts derive from ctx, so cancelling
// it aborts everything in flight. Calling Start again has no effect.
func (q *Queue) Start(ctx context.Context) {
	q.once.Do(func() {
		q.base, q.cancel = context.WithCancel(ctx)
		for i := 0; i < q.opts.Workers; i++ {
			q.wg.Add(1)
			go q.loop()
		}
	})
}

// Submit enqueues t, waiting for space until ctx is done.
func (q *Queue) Submit(ctx context.Context, t Task) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	select {
	case <-q.closing:
		return ErrQueueClosed
	default:
	}

	select {
	case q.tasks <- t:
		queueDepth.Inc()
		return nil
	case <-q.closing:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new tasks, lets workers finish everything already queued and
// waits for them. If ctx ends first, in-flight tasks are cancelled and
// ctx.Err() is returned.
func (q *Queue) Stop(ctx context.Context) error {
	q.stop.Do(func() {
		close(q.closing)
		// Wait out Submits that may still be sending.
		q.mu.Lock()
		close(q.drain)
		q.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if q.cancel != nil {
			q.cancel()
		}
		return nil
	case <-ctx.Done():
		if q.cancel != nil {
			q.cancel()
		}
		return ctx.Err()
	}
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case t := <-q.tasks:
			q.run(t)
		case <-q.drain:
			for {
				select {
				case t := <-q.tasks:
					q.run(t)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) run(t Task) {
	queueDepth.Dec()
	tasksInflight.Inc()
	start := time.Now()
	defer func() {
		tasksInflight.Dec()
		taskDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := q.base, context.CancelFunc(func() {})
	if q.opts.TaskTimeout > 0 {
		ctx, cancel = context.WithTimeout(q.base, q.opts.TaskTimeout)
	}
	defer cancel()

	err := safeRun(ctx, t)
	outcome := classify(ctx, err)
	tasksTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		log.Error().Err(err).Str("outcome", outcome).Dur("elapsed", time.Since(start)).Msg("background task failed")
	}
}

type panicError struct{ v any }

func (p panicError) Error() string { return fmt.Sprintf("task panicked: %v", p.v) }

func safeRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = panicError{v: r}
		}
	}()
	return t(ctx)
}

func classify(ctx context.Context, err error) string {
	var pe panicError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &pe):
		return "panic"
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled):
		return "canceled"
	}
	return "error"
}
