// Package sequencer serializes metadata-store mutations. A Sequencer is a
// FIFO queue with a single consumer: at most one task executes at a time,
// tasks complete in submission order, and a failing task is delivered only to
// its own waiter. Reads bypass the queue entirely.
//
// This is a process-local primitive, not a distributed lock; it does not
// coordinate writers in other processes.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/CaviraOSS/openmemory-go/internal/config"
)

var ErrClosed = errors.New("sequencer closed")

// ErrTaskTimeout marks a task that exceeded the per-task deadline. The queue
// keeps draining; without this guard a backend call that never resolves would
// hold up every later write.
var ErrTaskTimeout = errors.New("sequencer task timed out")

// Task is one queued mutation.
type Task func(ctx context.Context) (any, error)

type result struct {
	value any
	err   error
}

type queued struct {
	ctx context.Context
	fn  Task
	out chan result
}

type Sequencer struct {
	tasks   chan queued
	delay   time.Duration
	timeout time.Duration
	logger  *logrus.Logger

	// mu guards closed and fences Close against in-flight enqueues: Do sends
	// on tasks while holding the read side, Close flips closed and closes the
	// channel under the write side, so the channel can never be closed while a
	// sender is parked on it.
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func New(cfg config.WriteConfig, logger *logrus.Logger) *Sequencer {
	if logger == nil {
		logger = logrus.New()
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	s := &Sequencer{
		tasks:   make(chan queued, size),
		delay:   cfg.Delay,
		timeout: cfg.Timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Do submits fn and waits for its result. The returned error is the task's
// own error (or a timeout/cancellation); it never reflects the outcome of any
// other task in the queue.
func (s *Sequencer) Do(ctx context.Context, fn Task) (any, error) {
	q := queued{ctx: ctx, fn: fn, out: make(chan result, 1)}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	select {
	case s.tasks <- q:
		s.mu.RUnlock()
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-q.out:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Len reports the number of tasks waiting in the queue.
func (s *Sequencer) Len() int {
	return len(s.tasks)
}

// Close stops accepting tasks, drains the queue, and waits for the consumer
// to exit. Taking the write lock first means Close waits for any Do parked on
// a full queue to finish its send before the channel is closed.
func (s *Sequencer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.tasks)
	s.mu.Unlock()
	<-s.done
}

func (s *Sequencer) run() {
	defer close(s.done)
	for q := range s.tasks {
		if err := q.ctx.Err(); err != nil {
			q.out <- result{err: err}
			continue
		}
		q.out <- s.execute(q)
		if s.delay > 0 {
			time.Sleep(s.delay)
		}
	}
}

// execute runs one task under the per-task timeout. The task function runs in
// its own goroutine so a hung backend call cannot stall the consumer; its
// eventual return is discarded once the deadline passes.
func (s *Sequencer) execute(q queued) result {
	ctx := q.ctx
	cancel := func() {}
	if s.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("sequencer task panic: %v", r)}
			}
		}()
		v, err := q.fn(ctx)
		ch <- result{value: v, err: err}
	}()

	select {
	case r := <-ch:
		return r
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			s.logger.WithField("timeout", s.timeout).Warn("write task timed out, continuing queue")
			return result{err: ErrTaskTimeout}
		}
		return result{err: ctx.Err()}
	}
}
