package events

import (
	"context"
	"errors"
	"sync"

	"github.com/linnemanlabs/go-core/log"
)

// DefaultQueueSize is the number of events an Async publisher buffers.
const DefaultQueueSize = 256

var (
	// ErrQueueFull is returned when an event is dropped because the queue is full.
	ErrQueueFull = errors.New("event queue full")
	// ErrClosed is returned by Publish after Close.
	ErrClosed = errors.New("event publisher closed")
)

type queued struct {
	ctx context.Context
	ev  Event
}

// Async hands events to a background worker so Publish never waits on a sink.
// Events are delivered in order; Close drains whatever is still queued.
type Async struct {
	next   Publisher
	logger log.Logger
	queue  chan queued
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsync starts the worker delivering to next. A size of zero or less uses
// DefaultQueueSize.
func NewAsync(next Publisher, size int, logger log.Logger) *Async {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if logger == nil {
		logger = log.Nop()
	}
	a := &Async{
		next:   next,
		logger: logger,
		queue:  make(chan queued, size),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Publish enqueues ev without blocking. The request context is kept for its
// values only, so a caller returning early does not cancel delivery.
func (a *Async) Publish(ctx context.Context, ev Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.queue <- queued{ctx: context.WithoutCancel(ctx), ev: ev}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (a *Async) loop() {
	defer close(a.done)
	for q := range a.queue {
		Emit(q.ctx, a.next, a.logger, q.ev)
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
