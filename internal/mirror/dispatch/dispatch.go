// Package dispatch funnels notifications from every producer into one serial
// worker, the only goroutine allowed to mutate the metadata store.
//
// Producers (the watcher, reconciliation sweeps, the CLI) call Submit from
// any goroutine. Submit stamps a sequence number and enqueues; the worker
// started by Run applies notifications strictly in that order. Flush is a
// barrier: it returns once everything submitted before it has been applied.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/osfoffline/osfsync/internal/metrics"
	"github.com/osfoffline/osfsync/internal/mirror/events"
	"github.com/osfoffline/osfsync/internal/mirror/schema"
)

// ErrStopped is returned by Submit and Flush once the worker has exited.
var ErrStopped = errors.New("dispatch bridge stopped")

// Handler applies one notification. The translator implements it.
type Handler interface {
	Apply(ctx context.Context, n events.Notification) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, n events.Notification) error

// Apply implements Handler.
func (f HandlerFunc) Apply(ctx context.Context, n events.Notification) error {
	return f(ctx, n)
}

// Observer is called by the worker after every notification, with the
// handler's result. Observers run on the worker goroutine and must not block.
type Observer func(n events.Notification, err error, elapsed time.Duration)

// item is a queued notification or, when barrier is set, a Flush marker.
type item struct {
	n       events.Notification
	barrier chan struct{}
}

// Bridge is the single-writer handoff between producers and the handler.
type Bridge struct {
	handler Handler
	log     logrus.FieldLogger
	queue   chan item

	// mu orders sequence assignment with enqueueing.
	mu  sync.Mutex
	seq uint64

	obsMu     sync.RWMutex
	observers []Observer

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Bridge with a queue of size buffered notifications. The
// worker does not run until Run is called.
func New(handler Handler, log logrus.FieldLogger, size int) *Bridge {
	if size <= 0 {
		size = 1
	}
	return &Bridge{
		handler: handler,
		log:     log.WithField("component", "dispatch"),
		queue:   make(chan item, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Observe registers an observer for every applied notification.
func (b *Bridge) Observe(o Observer) {
	b.obsMu.Lock()
	defer b.obsMu.Unlock()
	b.observers = append(b.observers, o)
}

// Submit assigns n the next sequence number and enqueues it. It blocks while
// the queue is full.
func (b *Bridge) Submit(ctx context.Context, n events.Notification) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped() {
		return ErrStopped
	}
	n.Seq = b.seq + 1
	select {
	case b.queue <- item{n: n}:
		b.seq = n.Seq
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	metrics.RecordSubmitted(n.Kind.String(), n.Synthetic)
	metrics.SetQueueDepth(len(b.queue))
	return nil
}

// Flush waits until every notification submitted before the call has been
// applied.
func (b *Bridge) Flush(ctx context.Context) error {
	barrier := make(chan struct{})

	b.mu.Lock()
	if b.stopped() {
		b.mu.Unlock()
		return ErrStopped
	}
	select {
	case b.queue <- item{barrier: barrier}:
	case <-b.done:
		b.mu.Unlock()
		return ErrStopped
	case <-ctx.Done():
		b.mu.Unlock()
		return ctx.Err()
	}
	b.mu.Unlock()

	select {
	case <-barrier:
		return nil
	case <-b.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submitted returns the last sequence number assigned.
func (b *Bridge) Submitted() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.seq
}

// Run is the worker loop. It blocks until ctx is cancelled or Stop is called.
// Handler errors are logged and never stop the loop.
func (b *Bridge) Run(ctx context.Context) error {
	defer close(b.done)
	b.log.Debug("worker started")

	for {
		select {
		case <-ctx.Done():
			b.log.Debug("worker stopped")
			return ctx.Err()
		case <-b.stop:
			b.log.Debug("worker stopped")
			return nil
		case it := <-b.queue:
			metrics.SetQueueDepth(len(b.queue))
			if it.barrier != nil {
				close(it.barrier)
				continue
			}
			b.apply(ctx, it.n)
		}
	}
}

// Stop makes Run return. Queued notifications are discarded; the next sweep
// recovers anything they would have changed.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() { close(b.stop) })
}

func (b *Bridge) stopped() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Done is closed when the worker has exited.
func (b *Bridge) Done() <-chan struct{} {
	return b.done
}

func (b *Bridge) apply(ctx context.Context, n events.Notification) {
	start := time.Now()
	err := b.safeApply(ctx, n)
	elapsed := time.Since(start)

	res := Result(err)
	log := b.log.WithFields(logrus.Fields{"seq": n.Seq, "kind": n.Kind.String(), "path": n.SrcPath, "result": res})
	switch res {
	case ResultApplied:
		log.Debug("notification applied")
	case ResultTransient:
		log.WithError(err).Debug("notification abandoned")
	case ResultDropped, ResultRejected:
		log.WithError(err).Info("notification dropped")
	default:
		log.WithError(err).Error("failed to apply notification")
	}

	metrics.RecordApplied(n.Kind.String(), res, elapsed)

	b.obsMu.RLock()
	defer b.obsMu.RUnlock()
	for _, o := range b.observers {
		o(n, err, elapsed)
	}
}

// safeApply keeps a panicking handler from killing the worker.
func (b *Bridge) safeApply(ctx context.Context, n events.Notification) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return b.handler.Apply(ctx, n)
}

// Outcome labels for Result.
const (
	ResultApplied   = "applied"
	ResultTransient = "transient"
	ResultDropped   = "dropped"
	ResultRejected  = "rejected"
	ResultFailed    = "failed"
)

// Result classifies a handler error for logs and metrics.
func Result(err error) string {
	switch {
	case err == nil:
		return ResultApplied
	case errors.Is(err, schema.ErrTransientSource):
		return ResultTransient
	case errors.Is(err, schema.ErrNotFound):
		return ResultDropped
	case errors.Is(err, schema.ErrInvalidOperation):
		return ResultRejected
	default:
		return ResultFailed
	}
}
