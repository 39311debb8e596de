package batch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrClosed is returned by Close when the batcher was already closed.
var ErrClosed = errors.New("batcher closed")

// FlushFunc processes one batch. The slice is only valid for the duration of
// the call.
type FlushFunc[T any] func(ctx context.Context, items []T) error

// Batcher collects items from a bounded queue and hands them to a FlushFunc
// when batchSize items are pending or batchInterval elapses. Offer never
// blocks: when the queue is full the item is dropped and counted.
type Batcher[T any] struct {
	batchSize     int
	batchInterval time.Duration
	queue         chan T
	flush         FlushFunc[T]
	onError       func(err error, items int)

	stopChan chan struct{}
	done     chan struct{}
	once     sync.Once

	// closeMu keeps Offer from sending on a queue that run has stopped
	// draining.
	closeMu sync.RWMutex
	closed  bool

	dropped atomic.Int64
	failed  atomic.Int64
	flushed atomic.Int64
}

// Option configures a Batcher.
type Option[T any] func(*Batcher[T])

// WithErrorHandler is called after every failed flush with the error and the
// size of the lost batch.
func WithErrorHandler[T any](fn func(err error, items int)) Option[T] {
	return func(b *Batcher[T]) {
		b.onError = fn
	}
}

// NewBatcher creates a batcher and starts its flush loop.
func NewBatcher[T any](queueSize, batchSize int, batchInterval time.Duration, flush FlushFunc[T], opts ...Option[T]) *Batcher[T] {
	if queueSize <= 0 {
		queueSize = 1
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if batchInterval <= 0 {
		batchInterval = time.Second
	}

	b := &Batcher[T]{
		batchSize:     batchSize,
		batchInterval: batchInterval,
		queue:         make(chan T, queueSize),
		flush:         flush,
		stopChan:      make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()

	return b
}

// Offer enqueues item and reports whether it was accepted.
func (b *Batcher[T]) Offer(item T) bool {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()

	if b.closed {
		b.dropped.Add(1)
		return false
	}

	select {
	case b.queue <- item:
		return true
	default:
		b.dropped.Add(1)
		return false
	}
}

func (b *Batcher[T]) run() {
	defer close(b.done)

	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	pending := make([]T, 0, b.batchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		b.process(pending)
		pending = pending[:0]
	}

	for {
		select {
		case item := <-b.queue:
			pending = append(pending, item)
			if len(pending) >= b.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-b.stopChan:
			// Final drain on stop
			for {
				select {
				case item := <-b.queue:
					pending = append(pending, item)
					if len(pending) >= b.batchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (b *Batcher[T]) process(items []T) {
	if err := b.flush(context.Background(), items); err != nil {
		b.failed.Add(int64(len(items)))
		if b.onError != nil {
			b.onError(err, len(items))
		}
		return
	}
	b.flushed.Add(int64(len(items)))
}

// Close stops accepting items, flushes what is queued and waits for the
// flush loop to exit or ctx to expire.
func (b *Batcher[T]) Close(ctx context.Context) error {
	err := ErrClosed
	b.once.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		b.closeMu.Unlock()
		close(b.stopChan)
		err = nil
	})
	if err != nil {
		return err
	}

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// PendingCount returns the number of queued items not yet taken by the flush
// loop.
func (b *Batcher[T]) PendingCount() int {
	return len(b.queue)
}

func (b *Batcher[T]) Dropped() int64 { return b.dropped.Load() }
func (b *Batcher[T]) Failed() int64  { return b.failed.Load() }
func (b *Batcher[T]) Flushed() int64 { return b.flushed.Load() }
