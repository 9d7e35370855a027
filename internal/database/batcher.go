package database

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultFlushInterval bounds how long a partial batch waits
	DefaultFlushInterval = time.Second

	finalFlushTimeout = 5 * time.Second
)

// FlushFunc writes one batch. The slice is reused after it returns.
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// Batcher accumulates values and hands them to a FlushFunc when the batch is
// full or the flush interval elapses. A failed batch is logged and discarded.
type Batcher[T any] struct {
	name     string
	size     int
	interval time.Duration
	flush    FlushFunc[T]
	log      *slog.Logger

	in      chan T
	batch   []T
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	once    sync.Once
	lastErr error

	dropped atomic.Uint64
	flushed atomic.Uint64
}

// NewBatcher creates a stopped batcher. The queue holds two batches.
func NewBatcher[T any](name string, size int, interval time.Duration, flush FlushFunc[T], log *slog.Logger) *Batcher[T] {
	if size <= 0 {
		size = 1
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Batcher[T]{
		name:     name,
		size:     size,
		interval: interval,
		flush:    flush,
		log:      log.With("component", "recorder", "recorder", name),
		in:       make(chan T, size*2),
		batch:    make([]T, 0, size),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start launches the write loop. Later calls do nothing.
func (b *Batcher[T]) Start() {
	if b.started.CompareAndSwap(false, true) {
		go b.writeLoop()
	}
}

// Write queues v, dropping it when the queue is full
func (b *Batcher[T]) Write(v T) bool {
	select {
	case b.in <- v:
		return true
	default:
		if n := b.dropped.Add(1); n == 1 || n%1000 == 0 {
			b.log.Warn("batch queue full, dropping record", "dropped", n)
		}
		return false
	}
}

// Close stops the loop and flushes whatever is still queued. It returns the
// error of that final flush.
func (b *Batcher[T]) Close() error {
	b.once.Do(func() {
		b.cancel()
		if b.started.Load() {
			<-b.done
		} else {
			b.drain()
		}
	})
	return b.lastErr
}

// Dropped counts records discarded on a full queue
func (b *Batcher[T]) Dropped() uint64 { return b.dropped.Load() }

// Flushed counts records handed to a successful flush
func (b *Batcher[T]) Flushed() uint64 { return b.flushed.Load() }

func (b *Batcher[T]) writeLoop() {
	defer close(b.done)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			b.drain()
			return

		case v := <-b.in:
			b.batch = append(b.batch, v)
			if len(b.batch) >= b.size {
				b.write(b.ctx)
			}

		case <-ticker.C:
			b.write(b.ctx)
		}
	}
}

// drain moves everything queued into the batch and flushes it on a fresh
// context, since the loop's own has been cancelled
func (b *Batcher[T]) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	for {
		select {
		case v := <-b.in:
			b.batch = append(b.batch, v)
			if len(b.batch) >= b.size {
				if err := b.write(ctx); err != nil {
					b.lastErr = err
				}
			}
		default:
			if err := b.write(ctx); err != nil {
				b.lastErr = err
			}
			return
		}
	}
}

func (b *Batcher[T]) write(ctx context.Context) error {
	if len(b.batch) == 0 {
		return nil
	}
	n := len(b.batch)
	err := b.flush(ctx, b.batch)
	b.batch = b.batch[:0]
	if err != nil {
		b.log.Error("flush failed, batch discarded", "records", n, "error", err)
		return err
	}
	b.flushed.Add(uint64(n))
	b.log.Debug("flushed batch", "records", n)
	return nil
}
