package memory

import (
	"context"
	"sync"
)

// snapshotFeed delivers the most recent value; intermediate values may be
// skipped when the consumer is slower than the producer.
type snapshotFeed[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	signal chan struct{}
	out    chan T
}

func newSnapshotFeed[T any]() *snapshotFeed[T] {
	return &snapshotFeed[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
	}
}

func (f *snapshotFeed[T]) publish(v T) {
	f.mu.Lock()
	f.latest, f.has = v, true
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *snapshotFeed[T]) run(ctx context.Context, unsubscribe func()) {
	defer close(f.out)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.signal:
		}
		f.mu.Lock()
		v, ok := f.latest, f.has
		f.has = false
		f.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case f.out <- v:
		case <-ctx.Done():
			return
		}
	}
}

// batchFeed accumulates every published item and never drops any.
type batchFeed[T any] struct {
	mu      sync.Mutex
	pending []T
	signal  chan struct{}
	out     chan []T
}

func newBatchFeed[T any]() *batchFeed[T] {
	return &batchFeed[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan []T),
	}
}

func (f *batchFeed[T]) publish(items ...T) {
	if len(items) == 0 {
		return
	}
	f.mu.Lock()
	f.pending = append(f.pending, items...)
	f.mu.Unlock()
	select {
	case f.signal <- struct{}{}:
	default:
	}
}

func (f *batchFeed[T]) run(ctx context.Context, unsubscribe func()) {
	defer close(f.out)
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.signal:
		}
		f.mu.Lock()
		batch := f.pending
		f.pending = nil
		f.mu.Unlock()
		if len(batch) == 0 {
			continue
		}
		select {
		case f.out <- batch:
		case <-ctx.Done():
			return
		}
	}
}
