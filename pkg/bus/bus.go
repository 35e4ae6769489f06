package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

var (
	// ErrBusClosed is returned when publishing to a closed NoticeBus.
	ErrBusClosed = errors.New("notice bus closed")
	// ErrBusFull is returned by TryPublish when no buffer slot is free.
	ErrBusFull = errors.New("notice bus full")
)

const DefaultCapacity = 64

type NoticeBus struct {
	notices chan Notice
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
}

func NewNoticeBus(capacity int) *NoticeBus {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &NoticeBus{
		notices: make(chan Notice, capacity),
		done:    make(chan struct{}),
	}
}

// Publish blocks until the notice is buffered, the bus closes or ctx ends.
func (nb *NoticeBus) Publish(ctx context.Context, n Notice) error {
	if nb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case nb.notices <- n:
		return nil
	case <-nb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish never blocks. A notice that does not fit is dropped and counted.
func (nb *NoticeBus) TryPublish(n Notice) error {
	if nb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case nb.notices <- n:
		return nil
	default:
		nb.dropped.Add(1)
		return ErrBusFull
	}
}

// Consume returns the next notice. ok is false once the bus is closed and
// drained, or ctx is done.
func (nb *NoticeBus) Consume(ctx context.Context) (Notice, bool) {
	select {
	case n := <-nb.notices:
		return n, true
	default:
	}
	select {
	case n := <-nb.notices:
		return n, true
	case <-nb.done:
		select {
		case n := <-nb.notices:
			return n, true
		default:
			return Notice{}, false
		}
	case <-ctx.Done():
		return Notice{}, false
	}
}

// Dropped reports how many notices TryPublish discarded.
func (nb *NoticeBus) Dropped() uint64 {
	return nb.dropped.Load()
}

func (nb *NoticeBus) Len() int {
	return len(nb.notices)
}

func (nb *NoticeBus) Close() {
	if nb.closed.CompareAndSwap(false, true) {
		close(nb.done)
	}
}
