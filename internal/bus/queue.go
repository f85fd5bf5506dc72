package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrQueueClosed is returned by Send once the receiving side is gone.
	ErrQueueClosed = errors.New("dispatch queue closed")

	// ErrQueueFull is returned by Send under OverflowDropNewest when the queue has no room.
	ErrQueueFull = errors.New("dispatch queue full")
)

// OverflowPolicy decides what Send does when the queue is at capacity.
type OverflowPolicy string

const (
	OverflowBlock      OverflowPolicy = "block"       // suspend the sender until room is available
	OverflowDropNewest OverflowPolicy = "drop_newest" // reject the unit being sent
	OverflowDropOldest OverflowPolicy = "drop_oldest" // evict the head, then enqueue
)

// DefaultQueueCapacity matches the hand-off size used between the flush
// scheduler and the processor.
const DefaultQueueCapacity = 100

// ParseOverflowPolicy maps a config string to an OverflowPolicy.
// Empty selects OverflowBlock.
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch OverflowPolicy(s) {
	case "", OverflowBlock:
		return OverflowBlock, nil
	case OverflowDropNewest:
		return OverflowDropNewest, nil
	case OverflowDropOldest:
		return OverflowDropOldest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

// Queue is a bounded FIFO hand-off of FlushedUnits from the flush scheduler
// to the processor. Safe for concurrent use.
type Queue struct {
	ch     chan FlushedUnit
	policy OverflowPolicy

	closed    chan struct{}
	closeOnce sync.Once

	// evictMu serializes drop-oldest eviction so two senders cannot both
	// evict for a single free slot.
	evictMu sync.Mutex
	onEvict func(FlushedUnit)
}

// NewQueue creates a dispatch queue. A non-positive capacity selects
// DefaultQueueCapacity.
func NewQueue(capacity int, policy OverflowPolicy) *Queue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if policy == "" {
		policy = OverflowBlock
	}
	return &Queue{
		ch:     make(chan FlushedUnit, capacity),
		policy: policy,
		closed: make(chan struct{}),
	}
}

// OnEvict registers a callback invoked for every unit evicted under
// OverflowDropOldest. Must be set before the queue is shared.
func (q *Queue) OnEvict(fn func(FlushedUnit)) { q.onEvict = fn }

// Policy returns the configured overflow policy.
func (q *Queue) Policy() OverflowPolicy { return q.policy }

// Len returns the number of units waiting to be received.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Send enqueues a unit according to the overflow policy.
// It fails with ErrQueueClosed once Close has been called.
func (q *Queue) Send(ctx context.Context, u FlushedUnit) error {
	select {
	case <-q.closed:
		return ErrQueueClosed
	default:
	}

	switch q.policy {
	case OverflowDropNewest:
		select {
		case q.ch <- u:
			return nil
		default:
			return ErrQueueFull
		}

	case OverflowDropOldest:
		q.evictMu.Lock()
		defer q.evictMu.Unlock()
		for {
			select {
			case <-q.closed:
				return ErrQueueClosed
			default:
			}
			select {
			case q.ch <- u:
				return nil
			default:
			}
			select {
			case old := <-q.ch:
				if q.onEvict != nil {
					q.onEvict(old)
				}
			default:
				// Receiver drained it between our attempts; retry the send.
			}
		}

	default:
		select {
		case q.ch <- u:
			return nil
		case <-q.closed:
			return ErrQueueClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Receive blocks until a unit is available, the queue is closed, or ctx is done.
// ok is false in the latter two cases.
func (q *Queue) Receive(ctx context.Context) (FlushedUnit, bool) {
	select {
	case u := <-q.ch:
		return u, true
	case <-q.closed:
		return FlushedUnit{}, false
	case <-ctx.Done():
		return FlushedUnit{}, false
	}
}

// Close marks the receiving side as permanently gone. Pending and future
// sends fail with ErrQueueClosed. Idempotent.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}
