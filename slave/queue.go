package slave

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/abrant-ru/vendista/internal/queue"
)

// OverflowPolicy selects which event a full EventQueue discards.
type OverflowPolicy uint8

const (
	// DropOldest evicts the head of the queue to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the event being published.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("OverflowPolicy(%d)", uint8(p))
	}
}

// ParseOverflowPolicy accepts "drop-oldest" or "drop-newest".
func ParseOverflowPolicy(s string) (OverflowPolicy, error) {
	switch s {
	case "", "drop-oldest", "oldest":
		return DropOldest, nil
	case "drop-newest", "newest":
		return DropNewest, nil
	default:
		return DropOldest, fmt.Errorf("slave: unknown overflow policy %q", s)
	}
}

// defaultQueuePrealloc is the initial ring size of an unbounded queue.
const defaultQueuePrealloc = 64

// EventQueue is a FIFO of events shared by any number of terminals and
// consumers. Publish never blocks: when a bounded queue is full, one event
// is dropped according to the overflow policy.
type EventQueue struct {
	mu       sync.Mutex
	ring     *queue.Ring[Event]
	capacity int
	policy   OverflowPolicy

	// notify holds at most one wake-up for Wait.
	notify chan struct{}

	published atomic.Uint64
	dropped   atomic.Uint64
}

// NewEventQueue creates a queue holding at most capacity events.
// A capacity of zero or less means unbounded.
func NewEventQueue(capacity int, policy OverflowPolicy) *EventQueue {
	if capacity < 0 {
		capacity = 0
	}

	prealloc := capacity
	if prealloc == 0 || prealloc > defaultQueuePrealloc {
		prealloc = defaultQueuePrealloc
	}

	return &EventQueue{
		ring:     queue.NewRing[Event](prealloc),
		capacity: capacity,
		policy:   policy,
		notify:   make(chan struct{}, 1),
	}
}

// Publish appends ev. It returns false when ev itself was discarded.
func (q *EventQueue) Publish(ev Event) bool {
	q.mu.Lock()
	if q.capacity > 0 && q.ring.Len() >= q.capacity {
		q.dropped.Add(1)
		if q.policy == DropNewest {
			q.mu.Unlock()
			return false
		}
		q.ring.Pop()
	}
	q.ring.Push(ev)
	q.mu.Unlock()

	q.published.Add(1)
	q.signal()

	return true
}

// Pop removes and returns the oldest event without blocking.
func (q *EventQueue) Pop() (Event, bool) {
	q.mu.Lock()
	ev, ok := q.ring.Pop()
	q.mu.Unlock()

	return ev, ok
}

// Wait removes and returns the oldest event, blocking until one is published
// or ctx is done.
func (q *EventQueue) Wait(ctx context.Context) (Event, error) {
	for {
		q.mu.Lock()
		ev, ok := q.ring.Pop()
		more := q.ring.Len() > 0
		q.mu.Unlock()

		if ok {
			// Pass the wake-up on to another waiting consumer.
			if more {
				q.signal()
			}
			return ev, nil
		}

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.ring.Len()
}

// Capacity returns the configured bound, 0 for unbounded.
func (q *EventQueue) Capacity() int { return q.capacity }

// Policy returns the overflow policy.
func (q *EventQueue) Policy() OverflowPolicy { return q.policy }

// Published returns the number of events accepted by Publish.
func (q *EventQueue) Published() uint64 { return q.published.Load() }

// Dropped returns the number of events discarded on overflow.
func (q *EventQueue) Dropped() uint64 { return q.dropped.Load() }

func (q *EventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
