// Package timer implements the bounded waits of the protocol loop and the
// serial reader: wait for a value until a deadline or a stop signal.
package timer

import (
	"sync"
	"time"
)

// Result tells how a Receive ended.
type Result uint8

const (
	// Received means a value was taken from the channel.
	Received Result = iota
	// Expired means the wait ran out.
	Expired
	// Stopped means the stop channel was closed.
	Stopped
)

func (r Result) String() string {
	switch r {
	case Received:
		return "received"
	case Expired:
		return "expired"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Timers are reused across waits; the engine arms one per idle gap and the
// serial reader one per read. With Go 1.23 timer semantics a stopped timer
// never delivers a stale tick after Reset.
var pool sync.Pool

func acquire(d time.Duration) *time.Timer {
	if t, ok := pool.Get().(*time.Timer); ok {
		t.Reset(d)
		return t
	}
	return time.NewTimer(d)
}

func release(t *time.Timer) {
	t.Stop()
	pool.Put(t)
}

// Receive waits at most d for a value on ch. It returns Stopped as soon as
// stop is closed; a nil stop never fires. A non-positive d checks stop and ch
// once without waiting.
func Receive[T any](stop <-chan struct{}, ch <-chan T, d time.Duration) (T, Result) {
	var zero T

	if d <= 0 {
		select {
		case <-stop:
			return zero, Stopped
		default:
		}
		select {
		case v := <-ch:
			return v, Received
		default:
			return zero, Expired
		}
	}

	t := acquire(d)
	defer release(t)

	select {
	case <-stop:
		return zero, Stopped
	case v := <-ch:
		return v, Received
	case <-t.C:
		return zero, Expired
	}
}
