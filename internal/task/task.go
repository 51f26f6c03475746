// Package task runs the long-lived goroutines of a terminal and lets the
// owner cancel them and join them with a bound.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/abrant-ru/vendista/logger"
)

// ErrStopped is returned by Start once the manager has been stopped and not
// yet re-armed by Wait.
var ErrStopped = errors.New("task: manager stopped")

// Func is one iteration of a managed loop. It returns true to keep running
// and false to end the goroutine. The context is cancelled by Stop; a Func
// should check it at its own checkpoints.
type Func func(ctx context.Context) bool

// Manager manages the lifecycle of goroutines started through it.
//
// Example:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("engine", func(ctx context.Context) bool {
//	    // ... one loop iteration ...
//	    return true
//	})
//
//	mgr.Stop()
//	if !mgr.WaitTimeout(time.Second) {
//	    // goroutine still running
//	}
type Manager struct {
	pctx   context.Context
	logger logger.Logger

	mu     sync.RWMutex // protects ctx and cancel
	ctx    context.Context
	cancel context.CancelFunc

	wg    sync.WaitGroup
	count atomic.Int32
}

// NewManager creates a Manager whose tasks are cancelled when ctx is done or
// when Stop is called.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn repeatedly in a new goroutine until fn returns false or the
// manager is stopped. onExit, when not nil, runs once the goroutine ends.
//
// A panic inside fn is recovered, logged, and ends the goroutine.
func (mgr *Manager) Start(name string, fn Func, onExit func()) error {
	ctx := mgr.context()
	if ctx.Err() != nil {
		return fmt.Errorf("start %s: %w", name, ErrStopped)
	}

	mgr.logger.Debug("start task", "name", name)

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer mgr.wg.Done()
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.Count())
		}()
		if onExit != nil {
			defer onExit()
		}

		mgr.runLoop(ctx, name, fn)
	}()

	return nil
}

func (mgr *Manager) runLoop(ctx context.Context, name string, fn Func) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task loop", "name", name, "panic", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if !fn(ctx) {
				return
			}
		}
	}
}

// Stop signals all running goroutines to end. It does not wait.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.cancel != nil {
		mgr.cancel()
	}
}

// Wait blocks until every goroutine has ended, then re-arms the manager so
// that Start can be used again.
func (mgr *Manager) Wait() {
	mgr.wg.Wait()
	mgr.rearm()
}

// WaitTimeout is Wait bounded by d. It returns false when goroutines are
// still running after d; the manager is re-armed only on success.
func (mgr *Manager) WaitTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		mgr.wg.Wait()
		close(done)
	}()

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-done:
		mgr.rearm()
		return true
	case <-t.C:
		return false
	}
}

// Count returns the number of running goroutines.
func (mgr *Manager) Count() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) rearm() {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()

	if mgr.ctx.Err() != nil {
		mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	}
}
