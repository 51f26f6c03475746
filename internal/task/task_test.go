package task

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/abrant-ru/vendista/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockLogger() *logger.MockLogger {
	m := logger.NewMockLogger()
	m.On("Debug", mock.Anything, mock.Anything).Return()
	m.On("Error", mock.Anything, mock.Anything).Return()

	return m
}

func TestManager_StartStopWait(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	var iterations atomic.Int32
	var exited atomic.Bool
	err := mgr.Start("loop", func(ctx context.Context) bool {
		iterations.Add(1)
		time.Sleep(time.Millisecond)
		return true
	}, func() { exited.Store(true) })
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return iterations.Load() > 3 }, time.Second, time.Millisecond)
	assert.Equal(t, 1, mgr.Count())

	mgr.Stop()
	assert.True(t, mgr.WaitTimeout(time.Second))
	assert.Equal(t, 0, mgr.Count())
	assert.True(t, exited.Load())
}

func TestManager_FuncEndsLoop(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	require.NoError(t, mgr.Start("once", func(ctx context.Context) bool { return false }, nil))
	mgr.Wait()
	assert.Equal(t, 0, mgr.Count())
}

func TestManager_RecoversPanic(t *testing.T) {
	l := newMockLogger()
	mgr := NewManager(context.Background(), l)

	require.NoError(t, mgr.Start("boom", func(ctx context.Context) bool {
		panic("boom")
	}, nil))

	assert.True(t, mgr.WaitTimeout(time.Second))
	l.AssertCalled(t, "Error", "panic in task loop", mock.Anything)
}

func TestManager_RestartAfterWait(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	block := func(ctx context.Context) bool {
		<-ctx.Done()
		return false
	}

	require.NoError(t, mgr.Start("first", block, nil))
	mgr.Stop()

	// not yet re-armed
	require.ErrorIs(t, mgr.Start("too-early", block, nil), ErrStopped)

	mgr.Wait()
	require.NoError(t, mgr.Start("second", block, nil))
	mgr.Stop()
	assert.True(t, mgr.WaitTimeout(time.Second))
}

func TestManager_WaitTimeoutExpires(t *testing.T) {
	mgr := NewManager(context.Background(), newMockLogger())

	release := make(chan struct{})
	require.NoError(t, mgr.Start("stuck", func(ctx context.Context) bool {
		<-release
		return false
	}, nil))

	mgr.Stop()
	assert.False(t, mgr.WaitTimeout(20*time.Millisecond))

	close(release)
	assert.True(t, mgr.WaitTimeout(time.Second))
}
