package workerpool

import (
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollect(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 4, GlobalBuffer: 16})
	defer wp.Stop()

	room := CreateRoom[int](wp, 100)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, room.NewTaskWaitForFreeSlot(func() int { return i * i }))
	}

	results := room.Collect()
	require.Len(t, results, 100)
	sort.Ints(results)
	for i, r := range results {
		assert.Equal(t, i*i, r)
	}
}

func TestDefaults(t *testing.T) {
	wp := NewWorkerPool(Config{})
	defer wp.Stop()

	assert.Positive(t, wp.WorkerCount())
	assert.Equal(t, 10000, cap(wp.taskQueue))
}

func TestNewTaskRoomFull(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 1, GlobalBuffer: 8})
	defer wp.Stop()

	room := CreateRoom[int](wp, 1)
	require.NoError(t, room.NewTask(func() int { return 1 }))

	// the single result slot is taken once the first task finished
	require.Eventually(t, func() bool { return len(room.resultChan) == 1 }, timeout, tick)
	assert.ErrorIs(t, room.NewTask(func() int { return 2 }), ErrRoomBufferFull)
	assert.Equal(t, []int{1}, room.Collect())
}

func TestStop(t *testing.T) {
	wp := NewWorkerPool(Config{WorkerCount: 2})

	var ran atomic.Int32
	room := CreateRoom[struct{}](wp, 10)
	for i := 0; i < 10; i++ {
		require.NoError(t, room.NewTaskWaitForFreeSlot(func() struct{} {
			ran.Add(1)
			return struct{}{}
		}))
	}
	assert.Len(t, room.Collect(), 10)

	wp.Stop()
	wp.Stop()
	assert.Equal(t, int32(10), ran.Load())
	assert.ErrorIs(t, room.NewTaskWaitForFreeSlot(func() struct{} { return struct{}{} }), ErrStopped)
}

const (
	timeout = time.Second
	tick    = time.Millisecond
)
