package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PushDrainOrder(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(1, 2))
	require.NoError(t, q.Push(3))
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, []int{1, 2, 3}, q.Drain())
	assert.Empty(t, q.Drain())
	assert.Equal(t, 0, q.Len())
}

func TestQueue_ReadyWakesOnPush(t *testing.T) {
	q := New[string]()
	ready := q.Ready()

	select {
	case <-ready:
		t.Fatal("empty open queue must not be ready")
	default:
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = q.Push("x")
	}()

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("push did not wake reader")
	}
	assert.Equal(t, []string{"x"}, q.Drain())
}

func TestQueue_CloseAndDone(t *testing.T) {
	q := New[int]()
	require.NoError(t, q.Push(7))
	q.Close()
	q.Close()

	assert.True(t, q.Closed())
	assert.ErrorIs(t, q.Push(8), ErrClosed)
	assert.False(t, IsDone[int](q), "items still queued")

	select {
	case <-q.Ready():
	default:
		t.Fatal("closed queue must be ready")
	}

	assert.Equal(t, []int{7}, q.Drain())
	assert.True(t, IsDone[int](q))
}

func TestQueue_CloseEmptyIsDone(t *testing.T) {
	q := New[int]()
	q.Close()
	assert.True(t, IsDone[int](q))
	assert.Empty(t, q.Drain())
}

func TestWait(t *testing.T) {
	q := New[int]()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, Wait[int](ctx, q), context.DeadlineExceeded)

	require.NoError(t, q.Push(1))
	assert.NoError(t, Wait[int](context.Background(), q))
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	q := New[int]()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_ = q.Push(i)
		}
		q.Close()
	}()

	var got []int
	for !IsDone[int](q) {
		require.NoError(t, Wait[int](context.Background(), q))
		got = append(got, q.Drain()...)
	}
	wg.Wait()

	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}
