package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct{ id string }

func (e testEvent) name() string { return "test" }

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	for _, id := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(testEvent{id: id}))
	}

	for _, want := range []string{"A", "B", "C"} {
		ev, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, ev.(testEvent).id)
	}

	_, ok := q.TryDequeue()
	assert.False(t, ok, "queue drained")
}

func TestEventQueue_SignalsWaiter(t *testing.T) {
	q := newEventQueue()

	done := make(chan string, 1)
	go func() {
		<-q.Wait()
		ev, ok := q.TryDequeue()
		if ok {
			done <- ev.(testEvent).id
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Enqueue(testEvent{id: "wake"})

	select {
	case id := <-done:
		assert.Equal(t, "wake", id)
	case <-time.After(time.Second):
		t.Fatal("waiter was not signalled")
	}
}

func TestEventQueue_CloseRefusesAndWakes(t *testing.T) {
	q := newEventQueue()
	q.Enqueue(testEvent{id: "dropped"})

	woke := make(chan struct{})
	go func() {
		<-q.Wait()
		<-q.Wait() // closed channel keeps firing
		close(woke)
	}()

	q.Close()
	q.Close() // idempotent

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("close did not wake waiter")
	}

	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(testEvent{id: "late"}))
	assert.Equal(t, 0, q.Len())
}

func TestEventQueue_ConcurrentProducers(t *testing.T) {
	q := newEventQueue()
	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(testEvent{})
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, producers*perProducer, q.Len())
	count := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		count++
	}
	assert.Equal(t, producers*perProducer, count)
}
