package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	model "github.com/okian/slotrace/internal/domain/model"
)

func arrival(stream int, slot uint64) model.ArrivalEvent {
	return model.ArrivalEvent{Stream: model.StreamID(stream), Slot: slot, TimestampNS: int64(slot)}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity[model.ArrivalEvent](2))
	ctx := context.Background()

	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.Enqueue(ctx, arrival(0, 1)) {
		t.Error("expected enqueue to succeed")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	ev := <-q.Dequeue()
	if ev.Slot != 1 {
		t.Errorf("expected slot 1, got %d", ev.Slot)
	}
	if l := q.Len(); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if q.Cap() != 2 {
		t.Errorf("expected capacity 2, got %d", q.Cap())
	}
}

func TestInMemoryQueue_TryEnqueueDropsWhenFull(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity[model.LifecycleEvent](1), WithGauges[model.LifecycleEvent](false))

	if !q.TryEnqueue(model.LifecycleEvent{State: model.StateConnecting}) {
		t.Fatal("expected first try to succeed")
	}
	if q.TryEnqueue(model.LifecycleEvent{State: model.StateConnected}) {
		t.Error("expected try to fail when full")
	}
	if l := q.Len(); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}
}

func TestInMemoryQueue_EnqueueWaitsForRoom(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity[model.ArrivalEvent](1))
	ctx := context.Background()

	if !q.Enqueue(ctx, arrival(0, 1)) {
		t.Fatal("expected enqueue to succeed")
	}

	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(ctx, arrival(0, 2)) }()

	select {
	case <-done:
		t.Fatal("expected enqueue to block while full")
	case <-time.After(50 * time.Millisecond):
	}

	<-q.Dequeue()
	select {
	case ok := <-done:
		if !ok {
			t.Error("expected blocked enqueue to succeed once room is available")
		}
	case <-time.After(time.Second):
		t.Fatal("blocked enqueue never completed")
	}
	if ev := <-q.Dequeue(); ev.Slot != 2 {
		t.Errorf("expected slot 2, got %d", ev.Slot)
	}
}

func TestInMemoryQueue_EnqueueCancelled(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity[model.ArrivalEvent](1))
	ctx, cancel := context.WithCancel(context.Background())

	q.Enqueue(ctx, arrival(0, 1))
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if q.Enqueue(ctx, arrival(0, 2)) {
		t.Error("expected enqueue to fail after cancellation")
	}
}

func TestInMemoryQueue_CloseReleasesBlockedProducers(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity[model.ArrivalEvent](1))
	ctx := context.Background()
	q.Enqueue(ctx, arrival(0, 1))

	done := make(chan bool, 1)
	go func() { done <- q.Enqueue(ctx, arrival(0, 2)) }()
	time.Sleep(20 * time.Millisecond)

	if err := q.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	select {
	case ok := <-done:
		if ok {
			t.Error("expected blocked enqueue to fail on close")
		}
	case <-time.After(time.Second):
		t.Fatal("close did not release blocked producer")
	}

	// The buffered value is still drained before the channel closes.
	var got []uint64
	for ev := range q.Dequeue() {
		got = append(got, ev.Slot)
	}
	if len(got) != 1 || got[0] != 1 {
		t.Errorf("expected to drain slot 1, got %v", got)
	}
}

func TestInMemoryQueue_ConcurrentProducersLoseNothing(t *testing.T) {
	const (
		producers = 8
		perStream = 500
	)
	q := NewInMemoryQueue(WithCapacity[model.ArrivalEvent](16))
	ctx := context.Background()

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for s := 1; s <= perStream; s++ {
				if !q.Enqueue(ctx, arrival(id, uint64(s))) {
					t.Errorf("enqueue failed for producer %d", id)
					return
				}
			}
		}(p)
	}
	go func() {
		wg.Wait()
		_ = q.Close()
	}()

	last := make([]uint64, producers)
	count := 0
	for ev := range q.Dequeue() {
		// Per-producer order is preserved.
		if ev.Slot != last[ev.Stream]+1 {
			t.Fatalf("producer %d: expected slot %d, got %d", ev.Stream, last[ev.Stream]+1, ev.Slot)
		}
		last[ev.Stream] = ev.Slot
		count++
	}
	if count != producers*perStream {
		t.Errorf("expected %d events, got %d", producers*perStream, count)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity[model.ArrivalEvent](10))
	ctx := context.Background()

	q.Enqueue(ctx, arrival(0, 1))
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if q.Enqueue(ctx, arrival(0, 2)) || q.TryEnqueue(arrival(0, 3)) {
		t.Error("expected enqueue to fail after closing")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}
