package mqtt

import (
	"sync"
	"testing"
	"time"
)

func TestDispatcherBackgroundWithoutMarshallingRunsInline(t *testing.T) {
	d := newDispatcher(BackgroundWithoutCallbackMarshalling)
	called := make(chan int, 1)
	d.dispatch(func() { called <- 1 })
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("dispatch did not run inline")
	}
}

func TestDispatcherBackgroundMarshallingSerializesCallbacks(t *testing.T) {
	d := newDispatcher(BackgroundWithCallbackMarshalling)
	defer d.stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		i := i
		d.dispatch(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		})
	}
	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued callbacks never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 {
		t.Fatalf("got %d callbacks, want 3", len(order))
	}
}

func TestDispatcherHostLoopOnlyRunsOnPoll(t *testing.T) {
	d := newDispatcher(HostLoop)
	ran := false
	d.dispatch(func() { ran = true })
	if ran {
		t.Fatal("HostLoop dispatcher ran callback before Poll")
	}
	d.Poll()
	if !ran {
		t.Fatal("Poll did not run the queued callback")
	}
}

func TestDispatcherStopDrainsThenExits(t *testing.T) {
	d := newDispatcher(BackgroundWithCallbackMarshalling)
	done := make(chan struct{})
	d.dispatch(func() { close(done) })
	d.stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued callback was dropped on stop")
	}
}
