package mqtt

import "sync"

// dispatcher is a small
// abstraction over how a signal callback actually gets invoked, so the
// three ThreadMode values are three different dispatcher behaviors
// rather than three different code paths scattered through Client.
type dispatcher struct {
	mode ThreadMode

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []func()
	started bool
	stopped bool
}

func newDispatcher(mode ThreadMode) *dispatcher {
	d := &dispatcher{mode: mode}
	d.cond = sync.NewCond(&d.mu)
	if mode == BackgroundWithCallbackMarshalling {
		d.started = true
		go d.run()
	}
	return d
}

// dispatch delivers fn according to the configured ThreadMode:
// BackgroundWithoutCallbackMarshalling calls it immediately from the
// caller's own goroutine; the other two modes marshal it onto a single
// queue so an application's signal handlers never run concurrently with
// each other.
func (d *dispatcher) dispatch(fn func()) {
	if d.mode == BackgroundWithoutCallbackMarshalling {
		fn()
		return
	}
	d.mu.Lock()
	d.queue = append(d.queue, fn)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *dispatcher) run() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		for len(d.queue) == 0 && !d.stopped {
			d.cond.Wait()
		}
		if d.stopped && len(d.queue) == 0 {
			d.started = false
			return
		}
		fn := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()
		fn()
		d.mu.Lock()
	}
}

// Poll invokes every callback queued since the last call, in order. It
// is the host's responsibility to call this regularly under
// ThreadMode=HostLoop; for the two background modes it is a harmless
// no-op since callbacks are already delivered on their own.
func (d *dispatcher) Poll() {
	if d.mode != HostLoop {
		return
	}
	d.mu.Lock()
	pending := d.queue
	d.queue = nil
	d.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

// ensureRunning restarts the background delivery goroutine if a prior
// stop shut it down, so a Client that disconnects and later reconnects
// keeps delivering callbacks.
func (d *dispatcher) ensureRunning() {
	if d.mode != BackgroundWithCallbackMarshalling {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = false
	if !d.started {
		d.started = true
		go d.run()
	}
}

func (d *dispatcher) stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	d.cond.Signal()
	d.mu.Unlock()
}
